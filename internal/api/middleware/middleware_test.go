package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/rs/zerolog"
)

func TestCompanyFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/companies/acme/statements", "acme"},
		{"/api/companies/acme", "acme"},
		{"/api/jobs", ""},
		{"/health", ""},
	}
	for _, tt := range tests {
		if got := companyFromPath(tt.path); got != tt.want {
			t.Errorf("companyFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLogger_RequestScopedFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	var inner zerolog.Logger
	h := RequestID(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = logger.FromContext(r.Context())
		WriteError(w, http.StatusNotFound, "nope")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/companies/acme/statements/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	inner.Info().Msg("inside")
	out := buf.String()
	for _, want := range []string{`"request_id":"req-1"`, `"company_id":"acme"`, `"status":404`, `"level":"warn"`, `"message":"inside"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("request id = %q, header = %q", seen, rec.Header().Get("X-Request-ID"))
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("RequestIDFromContext() on empty context should be empty")
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"Internal server error"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/jobs", nil))

	if called || rec.Code != http.StatusNoContent {
		t.Errorf("preflight reached handler=%v status=%d", called, rec.Code)
	}
	if strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Error("DELETE advertised")
	}
}
