package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/report"
	"github.com/go-chi/chi/v5"
)

// TaxService is the tax engine as seen by the API.
type TaxService interface {
	ComputePeriod(ctx context.Context, companyID string, period domain.Period) (*domain.Figures, error)
	GenerateReport(ctx context.Context, companyID string, reportType domain.ReportType, period domain.Period) (*domain.TaxReport, error)
	Transition(ctx context.Context, companyID, reportID string, to domain.ReportStatus) (*domain.TaxReport, error)
	GenerateCorrection(ctx context.Context, companyID, reportID string) (*domain.TaxReport, error)
}

// ReportReader is the read side of the report store.
type ReportReader interface {
	GetReport(ctx context.Context, companyID, reportID string) (*domain.TaxReport, error)
	ListReports(ctx context.Context, companyID string) ([]domain.TaxReport, error)
}

// ReportsHandler handles period figures and the tax report workflow.
type ReportsHandler struct {
	engine  TaxService
	reports ReportReader
}

func NewReportsHandler(engine TaxService, reports ReportReader) *ReportsHandler {
	return &ReportsHandler{engine: engine, reports: reports}
}

// ComputePeriod handles GET /companies/{companyID}/periods/{period}/figures.
// Nothing is stored.
func (h *ReportsHandler) ComputePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	figures, err := h.engine.ComputePeriod(r.Context(), chi.URLParam(r, "companyID"), period)
	if err != nil {
		writeServiceError(w, r, err, "Failed to compute period")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, figures)
}

type generateRequest struct {
	ReportType string `json:"report_type"`
	Period     string `json:"period"`
}

// GenerateReport handles POST /companies/{companyID}/reports.
func (h *ReportsHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	reportType, ok := domain.ParseReportType(req.ReportType)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Unknown report_type")
		return
	}
	period, err := domain.ParsePeriod(req.Period)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := h.engine.GenerateReport(r.Context(), chi.URLParam(r, "companyID"), reportType, period)
	if err != nil {
		writeServiceError(w, r, err, "Failed to generate report")
		return
	}

	log.Info().
		Str("report_id", rep.ID).
		Str("report_type", string(rep.ReportType)).
		Str("period", rep.Period.Key()).
		Msg("Tax report generated")
	middleware.WriteJSON(w, http.StatusCreated, rep)
}

// ListReports handles GET /companies/{companyID}/reports.
func (h *ReportsHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.ListReports(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to list reports")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetReport handles GET /companies/{companyID}/reports/{reportID}.
func (h *ReportsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.GetReport(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "reportID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to get report")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}

type transitionRequest struct {
	Status string `json:"status"`
}

// Transition handles POST /companies/{companyID}/reports/{reportID}/transitions.
func (h *ReportsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		middleware.WriteError(w, http.StatusBadRequest, "status is required")
		return
	}

	rep, err := h.engine.Transition(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "reportID"), domain.ReportStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, err, "Failed to change report status")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}

// GenerateCorrection handles POST /companies/{companyID}/reports/{reportID}/corrections.
func (h *ReportsHandler) GenerateCorrection(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.GenerateCorrection(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "reportID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to generate correction")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, rep)
}

// ExportReport handles GET /companies/{companyID}/reports/{reportID}/export
// and returns the filing payload.
func (h *ReportsHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.GetReport(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "reportID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to get report")
		return
	}

	payload, err := report.ToExportPayload(rep)
	if err != nil {
		writeServiceError(w, r, err, "Failed to build export payload")
		return
	}
	body, err := payload.JSON()
	if err != nil {
		writeServiceError(w, r, err, "Failed to encode export payload")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
