package gcs

import (
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"google.golang.org/api/googleapi"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://bank-in/2024/jan.sta", "bank-in", "2024/jan.sta", false},
		{"gs://bank-in/file.csv", "bank-in", "file.csv", false},
		{"gs://bank-in", "", "", true},
		{"gs://bank-in/", "", "", true},
		{"s3://bank-in/file.csv", "", "", true},
		{"/tmp/file.csv", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			b, o, err := ParseGCSURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGCSURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != tt.wantBucket || o != tt.wantObject {
				t.Errorf("ParseGCSURI() = %q, %q, want %q, %q", b, o, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"gs://bucket/folder/file.sta", "file.sta"},
		{"gs://bucket/file.csv", "file.csv"},
		{"gs://bucket", "bucket"},
	}
	for _, tt := range tests {
		if got := ExtractFilenameFromGCSURI(tt.uri); got != tt.want {
			t.Errorf("ExtractFilenameFromGCSURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestArchiveObjectName(t *testing.T) {
	st := &domain.BankStatement{
		CompanyID:     "company-1",
		AccountID:     "DE89370400440532013000",
		StatementDate: civil.Date{Year: 2024, Month: 1, Day: 31},
		ContentHash:   "deadbeef",
		SourceFormat:  "MT940",
	}
	want := "statements/company-1/DE89370400440532013000/2024-01-31/deadbeef.sta"
	if got := ArchiveObjectName(st); got != want {
		t.Errorf("ArchiveObjectName() = %q, want %q", got, want)
	}

	st.SourceFormat = "CAMT053"
	if got := ArchiveObjectName(st); got[len(got)-4:] != ".xml" {
		t.Errorf("ArchiveObjectName() = %q, want .xml suffix", got)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	if !isPreconditionFailed(&googleapi.Error{Code: 412}) {
		t.Error("412 should be a precondition failure")
	}
	if isPreconditionFailed(&googleapi.Error{Code: 403}) || isPreconditionFailed(errors.New("x")) || isPreconditionFailed(nil) {
		t.Error("unexpected precondition failure")
	}
}
