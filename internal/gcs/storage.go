// Package gcs reads statement sources from Cloud Storage and keeps an
// append-only archive of imported statement files.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"google.golang.org/api/googleapi"
)

// StorageService is the object storage surface used by the import pipeline
// and the CLI.
type StorageService interface {
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
	ArchiveStatement(ctx context.Context, st *domain.BankStatement, raw []byte) (string, error)
}

// GCSStorageService talks to Google Cloud Storage through one shared client.
type GCSStorageService struct {
	client        *storage.Client
	archiveBucket string
}

var _ StorageService = (*GCSStorageService)(nil)

// NewGCSStorageService creates a client using Application Default
// Credentials. archiveBucket may be empty when archiving is not used.
func NewGCSStorageService(ctx context.Context, archiveBucket string) (*GCSStorageService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStorageService: creating storage client: %w", err)
	}
	return &GCSStorageService{client: client, archiveBucket: archiveBucket}, nil
}

// Close releases the storage client.
func (s *GCSStorageService) Close() error {
	return s.client.Close()
}

// UploadFile uploads a local file to a bucket under the given object name.
func (s *GCSStorageService) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("UploadFile: copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadFile: finalize upload: %w", err)
	}
	return nil
}

// FetchFromGCS downloads the object bytes behind a gs:// URI.
func (s *GCSStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}
	return data, nil
}

// ArchiveStatement writes the raw source of an imported statement. Objects
// are never overwritten: the write only succeeds when the object does not
// exist yet, and an existing object with the same name already holds the
// same content.
func (s *GCSStorageService) ArchiveStatement(ctx context.Context, st *domain.BankStatement, raw []byte) (string, error) {
	if s.archiveBucket == "" {
		return "", fmt.Errorf("ArchiveStatement: no archive bucket configured")
	}
	name := ArchiveObjectName(st)
	uri := "gs://" + s.archiveBucket + "/" + name

	obj := s.client.Bucket(s.archiveBucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType(st.SourceFormat)
	w.Metadata = map[string]string{
		"company_id":   st.CompanyID,
		"statement_id": st.ID,
		"account_id":   st.AccountID,
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("ArchiveStatement: writing %s: %w", uri, err)
	}
	err := w.Close()
	if isPreconditionFailed(err) {
		log := logger.FromContext(ctx)
		log.Debug().Str("uri", uri).Msg("Statement already archived")
		return uri, nil
	}
	if err != nil {
		return "", fmt.Errorf("ArchiveStatement: finalize %s: %w", uri, err)
	}
	return uri, nil
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.sta" → "file.sta"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ArchiveObjectName is statements/<company>/<account>/<date>/<hash>.<ext>.
func ArchiveObjectName(st *domain.BankStatement) string {
	return path.Join("statements", st.CompanyID, st.AccountID, st.StatementDate.String(), st.ContentHash+extension(st.SourceFormat))
}

func extension(format string) string {
	switch strings.ToUpper(format) {
	case "CSV":
		return ".csv"
	case "MT940":
		return ".sta"
	case "CAMT053":
		return ".xml"
	}
	return ".bin"
}

func contentType(format string) string {
	switch strings.ToUpper(format) {
	case "CSV":
		return "text/csv"
	case "CAMT053":
		return "application/xml"
	}
	return "text/plain"
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
