package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// maxStatementSize caps uploaded statement bodies.
const maxStatementSize = 10 << 20

// StatementReader is the read side of the statement store.
type StatementReader interface {
	GetStatement(ctx context.Context, companyID, statementID string) (*domain.BankStatement, error)
	ListStatements(ctx context.Context, companyID string) ([]domain.BankStatement, error)
	ListTransactions(ctx context.Context, companyID, statementID string) ([]domain.LedgerTransaction, error)
	GetTransaction(ctx context.Context, companyID, txID string) (*domain.LedgerTransaction, error)
}

// StatementsHandler handles statement import and listing.
type StatementsHandler struct {
	statements StatementReader
	importer   jobs.Importer
	queue      jobs.Publisher
}

// NewStatementsHandler creates a new statements handler. queue may be nil,
// which disables asynchronous imports.
func NewStatementsHandler(statements StatementReader, importer jobs.Importer, queue jobs.Publisher) *StatementsHandler {
	return &StatementsHandler{statements: statements, importer: importer, queue: queue}
}

type importResponse struct {
	Statement *domain.BankStatement `json:"statement"`
	Duplicate bool                  `json:"duplicate"`
}

// ImportStatement handles POST /companies/{companyID}/statements.
// The body is the raw statement file; ?format= declares its format.
func (h *StatementsHandler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	companyID := chi.URLParam(r, "companyID")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStatementSize))
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Statement too large or unreadable")
		return
	}
	if len(raw) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Empty statement body")
		return
	}

	source := r.URL.Query().Get("filename")
	if source == "" {
		source = "upload"
	}

	res := h.importer.ImportFile(r.Context(), pipeline.ImportRequest{
		CompanyID:      companyID,
		Source:         source,
		DeclaredFormat: r.URL.Query().Get("format"),
		Raw:            raw,
	})
	if res.Err != nil {
		writeServiceError(w, r, res.Err, "Failed to import statement")
		return
	}

	log.Info().
		Str("company_id", companyID).
		Str("statement_id", res.Statement.ID).
		Bool("duplicate", res.Duplicate).
		Msg("Statement imported")

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	middleware.WriteJSON(w, status, importResponse{Statement: res.Statement, Duplicate: res.Duplicate})
}

type importJobRequest struct {
	Source string `json:"source"`
	Format string `json:"format"`
}

// EnqueueImport handles POST /companies/{companyID}/statements/import-jobs.
// Only gs:// sources are accepted over HTTP.
func (h *StatementsHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Job queue not configured")
		return
	}

	var req importJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !strings.HasPrefix(req.Source, "gs://") {
		middleware.WriteError(w, http.StatusBadRequest, "source must be a gs:// URI")
		return
	}

	job := &jobs.StatementJob{
		Type:      jobs.JobTypeImportStatement,
		CompanyID: chi.URLParam(r, "companyID"),
		Source:    req.Source,
		Format:    req.Format,
	}
	if err := h.queue.Publish(r.Context(), job); err != nil {
		writeServiceError(w, r, err, "Failed to enqueue import")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// ListStatements handles GET /companies/{companyID}/statements.
func (h *StatementsHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	statements, err := h.statements.ListStatements(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to list statements")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": statements,
		"count":      len(statements),
	})
}

// GetStatement handles GET /companies/{companyID}/statements/{statementID}.
func (h *StatementsHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.statements.GetStatement(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "statementID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to get statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// ListTransactions handles GET /companies/{companyID}/statements/{statementID}/transactions.
// ?match_state= filters the result.
func (h *StatementsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.statements.ListTransactions(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "statementID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to list transactions")
		return
	}

	if state := r.URL.Query().Get("match_state"); state != "" {
		filtered := txs[:0]
		for _, tx := range txs {
			if string(tx.MatchState) == state {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}
