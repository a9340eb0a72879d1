package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/categorize"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/notionsync"
	"github.com/go-chi/chi/v5"
)

// Reconciler is the reconciliation engine as seen by the API.
type Reconciler interface {
	Reconcile(ctx context.Context, companyID, statementID string) (*domain.ReconciliationSummary, error)
	ConfirmMatch(ctx context.Context, companyID, txID, invoiceID string) error
	IgnoreTransaction(ctx context.Context, companyID, txID string) error
	ResetMatch(ctx context.Context, companyID, txID string) error
	Categorize(ctx context.Context, companyID, txID, category string) error
}

// Suggester proposes categories for uncategorized transactions.
type Suggester interface {
	Suggest(ctx context.Context, txs []domain.LedgerTransaction) ([]categorize.Suggestion, error)
}

// ReviewBoard mirrors review items to the bookkeepers' board.
type ReviewBoard interface {
	SyncReviews(ctx context.Context, companyID string, items []domain.ReviewItem) error
	ResolveReviews(ctx context.Context, transactionIDs []string) (notionsync.SyncStats, error)
}

// ReconcileHandler handles reconciliation runs and manual match decisions.
type ReconcileHandler struct {
	engine     Reconciler
	statements StatementReader
	queue      jobs.Publisher
	suggester  Suggester
	board      ReviewBoard
}

// NewReconcileHandler creates a new reconcile handler. queue, suggester and
// board are optional.
func NewReconcileHandler(engine Reconciler, statements StatementReader, queue jobs.Publisher, suggester Suggester, board ReviewBoard) *ReconcileHandler {
	return &ReconcileHandler{
		engine:     engine,
		statements: statements,
		queue:      queue,
		suggester:  suggester,
		board:      board,
	}
}

// Reconcile handles POST /companies/{companyID}/statements/{statementID}/reconcile.
// With ?async=true the run is queued and 202 is returned.
func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	companyID := chi.URLParam(r, "companyID")
	statementID := chi.URLParam(r, "statementID")

	if r.URL.Query().Get("async") == "true" {
		if h.queue == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Job queue not configured")
			return
		}
		job := &jobs.StatementJob{
			Type:        jobs.JobTypeReconcileStatement,
			CompanyID:   companyID,
			StatementID: statementID,
		}
		if err := h.queue.Publish(r.Context(), job); err != nil {
			writeServiceError(w, r, err, "Failed to enqueue reconciliation")
			return
		}
		middleware.WriteJSON(w, http.StatusAccepted, job)
		return
	}

	sum, err := h.engine.Reconcile(r.Context(), companyID, statementID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to reconcile statement")
		return
	}

	if h.board != nil && len(sum.Reviews) > 0 {
		if err := h.board.SyncReviews(r.Context(), companyID, sum.Reviews); err != nil {
			log.Warn().Err(err).Str("statement_id", statementID).Msg("Failed to sync review items")
		}
	}
	middleware.WriteJSON(w, http.StatusOK, sum)
}

type confirmRequest struct {
	InvoiceID string `json:"invoice_id"`
}

// ConfirmMatch handles POST /companies/{companyID}/transactions/{txID}/confirm.
func (h *ReconcileHandler) ConfirmMatch(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InvoiceID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "invoice_id is required")
		return
	}

	companyID, txID := chi.URLParam(r, "companyID"), chi.URLParam(r, "txID")
	if err := h.engine.ConfirmMatch(r.Context(), companyID, txID, req.InvoiceID); err != nil {
		writeServiceError(w, r, err, "Failed to confirm match")
		return
	}
	h.resolve(r, txID)
	h.writeTransaction(w, r, companyID, txID)
}

// IgnoreTransaction handles POST /companies/{companyID}/transactions/{txID}/ignore.
func (h *ReconcileHandler) IgnoreTransaction(w http.ResponseWriter, r *http.Request) {
	companyID, txID := chi.URLParam(r, "companyID"), chi.URLParam(r, "txID")
	if err := h.engine.IgnoreTransaction(r.Context(), companyID, txID); err != nil {
		writeServiceError(w, r, err, "Failed to ignore transaction")
		return
	}
	h.resolve(r, txID)
	h.writeTransaction(w, r, companyID, txID)
}

// ResetMatch handles POST /companies/{companyID}/transactions/{txID}/reset.
func (h *ReconcileHandler) ResetMatch(w http.ResponseWriter, r *http.Request) {
	companyID, txID := chi.URLParam(r, "companyID"), chi.URLParam(r, "txID")
	if err := h.engine.ResetMatch(r.Context(), companyID, txID); err != nil {
		writeServiceError(w, r, err, "Failed to reset match")
		return
	}
	h.writeTransaction(w, r, companyID, txID)
}

type categoryRequest struct {
	Category string `json:"category"`
}

// SetCategory handles PUT /companies/{companyID}/transactions/{txID}/category.
// An empty category clears it.
func (h *ReconcileHandler) SetCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	companyID, txID := chi.URLParam(r, "companyID"), chi.URLParam(r, "txID")
	if err := h.engine.Categorize(r.Context(), companyID, txID, req.Category); err != nil {
		writeServiceError(w, r, err, "Failed to set category")
		return
	}
	h.writeTransaction(w, r, companyID, txID)
}

// SuggestCategories handles POST /companies/{companyID}/statements/{statementID}/category-suggestions.
// Suggestions are returned only; nothing is applied.
func (h *ReconcileHandler) SuggestCategories(w http.ResponseWriter, r *http.Request) {
	if h.suggester == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Category suggestions not configured")
		return
	}

	txs, err := h.statements.ListTransactions(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "statementID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to list transactions")
		return
	}

	suggestions, err := h.suggester.Suggest(r.Context(), txs)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Category suggestion failed")
		middleware.WriteError(w, http.StatusBadGateway, "Category suggestion failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// resolve archives the review page of a decided transaction, best effort.
func (h *ReconcileHandler) resolve(r *http.Request, txID string) {
	if h.board == nil {
		return
	}
	if _, err := h.board.ResolveReviews(r.Context(), []string{txID}); err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Str("transaction_id", txID).Msg("Failed to resolve review item")
	}
}

func (h *ReconcileHandler) writeTransaction(w http.ResponseWriter, r *http.Request, companyID, txID string) {
	tx, err := h.statements.GetTransaction(r.Context(), companyID, txID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}
