package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/store"
)

// Summary is the outcome of a reconciliation run.
type Summary = domain.ReconciliationSummary

// Store is the persistence the engine needs.
type Store interface {
	store.StatementStore
	store.ReconciliationStore
	store.InvoiceStore
}

// CategoryValidator checks a user supplied category and returns its
// canonical name.
type CategoryValidator interface {
	ValidateCategory(category string) (string, error)
}

// Engine reconciles statements. It is safe for concurrent use; runs for the
// same statement are collapsed into one.
type Engine struct {
	store      Store
	cfg        Config
	categories CategoryValidator
	group      singleflight.Group
	now        func() time.Time
}

// NewEngine creates an Engine. categories may be nil, in which case any
// non-empty category is accepted.
func NewEngine(s Store, cfg Config, categories CategoryValidator) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	return &Engine{
		store:      s,
		cfg:        cfg,
		categories: categories,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Reconcile scores every unmatched transaction of the statement against
// the company's open invoices, applies auto-matches and stores the summary
// on the statement. A call while a run for the same statement is in flight
// waits for and shares that run's result. The run itself is not cancelled
// with ctx, so one caller giving up does not fail the others; the caller
// returns ctx.Err() and the run completes in the background.
func (e *Engine) Reconcile(ctx context.Context, companyID, statementID string) (*Summary, error) {
	runCtx := context.WithoutCancel(ctx)
	ch := e.group.DoChan(companyID+"/"+statementID, func() (interface{}, error) {
		return e.run(runCtx, companyID, statementID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("Reconcile: %s: %w", statementID, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		log := logger.FromContext(ctx)
		log.Debug().Str("statement_id", statementID).Msg("joined in-flight reconciliation")
	}
	sum := *res.Val.(*Summary)
	return &sum, nil
}

func (e *Engine) run(ctx context.Context, companyID, statementID string) (*Summary, error) {
	log := logger.FromContext(ctx).With().
		Str("company_id", companyID).
		Str("statement_id", statementID).
		Logger()

	if _, err := e.store.GetStatement(ctx, companyID, statementID); err != nil {
		return nil, fmt.Errorf("Reconcile: loading statement: %w", err)
	}
	txs, err := e.store.ListTransactions(ctx, companyID, statementID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: listing transactions: %w", err)
	}
	invoices, err := e.store.ListOpenInvoices(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: listing open invoices: %w", err)
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })

	sum := &Summary{StatementID: statementID}
	// Invoices settled during this run are gone from the store's open set
	// but still in the snapshot.
	claimed := make(map[string]bool)

	for i := range txs {
		tx := &txs[i]
		switch tx.MatchState {
		case domain.Matched, domain.ManuallyConfirmed:
			sum.Matched++
			continue
		case domain.Ignored:
			sum.Ignored++
			continue
		}

		state, review, err := e.reconcileTransaction(ctx, companyID, tx, invoices, claimed, sum)
		if err != nil {
			return nil, err
		}
		switch state {
		case domain.Matched:
			sum.Matched++
			sum.NewlyMatched++
		case domain.ManuallyConfirmed:
			sum.Matched++
		case domain.Ignored:
			sum.Ignored++
		default:
			sum.Unmatched++
			if review != nil {
				sum.ManualReviewNeeded++
				sum.Reviews = append(sum.Reviews, *review)
			}
		}
	}

	sum.CompletedAt = e.now()
	if err := e.store.UpdateReconciliationSummary(ctx, companyID, statementID, *sum); err != nil {
		return nil, fmt.Errorf("Reconcile: saving summary: %w", err)
	}

	log.Info().
		Int("matched", sum.Matched).
		Int("newly_matched", sum.NewlyMatched).
		Int("unmatched", sum.Unmatched).
		Int("manual_review", sum.ManualReviewNeeded).
		Int("candidate_errors", len(sum.CandidateErrors)).
		Msg("reconciliation completed")
	return sum, nil
}

// reconcileTransaction returns the state the transaction ended in and, for
// unmatched transactions with mid-band candidates, the review item.
func (e *Engine) reconcileTransaction(ctx context.Context, companyID string, tx *domain.LedgerTransaction, invoices []domain.Invoice, claimed map[string]bool, sum *Summary) (domain.MatchState, *domain.ReviewItem, error) {
	log := logger.FromContext(ctx)
	text := indexTransaction(tx)

	var cands []candidate
	for j := range invoices {
		inv := &invoices[j]
		if claimed[inv.ID] {
			continue
		}
		c, ok, err := e.cfg.score(tx, text, inv)
		if err != nil {
			sum.CandidateErrors = append(sum.CandidateErrors, domain.CandidateError{
				TransactionID: tx.ID,
				InvoiceID:     inv.ID,
				Reason:        err.Error(),
			})
			continue
		}
		if ok && c.score >= e.cfg.ReviewThreshold {
			cands = append(cands, c)
		}
	}
	rank(cands)

	var review []candidate
	for _, c := range cands {
		if c.score < e.cfg.AutoMatchThreshold {
			review = append(review, c)
			continue
		}
		err := e.store.ApplyAutoMatch(ctx, companyID, tx.ID, c.invoice.ID)
		switch {
		case err == nil:
			claimed[c.invoice.ID] = true
			log.Info().
				Str("transaction_id", tx.ID).
				Str("invoice_id", c.invoice.ID).
				Int("score", c.score).
				Msg("transaction auto-matched")
			return domain.Matched, nil, nil
		case errors.Is(err, store.ErrInvoiceNotOpen):
			// Settled by a concurrent run; try the next candidate.
			claimed[c.invoice.ID] = true
			log.Debug().Str("invoice_id", c.invoice.ID).Msg("invoice already matched, skipping")
		case errors.Is(err, store.ErrTransactionNotUnmatched):
			current, gerr := e.store.GetTransaction(ctx, companyID, tx.ID)
			if gerr != nil {
				return "", nil, fmt.Errorf("Reconcile: reloading transaction %s: %w", tx.ID, gerr)
			}
			return current.MatchState, nil, nil
		default:
			return "", nil, fmt.Errorf("Reconcile: matching transaction %s: %w", tx.ID, err)
		}
	}

	if len(review) == 0 {
		return domain.Unmatched, nil, nil
	}
	if len(review) > e.cfg.MaxCandidates {
		review = review[:e.cfg.MaxCandidates]
	}
	item := &domain.ReviewItem{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		BookingDate:   tx.BookingDate,
		Description:   tx.Description,
	}
	for _, c := range review {
		item.Candidates = append(item.Candidates, domain.ReviewCandidate{
			InvoiceID:     c.invoice.ID,
			InvoiceNumber: c.invoice.InvoiceNumber,
			ClientName:    c.invoice.ClientName,
			Score:         c.score,
		})
	}
	return domain.Unmatched, item, nil
}

// ConfirmMatch records the user's decision that txID settles invoiceID.
// Confirmed transactions are never touched by later runs.
func (e *Engine) ConfirmMatch(ctx context.Context, companyID, txID, invoiceID string) error {
	tx, err := e.store.GetTransaction(ctx, companyID, txID)
	if err != nil {
		return fmt.Errorf("ConfirmMatch: %w", err)
	}
	inv, err := e.store.GetInvoice(ctx, companyID, invoiceID)
	if err != nil {
		return fmt.Errorf("ConfirmMatch: %w", err)
	}
	if inv.TotalAmount.Currency != tx.Amount.Currency {
		return fmt.Errorf("ConfirmMatch: invoice %s is in %s, transaction in %s", invoiceID, inv.TotalAmount.Currency, tx.Amount.Currency)
	}
	if err := e.store.ConfirmMatch(ctx, companyID, txID, invoiceID); err != nil {
		return fmt.Errorf("ConfirmMatch: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("transaction_id", txID).Str("invoice_id", invoiceID).Msg("match confirmed")
	return nil
}

// IgnoreTransaction excludes an unmatched transaction from reconciliation.
func (e *Engine) IgnoreTransaction(ctx context.Context, companyID, txID string) error {
	if err := e.store.IgnoreTransaction(ctx, companyID, txID); err != nil {
		return fmt.Errorf("IgnoreTransaction: %w", err)
	}
	return nil
}

// ResetMatch returns a transaction to unmatched and reopens its invoice. It
// is the only way out of manually_confirmed.
func (e *Engine) ResetMatch(ctx context.Context, companyID, txID string) error {
	if err := e.store.ResetMatch(ctx, companyID, txID); err != nil {
		return fmt.Errorf("ResetMatch: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("transaction_id", txID).Msg("match reset")
	return nil
}

// Categorize sets the category of a transaction. An empty category clears it.
func (e *Engine) Categorize(ctx context.Context, companyID, txID, category string) error {
	if category == "" {
		if err := e.store.SetCategory(ctx, companyID, txID, nil); err != nil {
			return fmt.Errorf("Categorize: %w", err)
		}
		return nil
	}
	if e.categories != nil {
		canonical, err := e.categories.ValidateCategory(category)
		if err != nil {
			return fmt.Errorf("Categorize: %w", err)
		}
		category = canonical
	}
	if err := e.store.SetCategory(ctx, companyID, txID, &category); err != nil {
		return fmt.Errorf("Categorize: %w", err)
	}
	return nil
}
