package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/store"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use and enforces the same uniqueness and
// compare-and-set rules as the Postgres store under a single mutex.
// Data is lost on restart.
type Store struct {
	mu sync.RWMutex

	statements   map[string]*domain.BankStatement
	statementKey map[domain.StatementKey]string
	transactions map[string]*domain.LedgerTransaction
	byStatement  map[string][]string

	invoices  map[string]*domain.Invoice
	paidFrom  map[string]domain.InvoiceStatus
	ledger    []domain.LedgerEntry
	reports   map[string]*domain.TaxReport
	reportSeq []string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		statements:   make(map[string]*domain.BankStatement),
		statementKey: make(map[domain.StatementKey]string),
		transactions: make(map[string]*domain.LedgerTransaction),
		byStatement:  make(map[string][]string),
		invoices:     make(map[string]*domain.Invoice),
		paidFrom:     make(map[string]domain.InvoiceStatus),
		reports:      make(map[string]*domain.TaxReport),
	}
}

// FindStatementByKey implements store.StatementStore.
func (s *Store) FindStatementByKey(ctx context.Context, key domain.StatementKey) (*domain.BankStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.statementKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneStatement(s.statements[id]), nil
}

// CreateStatement implements store.StatementStore.
func (s *Store) CreateStatement(ctx context.Context, st *domain.BankStatement, txs []domain.LedgerTransaction) error {
	if st.ID == "" {
		return fmt.Errorf("CreateStatement: statement ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.statementKey[st.Key()]; exists {
		return store.ErrDuplicateStatement
	}
	if _, exists := s.statements[st.ID]; exists {
		return fmt.Errorf("CreateStatement: statement %s already exists", st.ID)
	}
	for i := range txs {
		if _, exists := s.transactions[txs[i].ID]; exists {
			return fmt.Errorf("CreateStatement: transaction %s already exists", txs[i].ID)
		}
	}

	s.statements[st.ID] = cloneStatement(st)
	s.statementKey[st.Key()] = st.ID
	ids := make([]string, len(txs))
	for i := range txs {
		s.transactions[txs[i].ID] = cloneTransaction(&txs[i])
		ids[i] = txs[i].ID
	}
	s.byStatement[st.ID] = ids
	return nil
}

// GetStatement implements store.StatementStore.
func (s *Store) GetStatement(ctx context.Context, companyID, statementID string) (*domain.BankStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[statementID]
	if !ok || st.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return cloneStatement(st), nil
}

// ListStatements implements store.StatementStore.
func (s *Store) ListStatements(ctx context.Context, companyID string) ([]domain.BankStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.BankStatement
	for _, st := range s.statements {
		if st.CompanyID == companyID {
			out = append(out, *cloneStatement(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StatementDate != out[j].StatementDate {
			return out[i].StatementDate.Before(out[j].StatementDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListTransactions implements store.StatementStore.
func (s *Store) ListTransactions(ctx context.Context, companyID, statementID string) ([]domain.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[statementID]
	if !ok || st.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	ids := s.byStatement[statementID]
	out := make([]domain.LedgerTransaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneTransaction(s.transactions[id]))
	}
	return out, nil
}

// GetTransaction implements store.ReconciliationStore.
func (s *Store) GetTransaction(ctx context.Context, companyID, txID string) (*domain.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txID]
	if !ok || tx.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

// ApplyAutoMatch implements store.ReconciliationStore.
func (s *Store) ApplyAutoMatch(ctx context.Context, companyID, txID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, inv, err := s.lockedPair(companyID, txID, invoiceID)
	if err != nil {
		return err
	}
	if tx.MatchState != domain.Unmatched {
		return store.ErrTransactionNotUnmatched
	}
	if !inv.IsOpen() {
		return store.ErrInvoiceNotOpen
	}
	s.settle(tx, inv, domain.Matched)
	return nil
}

// ConfirmMatch implements store.ReconciliationStore.
func (s *Store) ConfirmMatch(ctx context.Context, companyID, txID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, inv, err := s.lockedPair(companyID, txID, invoiceID)
	if err != nil {
		return err
	}
	switch {
	case tx.MatchState == domain.Matched && tx.MatchedInvoiceID != nil && *tx.MatchedInvoiceID == invoiceID:
		tx.MatchState = domain.ManuallyConfirmed
		return nil
	case tx.MatchState != domain.Unmatched:
		return store.ErrTransactionNotUnmatched
	case !inv.IsOpen():
		return store.ErrInvoiceNotOpen
	}
	s.settle(tx, inv, domain.ManuallyConfirmed)
	return nil
}

// IgnoreTransaction implements store.ReconciliationStore.
func (s *Store) IgnoreTransaction(ctx context.Context, companyID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok || tx.CompanyID != companyID {
		return store.ErrNotFound
	}
	if tx.MatchState != domain.Unmatched {
		return store.ErrTransactionNotUnmatched
	}
	tx.MatchState = domain.Ignored
	return nil
}

// ResetMatch implements store.ReconciliationStore.
func (s *Store) ResetMatch(ctx context.Context, companyID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok || tx.CompanyID != companyID {
		return store.ErrNotFound
	}
	if tx.MatchedInvoiceID != nil {
		if inv, ok := s.invoices[*tx.MatchedInvoiceID]; ok && inv.Status == domain.InvoicePaid {
			prev, ok := s.paidFrom[inv.ID]
			if !ok {
				prev = domain.InvoiceSent
			}
			inv.Status = prev
			delete(s.paidFrom, inv.ID)
		}
	}
	tx.MatchState = domain.Unmatched
	tx.MatchedInvoiceID = nil
	return nil
}

// SetCategory implements store.ReconciliationStore.
func (s *Store) SetCategory(ctx context.Context, companyID, txID string, category *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok || tx.CompanyID != companyID {
		return store.ErrNotFound
	}
	tx.Category = cloneString(category)
	return nil
}

// UpdateReconciliationSummary implements store.ReconciliationStore.
func (s *Store) UpdateReconciliationSummary(ctx context.Context, companyID, statementID string, summary domain.ReconciliationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[statementID]
	if !ok || st.CompanyID != companyID {
		return store.ErrNotFound
	}
	sum := cloneSummary(&summary)
	st.Summary = sum
	st.Status = domain.StatementReconciled
	return nil
}

func (s *Store) lockedPair(companyID, txID, invoiceID string) (*domain.LedgerTransaction, *domain.Invoice, error) {
	tx, ok := s.transactions[txID]
	if !ok || tx.CompanyID != companyID {
		return nil, nil, fmt.Errorf("transaction %s: %w", txID, store.ErrNotFound)
	}
	inv, ok := s.invoices[invoiceID]
	if !ok || inv.CompanyID != companyID {
		return nil, nil, fmt.Errorf("invoice %s: %w", invoiceID, store.ErrNotFound)
	}
	return tx, inv, nil
}

func (s *Store) settle(tx *domain.LedgerTransaction, inv *domain.Invoice, state domain.MatchState) {
	s.paidFrom[inv.ID] = inv.Status
	inv.Status = domain.InvoicePaid
	id := inv.ID
	tx.MatchState = state
	tx.MatchedInvoiceID = &id
}

// GetInvoice implements store.InvoiceStore.
func (s *Store) GetInvoice(ctx context.Context, companyID, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	c := *inv
	return &c, nil
}

// ListOpenInvoices implements store.InvoiceStore.
func (s *Store) ListOpenInvoices(ctx context.Context, companyID string) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Invoice
	for _, inv := range s.invoices {
		if inv.CompanyID == companyID && inv.IsOpen() {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertInvoice implements store.InvoiceStore.
func (s *Store) UpsertInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv.ID == "" {
		return fmt.Errorf("UpsertInvoice: invoice ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *inv
	s.invoices[inv.ID] = &c
	return nil
}

// AddLedgerEntries implements store.LedgerWriter.
func (s *Store) AddLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, entries...)
	return nil
}

// ListLedgerEntries implements store.LedgerReader.
func (s *Store) ListLedgerEntries(ctx context.Context, companyID string, from, to civil.Date) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.CompanyID == companyID && !e.Date.Before(from) && e.Date.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetReport implements store.ReportStore.
func (s *Store) GetReport(ctx context.Context, companyID, reportID string) (*domain.TaxReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[reportID]
	if !ok || r.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return cloneReport(r), nil
}

// FindReports implements store.ReportStore.
func (s *Store) FindReports(ctx context.Context, companyID string, reportType domain.ReportType, period domain.Period) ([]domain.TaxReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TaxReport
	for _, id := range s.reportSeq {
		r := s.reports[id]
		if r.CompanyID == companyID && r.ReportType == reportType && r.Period == period {
			out = append(out, *cloneReport(r))
		}
	}
	return out, nil
}

// ListReports implements store.ReportStore.
func (s *Store) ListReports(ctx context.Context, companyID string) ([]domain.TaxReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TaxReport
	for _, id := range s.reportSeq {
		if r := s.reports[id]; r.CompanyID == companyID {
			out = append(out, *cloneReport(r))
		}
	}
	return out, nil
}

// SaveReport implements store.ReportStore.
func (s *Store) SaveReport(ctx context.Context, r *domain.TaxReport) error {
	if r.ID == "" {
		return fmt.Errorf("SaveReport: report ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reports[r.ID]; ok {
		// Same outcome as the guarded upsert in Postgres: another
		// company's report is never overwritten.
		if existing.CompanyID != r.CompanyID || existing.Status.IsFrozen() {
			return store.ErrReportImmutable
		}
		s.reports[r.ID] = cloneReport(r)
		return nil
	}

	if s.periodTaken(r, r.Status) {
		return store.ErrDuplicateReport
	}
	s.reports[r.ID] = cloneReport(r)
	s.reportSeq = append(s.reportSeq, r.ID)
	return nil
}

// UpdateReportStatus implements store.ReportStore.
func (s *Store) UpdateReportStatus(ctx context.Context, companyID, reportID string, from, to domain.ReportStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[reportID]
	if !ok || r.CompanyID != companyID {
		return store.ErrNotFound
	}
	if r.Status != from {
		return fmt.Errorf("report %s is %s, want %s: %w", reportID, r.Status, from, store.ErrInvalidState)
	}
	if to.IsClosed() && !from.IsClosed() && s.periodTaken(r, to) {
		return fmt.Errorf("UpdateReportStatus: %w", store.ErrDuplicateReport)
	}
	if to == domain.ReportSubmitted {
		t := at
		r.SubmittedAt = &t
	}
	r.Status = to
	return nil
}

// periodTaken reports whether another original report of r's company, type
// and period already holds a status of the same uniqueness class as status:
// one open (draft, generated) and one closed (submitted, approved) per
// period. Corrections and rejected reports are exempt. Callers hold s.mu.
func (s *Store) periodTaken(r *domain.TaxReport, status domain.ReportStatus) bool {
	if r.CorrectsReportID != nil {
		return false
	}
	class := func(st domain.ReportStatus) int {
		switch {
		case st.IsClosed():
			return 2
		case st.IsFrozen():
			return 0
		default:
			return 1
		}
	}
	want := class(status)
	if want == 0 {
		return false
	}
	for id, other := range s.reports {
		if id == r.ID || other.CorrectsReportID != nil {
			continue
		}
		if other.CompanyID == r.CompanyID && other.ReportType == r.ReportType &&
			other.Period == r.Period && class(other.Status) == want {
			return true
		}
	}
	return false
}

var _ store.Store = (*Store)(nil)
