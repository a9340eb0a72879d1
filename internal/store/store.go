// Package store defines the persistence boundary of the ledger core. The
// statement uniqueness key, the invoice open-to-paid compare-and-set and the
// immutability of submitted tax reports are enforced by implementations,
// not by callers.
package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist for the company.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateStatement is returned by CreateStatement when the
	// statement key already exists.
	ErrDuplicateStatement = errors.New("statement already imported")
	// ErrInvoiceNotOpen is returned when an invoice lost the open-to-paid race.
	ErrInvoiceNotOpen = errors.New("invoice is not open")
	// ErrTransactionNotUnmatched is returned when a transaction is no longer
	// in the state a match operation expects.
	ErrTransactionNotUnmatched = errors.New("transaction is not unmatched")
	// ErrReportImmutable is returned when figures or period of a submitted
	// report would change.
	ErrReportImmutable = errors.New("report is immutable")
	// ErrDuplicateReport is returned when a second open draft would be
	// created for the same company, type and period.
	ErrDuplicateReport = errors.New("open report already exists for period")
	// ErrInvalidState is returned when a status compare-and-set fails.
	ErrInvalidState = errors.New("unexpected current state")
)

// StatementStore persists imported statements. There is no delete.
type StatementStore interface {
	// FindStatementByKey returns ErrNotFound when the key is unknown.
	FindStatementByKey(ctx context.Context, key domain.StatementKey) (*domain.BankStatement, error)
	// CreateStatement stores the statement and all its transactions
	// atomically, or nothing. It returns ErrDuplicateStatement if the key
	// already exists.
	CreateStatement(ctx context.Context, st *domain.BankStatement, txs []domain.LedgerTransaction) error
	GetStatement(ctx context.Context, companyID, statementID string) (*domain.BankStatement, error)
	ListStatements(ctx context.Context, companyID string) ([]domain.BankStatement, error)
	// ListTransactions returns the statement's transactions ordered by index.
	ListTransactions(ctx context.Context, companyID, statementID string) ([]domain.LedgerTransaction, error)
}

// ReconciliationStore mutates match state and categories.
type ReconciliationStore interface {
	GetTransaction(ctx context.Context, companyID, txID string) (*domain.LedgerTransaction, error)
	// ApplyAutoMatch flips the invoice open->paid and the transaction
	// unmatched->matched in one atomic step.
	ApplyAutoMatch(ctx context.Context, companyID, txID, invoiceID string) error
	// ConfirmMatch records a user decision. The transaction must be
	// unmatched (and the invoice open) or already matched to invoiceID.
	ConfirmMatch(ctx context.Context, companyID, txID, invoiceID string) error
	// IgnoreTransaction moves an unmatched transaction to ignored.
	IgnoreTransaction(ctx context.Context, companyID, txID string) error
	// ResetMatch returns any transaction to unmatched and reopens the
	// invoice it had settled.
	ResetMatch(ctx context.Context, companyID, txID string) error
	SetCategory(ctx context.Context, companyID, txID string, category *string) error
	UpdateReconciliationSummary(ctx context.Context, companyID, statementID string, summary domain.ReconciliationSummary) error
}

// InvoiceStore is the read side of the invoicing module plus the upsert
// used when invoices are synced in.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, companyID, invoiceID string) (*domain.Invoice, error)
	// ListOpenInvoices returns invoices that are neither paid nor cancelled.
	ListOpenInvoices(ctx context.Context, companyID string) ([]domain.Invoice, error)
	UpsertInvoice(ctx context.Context, inv *domain.Invoice) error
}

// LedgerReader reads the income/expense ledger the tax engine works on.
type LedgerReader interface {
	// ListLedgerEntries returns entries dated in [from, to).
	ListLedgerEntries(ctx context.Context, companyID string, from, to civil.Date) ([]domain.LedgerEntry, error)
}

// LedgerWriter books income and expense entries.
type LedgerWriter interface {
	AddLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) error
}

// ReportStore persists tax reports.
type ReportStore interface {
	GetReport(ctx context.Context, companyID, reportID string) (*domain.TaxReport, error)
	// FindReports lists reports of one company, type and period, oldest first.
	FindReports(ctx context.Context, companyID string, reportType domain.ReportType, period domain.Period) ([]domain.TaxReport, error)
	ListReports(ctx context.Context, companyID string) ([]domain.TaxReport, error)
	// SaveReport inserts the report or overwrites it by ID. Overwriting a
	// report whose stored status is submitted, approved or rejected returns
	// ErrReportImmutable.
	SaveReport(ctx context.Context, r *domain.TaxReport) error
	// UpdateReportStatus moves a report from one status to another without
	// touching figures or period. ErrInvalidState means the stored status
	// was not from.
	UpdateReportStatus(ctx context.Context, companyID, reportID string, from, to domain.ReportStatus, at time.Time) error
}

// Store bundles every repository; both implementations satisfy it.
type Store interface {
	StatementStore
	ReconciliationStore
	InvoiceStore
	LedgerReader
	LedgerWriter
	ReportStore
}
