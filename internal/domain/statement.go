package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/money"
)

// StatementStatus is the lifecycle state of an imported bank statement.
type StatementStatus string

const (
	// StatementImported is the state of a statement right after ingestion.
	StatementImported StatementStatus = "imported"
	// StatementReconciled means at least one reconciliation run has completed.
	StatementReconciled StatementStatus = "reconciled"
)

// Direction tells whether money left (debit) or entered (credit) the account.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// DirectionOf derives the direction from a signed amount.
func DirectionOf(minor int64) Direction {
	if minor < 0 {
		return Debit
	}
	return Credit
}

// MatchState tracks the reconciliation outcome of a single bank transaction.
type MatchState string

const (
	Unmatched         MatchState = "unmatched"
	Matched           MatchState = "matched"
	ManuallyConfirmed MatchState = "manually_confirmed"
	Ignored           MatchState = "ignored"
)

// StatementKey is the idempotency key of an import.
type StatementKey struct {
	CompanyID     string
	AccountID     string
	StatementDate civil.Date
	ContentHash   string
}

// BankStatement is an imported statement. Apart from the derived
// reconciliation summary it never changes after creation.
type BankStatement struct {
	ID             string          `json:"id"`
	CompanyID      string          `json:"company_id"`
	BankName       string          `json:"bank_name,omitempty"`
	AccountID      string          `json:"account_id"`
	StatementDate  civil.Date      `json:"statement_date"`
	OpeningBalance money.Money     `json:"opening_balance"`
	ClosingBalance money.Money     `json:"closing_balance"`
	SourceFormat   string          `json:"source_format"`
	ContentHash    string          `json:"content_hash"`
	Status         StatementStatus `json:"status"`
	TxCount        int             `json:"transaction_count"`
	ImportedAt     time.Time       `json:"imported_at"`

	Summary *ReconciliationSummary `json:"reconciliation_summary,omitempty"`
}

// Key returns the idempotency key of the statement.
func (s *BankStatement) Key() StatementKey {
	return StatementKey{
		CompanyID:     s.CompanyID,
		AccountID:     s.AccountID,
		StatementDate: s.StatementDate,
		ContentHash:   s.ContentHash,
	}
}

// LedgerTransaction is one booked line of a bank statement.
type LedgerTransaction struct {
	ID          string     `json:"id"`
	StatementID string     `json:"statement_id"`
	CompanyID   string     `json:"company_id"`
	Index       int        `json:"index"`
	BookingDate civil.Date `json:"booking_date"`
	ValueDate   civil.Date `json:"value_date"`

	Amount    money.Money `json:"amount"`
	Direction Direction   `json:"direction"`

	Description           string `json:"description"`
	CounterpartyName      string `json:"counterparty_name,omitempty"`
	CounterpartyReference string `json:"counterparty_reference,omitempty"`

	Category *string `json:"category,omitempty"`

	MatchState       MatchState `json:"match_state"`
	MatchedInvoiceID *string    `json:"matched_invoice_id,omitempty"`
}

// ReconciliationSummary is the outcome of one reconciliation run. It is
// stored on the statement as derived data.
type ReconciliationSummary struct {
	StatementID        string    `json:"statement_id"`
	Matched            int       `json:"matched"`
	NewlyMatched       int       `json:"newly_matched"`
	Unmatched          int       `json:"unmatched"`
	ManualReviewNeeded int       `json:"manual_review_needed"`
	Ignored            int       `json:"ignored"`
	CompletedAt        time.Time `json:"completed_at"`

	Reviews         []ReviewItem     `json:"reviews,omitempty"`
	CandidateErrors []CandidateError `json:"candidate_errors,omitempty"`
}

// ReviewItem is a transaction left unmatched whose best candidates scored in
// the manual-review band.
type ReviewItem struct {
	TransactionID string            `json:"transaction_id"`
	Amount        money.Money       `json:"amount"`
	BookingDate   civil.Date        `json:"booking_date"`
	Description   string            `json:"description"`
	Candidates    []ReviewCandidate `json:"candidates"`
}

// ReviewCandidate is one scored invoice. Score is in basis points (0-10000).
type ReviewCandidate struct {
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	ClientName    string `json:"client_name"`
	Score         int    `json:"score"`
}

// CandidateError records an invoice that could not be scored.
type CandidateError struct {
	TransactionID string `json:"transaction_id"`
	InvoiceID     string `json:"invoice_id"`
	Reason        string `json:"reason"`
}
