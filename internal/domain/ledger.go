package domain

import (
	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/money"
)

// EntryKind separates revenue from spending in the tax ledger.
type EntryKind string

const (
	Income  EntryKind = "income"
	Expense EntryKind = "expense"
)

// LedgerEntry is a booked income or expense line that feeds tax computation.
// VAT is not stored; it is derived from NetAmount and the rate behind VATCode.
type LedgerEntry struct {
	ID        string      `json:"id"`
	CompanyID string      `json:"company_id"`
	Date      civil.Date  `json:"date"`
	Kind      EntryKind   `json:"kind"`
	NetAmount money.Money `json:"net_amount"`
	VATCode   string      `json:"vat_code"`
	Category  string      `json:"category,omitempty"`
	Reference string      `json:"reference,omitempty"`
}
