package parser

import (
	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
)

// ParsedStatement is the canonical output every decoder produces.
type ParsedStatement struct {
	Format         Format
	AccountID      string
	BankName       string
	Currency       string
	StatementDate  civil.Date
	OpeningBalance money.Money
	ClosingBalance money.Money
	Transactions   []RawTransaction
}

// RawTransaction is one booked line as read from the source file.
type RawTransaction struct {
	BookingDate      civil.Date
	ValueDate        civil.Date
	Amount           money.Money
	Direction        domain.Direction
	Description      string
	Reference        string
	CounterpartyName string

	// RunningBalance is the account balance after this line when the
	// source carries one (CSV exports do).
	RunningBalance *money.Money
}

// Total returns the signed sum of all transaction amounts.
func (p *ParsedStatement) Total() (money.Money, error) {
	amounts := make([]money.Money, len(p.Transactions))
	for i, tx := range p.Transactions {
		amounts[i] = tx.Amount
	}
	return money.Sum(p.Currency, amounts...)
}
