package parser

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
)

// canonicalize applies the rules shared by all decoders: one currency per
// statement, direction from sign, value date defaulting to booking date and
// a statement date when the source did not provide one.
func canonicalize(ps *ParsedStatement) error {
	f := ps.Format
	ps.AccountID = strings.TrimSpace(ps.AccountID)
	if ps.AccountID == "" {
		return entryError(f, 0, "account", "", "statement has no account identifier")
	}

	if ps.Currency == "" {
		ps.Currency = ps.OpeningBalance.Currency
	}
	if ps.OpeningBalance.Currency != ps.Currency {
		return entryError(f, 0, "opening_balance", ps.OpeningBalance.Currency, "currency differs from statement currency "+ps.Currency)
	}
	if ps.ClosingBalance.Currency != ps.Currency {
		return entryError(f, len(ps.Transactions), "closing_balance", ps.ClosingBalance.Currency, "currency differs from statement currency "+ps.Currency)
	}

	var lastBooking civil.Date
	for i := range ps.Transactions {
		tx := &ps.Transactions[i]
		if tx.Amount.Currency != ps.Currency {
			return entryError(f, i, "currency", tx.Amount.Currency, "currency differs from statement currency "+ps.Currency)
		}
		if tx.RunningBalance != nil && tx.RunningBalance.Currency != ps.Currency {
			return entryError(f, i, "balance", tx.RunningBalance.Currency, "currency differs from statement currency "+ps.Currency)
		}
		if !tx.BookingDate.IsValid() {
			return entryError(f, i, "booking_date", tx.BookingDate.String(), "missing booking date")
		}
		if tx.ValueDate.IsZero() {
			tx.ValueDate = tx.BookingDate
		}
		tx.Direction = domain.DirectionOf(tx.Amount.Minor)
		tx.Description = collapseSpace(tx.Description)
		tx.Reference = strings.TrimSpace(tx.Reference)
		tx.CounterpartyName = collapseSpace(tx.CounterpartyName)
		if tx.BookingDate.After(lastBooking) {
			lastBooking = tx.BookingDate
		}
	}

	if ps.StatementDate.IsZero() {
		ps.StatementDate = lastBooking
	}
	if ps.StatementDate.IsZero() {
		return entryError(f, 0, "statement_date", "", "statement date cannot be derived")
	}
	return nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseDate(layout, s string) (civil.Date, error) {
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

func amountIn(minor int64, currency string) money.Money {
	return money.New(minor, currency)
}
