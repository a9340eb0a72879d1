// Package money holds the fixed-point amount type used throughout the ledger.
// Amounts are integer minor units; conversion to and from text happens only at
// the parsing and export boundaries.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of fraction digits carried by every supported currency.
const MinorDigits = 2

// DefaultCurrency is the operating currency of the ledger.
const DefaultCurrency = "EUR"

var (
	// ErrCurrencyMismatch is returned when combining amounts of different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidAmount is returned for amount strings that cannot be normalized to minor units.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrOverflow is returned when a sum leaves the int64 minor-unit range.
	ErrOverflow = errors.New("amount overflow")
)

// Money is a signed amount in minor units of Currency.
type Money struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

// New returns a Money value.
func New(minor int64, currency string) Money {
	return Money{Minor: minor, Currency: currency}
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return Money{Currency: currency}
}

// Add returns m+o. Both operands must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	sum := m.Minor + o.Minor
	if (o.Minor > 0 && sum < m.Minor) || (o.Minor < 0 && sum > m.Minor) {
		return Money{}, fmt.Errorf("%w: %d + %d", ErrOverflow, m.Minor, o.Minor)
	}
	return Money{Minor: sum, Currency: m.Currency}, nil
}

// Sub returns m-o. Both operands must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if o.Minor == math.MinInt64 {
		return Money{}, fmt.Errorf("%w: %d - %d", ErrOverflow, m.Minor, o.Minor)
	}
	return m.Add(o.Neg())
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{Minor: -m.Minor, Currency: m.Currency}
}

// Abs returns |m|.
func (m Money) Abs() Money {
	if m.Minor < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }

// Equal reports whether m and o have the same currency and amount.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Minor == o.Minor
}

// Decimal returns the exact decimal value of m in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -MinorDigits)
}

// FromDecimal converts a decimal major-unit value to Money. Values with more
// fraction digits than the currency supports are rejected, never rounded.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	shifted := d.Shift(MinorDigits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return Money{}, fmt.Errorf("%w: %s has more than %d fraction digits", ErrInvalidAmount, d.String(), MinorDigits)
	}
	if !shifted.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d.String())
	}
	return Money{Minor: shifted.IntPart(), Currency: currency}, nil
}

// String renders m as "1234.56 EUR".
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorDigits) + " " + m.Currency
}

// Format renders the amount part of m in the given style.
func (m Money) Format(style Style) string {
	return FormatAmount(m.Minor, style)
}

// Sum adds up amounts that must all be in currency.
func Sum(currency string, amounts ...Money) (Money, error) {
	total := Zero(currency)
	for _, a := range amounts {
		var err error
		total, err = total.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
