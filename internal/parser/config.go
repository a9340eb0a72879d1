package parser

import (
	"github.com/dvloznov/taxledger/internal/money"
)

// Config holds decoder settings. There is no package-level state; callers
// build a Config (usually from DefaultConfig) and pass it to NewRegistry.
type Config struct {
	CSV CSVConfig
	// DefaultCurrency is used when a source omits the currency.
	DefaultCurrency string
}

// CSVConfig describes the layout of a delimited bank export.
type CSVConfig struct {
	Delimiter   rune
	DateLayout  string
	AmountStyle money.Style
	Columns     CSVColumns
}

// CSVColumns maps canonical fields to header names. Account, BookingDate,
// Amount and Balance are required; the rest may be left empty.
type CSVColumns struct {
	Account      string
	BookingDate  string
	ValueDate    string
	Amount       string
	Description  string
	Reference    string
	Counterparty string
	Balance      string
	Currency     string
}

// DefaultConfig matches the common German online-banking CSV export.
func DefaultConfig() Config {
	return Config{
		DefaultCurrency: money.DefaultCurrency,
		CSV: CSVConfig{
			Delimiter:   ';',
			DateLayout:  "02.01.2006",
			AmountStyle: money.StyleGerman,
			Columns: CSVColumns{
				Account:      "Konto",
				BookingDate:  "Buchungstag",
				ValueDate:    "Valuta",
				Amount:       "Betrag",
				Description:  "Verwendungszweck",
				Reference:    "Referenz",
				Counterparty: "Auftraggeber/Empfänger",
				Balance:      "Saldo",
				Currency:     "Währung",
			},
		},
	}
}
