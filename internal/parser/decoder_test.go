package parser

import (
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
)

func TestRegistryParse_SameCanonicalShape(t *testing.T) {
	reg := NewRegistry(DefaultConfig())

	tests := []struct {
		name   string
		format string
		raw    string
	}{
		{"csv", "CSV", csvStatement},
		{"mt940", "MT940", mt940Statement},
		{"sta alias", "sta", mt940Statement},
		{"camt053", "CAMT053", camtFixture},
		{"camt alias", "camt.053", camtFixture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := reg.Parse([]byte(tt.raw), tt.format)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if ps.AccountID != "DE89370400440532013000" {
				t.Errorf("AccountID = %q", ps.AccountID)
			}
			if want := (civil.Date{Year: 2024, Month: 1, Day: 15}); ps.StatementDate != want {
				t.Errorf("StatementDate = %s, want %s", ps.StatementDate, want)
			}
			if !ps.OpeningBalance.Equal(money.New(100000, "EUR")) {
				t.Errorf("OpeningBalance = %s", ps.OpeningBalance)
			}
			if !ps.ClosingBalance.Equal(money.New(125000, "EUR")) {
				t.Errorf("ClosingBalance = %s", ps.ClosingBalance)
			}
			if len(ps.Transactions) != 1 {
				t.Fatalf("got %d transactions, want 1", len(ps.Transactions))
			}
			tx := ps.Transactions[0]
			if !tx.Amount.Equal(money.New(25000, "EUR")) {
				t.Errorf("Amount = %s", tx.Amount)
			}
			if tx.Direction != domain.Credit {
				t.Errorf("Direction = %s", tx.Direction)
			}
			if tx.Reference != "INV-0042" {
				t.Errorf("Reference = %q", tx.Reference)
			}
			if tx.Description != "Zahlung Rechnung INV-0042" {
				t.Errorf("Description = %q", tx.Description)
			}
			if tx.CounterpartyName != "Muster GmbH" {
				t.Errorf("CounterpartyName = %q", tx.CounterpartyName)
			}
			if tx.ValueDate != tx.BookingDate {
				t.Errorf("ValueDate = %s, BookingDate = %s", tx.ValueDate, tx.BookingDate)
			}
			if err := ps.CheckBalance(); err != nil {
				t.Errorf("CheckBalance() error: %v", err)
			}
		})
	}
}

func TestRegistryParse_UnsupportedFormat(t *testing.T) {
	reg := NewRegistry(DefaultConfig())

	for _, format := range []string{"PDF", "", "OFX"} {
		_, err := reg.Parse(nil, format)
		var ufe *UnsupportedFormatError
		if !errors.As(err, &ufe) {
			t.Errorf("Parse(%q) error = %v, want UnsupportedFormatError", format, err)
		}
	}
}

func TestRegistryParse_DeclaredFormatMismatch(t *testing.T) {
	reg := NewRegistry(DefaultConfig())

	tests := []struct {
		name   string
		format string
		raw    string
	}{
		{"mt940 declared as csv", "CSV", mt940Statement},
		{"csv declared as mt940", "MT940", csvStatement},
		{"camt declared as mt940", "MT940", camtFixture},
		{"csv declared as camt", "CAMT053", csvStatement},
		{"mt940 declared as camt", "CAMT053", mt940Statement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := reg.Parse([]byte(tt.raw), tt.format)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse() error = %v, want ParseError", err)
			}
			if ps != nil {
				t.Error("Parse() returned a statement alongside the error")
			}
		})
	}
}

func TestAmountRoundTripPerFormat(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		parse func(string) (int64, error)
		style money.Style
		want  int64
	}{
		{"csv german", "1.234,56", func(s string) (int64, error) { return money.ParseAmount(s, money.StyleGerman) }, money.StyleGerman, 123456},
		{"csv point", "1,234.56", func(s string) (int64, error) { return money.ParseAmount(s, money.StylePoint) }, money.StylePoint, 123456},
		{"camt", "1,234.56", func(s string) (int64, error) { return money.ParseAmount(s, money.StylePoint) }, money.StylePoint, 123456},
		{"mt940", "1.234,56", parseMT940Amount, money.StyleGerman, 123456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse(tt.raw)
			if err != nil {
				t.Fatalf("parse(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("parse(%q) = %d, want %d", tt.raw, got, tt.want)
			}
			if back := money.FormatAmount(got, tt.style); back != tt.raw {
				t.Errorf("FormatAmount(%d) = %q, want %q", got, back, tt.raw)
			}
		})
	}

	if got, err := parseMT940Amount("250,"); err != nil || got != 25000 {
		t.Errorf("parseMT940Amount(\"250,\") = %d, %v", got, err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Format
		wantErr bool
	}{
		{"csv", csvStatement, FormatCSV, false},
		{"mt940", mt940Statement, FormatMT940, false},
		{"camt", camtFixture, FormatCAMT053, false},
		{"other xml", `<?xml version="1.0"?><Invoice/>`, "", true},
		{"empty", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}
