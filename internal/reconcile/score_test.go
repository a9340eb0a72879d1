package reconcile

import (
	"testing"

	"github.com/dvloznov/taxledger/internal/domain"
)

func TestDateScore(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		booked, due string
		want        int
	}{
		{"2024-01-15", "2024-01-15", 10000},
		{"2024-01-15", "2024-02-14", 5000},
		{"2024-02-14", "2024-01-15", 5000},
		{"2024-01-15", "2024-03-15", 0},
		{"2024-01-15", "2025-01-15", 0},
	}
	for _, tt := range tests {
		if got := cfg.dateScore(date(tt.booked), date(tt.due)); got != tt.want {
			t.Errorf("dateScore(%s, %s) = %d, want %d", tt.booked, tt.due, got, tt.want)
		}
	}
}

func TestReferenceScore(t *testing.T) {
	tests := []struct {
		name   string
		tx     domain.LedgerTransaction
		number string
		client string
		want   int
	}{
		{
			name:   "exact number in reference",
			tx:     domain.LedgerTransaction{CounterpartyReference: "INV-0042"},
			number: "INV-0042",
			want:   10000,
		},
		{
			name:   "compacted number",
			tx:     domain.LedgerTransaction{Description: "Zahlung INV0042 danke"},
			number: "INV-0042",
			want:   10000,
		},
		{
			name:   "number split by space",
			tx:     domain.LedgerTransaction{Description: "Rechnung inv 0042"},
			number: "INV-0042",
			want:   10000,
		},
		{
			name:   "prefix of a longer number is not a match",
			tx:     domain.LedgerTransaction{Description: "INV-0042"},
			number: "INV-004",
			want:   5000,
		},
		{
			name:   "client name tokens",
			tx:     domain.LedgerTransaction{CounterpartyName: "MUSTER GMBH"},
			number: "R-1",
			client: "Muster GmbH",
			want:   10000,
		},
		{
			name:   "partial client name",
			tx:     domain.LedgerTransaction{CounterpartyName: "Muster GmbH"},
			client: "Muster Handel GmbH",
			want:   6666,
		},
		{
			name:   "no overlap",
			tx:     domain.LedgerTransaction{Description: "Miete Januar"},
			number: "INV-0042",
			client: "Muster GmbH",
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &domain.Invoice{InvoiceNumber: tt.number, ClientName: tt.client}
			if got := referenceScore(indexTransaction(&tt.tx), inv); got != tt.want {
				t.Errorf("referenceScore() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScore_AmountGate(t *testing.T) {
	cfg := DefaultConfig()
	tx := &domain.LedgerTransaction{Amount: eur(-11900), BookingDate: date("2024-01-15"), Description: "ER-5"}
	text := indexTransaction(tx)

	receivable := invoice("inv-1", "ER-5", "", 11900, "2024-01-15")
	if _, ok, err := cfg.score(tx, text, receivable); ok || err != nil {
		t.Errorf("receivable scored against a debit: ok=%v err=%v", ok, err)
	}

	payable := invoice("inv-2", "ER-5", "", 11900, "2024-01-15")
	payable.Kind = domain.Payable
	c, ok, err := cfg.score(tx, text, payable)
	if !ok || err != nil {
		t.Fatalf("payable not scored: ok=%v err=%v", ok, err)
	}
	if c.score != 10000 {
		t.Errorf("score = %d, want 10000", c.score)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	bad := DefaultConfig()
	bad.DateWeight = 50
	if err := bad.Validate(); err == nil {
		t.Error("weights not adding up to 100 accepted")
	}
	bad = DefaultConfig()
	bad.ReviewThreshold = 9000
	if err := bad.Validate(); err == nil {
		t.Error("review threshold above auto threshold accepted")
	}
}
