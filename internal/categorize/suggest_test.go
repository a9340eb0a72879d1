package categorize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
	"github.com/dvloznov/taxledger/internal/tax"
)

type fakeModel struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func tx(id, desc string, category *string) domain.LedgerTransaction {
	return domain.LedgerTransaction{
		ID:          id,
		BookingDate: civil.Date{Year: 2024, Month: 2, Day: 1},
		Amount:      money.New(-4999, "EUR"),
		Description: desc,
		Category:    category,
	}
}

func TestSuggest(t *testing.T) {
	done := "Miete"
	model := &fakeModel{response: "```json\n" + `[
		{"transaction_id": "tx-1", "category": "software", "reason": "JetBrains licence"},
		{"transaction_id": "tx-2", "category": "Yachts"},
		{"transaction_id": "tx-9", "category": "Software"}
	]` + "\n```"}
	s := NewSuggester(model, tax.DefaultConfig())

	got, err := s.Suggest(context.Background(), []domain.LedgerTransaction{
		tx("tx-1", "JetBrains s.r.o.", nil),
		tx("tx-2", "Marina fee", nil),
		tx("tx-3", "Office rent", &done),
	})
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d suggestions, want 1: %+v", len(got), got)
	}
	if got[0].TransactionID != "tx-1" || got[0].Category != "Software" {
		t.Errorf("suggestion = %+v", got[0])
	}

	prompt := model.prompts[0]
	if strings.Contains(prompt, "tx-3") {
		t.Error("categorized transaction sent to the model")
	}
	if !strings.Contains(prompt, "Bürobedarf") || !strings.Contains(prompt, "id=tx-1") {
		t.Errorf("prompt missing categories or transactions:\n%s", prompt)
	}
}

func TestSuggest_NothingPending(t *testing.T) {
	cat := "Software"
	model := &fakeModel{}
	got, err := NewSuggester(model, tax.DefaultConfig()).Suggest(context.Background(), []domain.LedgerTransaction{tx("tx-1", "x", &cat)})
	if err != nil || got != nil {
		t.Errorf("Suggest() = %v, %v", got, err)
	}
	if len(model.prompts) != 0 {
		t.Error("model called without pending transactions")
	}
}

func TestSuggest_Batches(t *testing.T) {
	var txs []domain.LedgerTransaction
	for i := 0; i < maxBatch+1; i++ {
		txs = append(txs, tx("tx", "x", nil))
	}
	model := &fakeModel{response: "[]"}
	if _, err := NewSuggester(model, tax.DefaultConfig()).Suggest(context.Background(), txs); err != nil {
		t.Fatal(err)
	}
	if len(model.prompts) != 2 {
		t.Errorf("model called %d times, want 2", len(model.prompts))
	}
}

func TestSuggest_ModelErrors(t *testing.T) {
	s := NewSuggester(&fakeModel{err: errors.New("quota")}, tax.DefaultConfig())
	if _, err := s.Suggest(context.Background(), []domain.LedgerTransaction{tx("tx-1", "x", nil)}); err == nil {
		t.Error("model error swallowed")
	}

	s = NewSuggester(&fakeModel{response: "I cannot help with that"}, tax.DefaultConfig())
	if _, err := s.Suggest(context.Background(), []domain.LedgerTransaction{tx("tx-1", "x", nil)}); err == nil {
		t.Error("non-JSON response accepted")
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced", "```json\n[1,2]\n```", "[1,2]"},
		{"bare fence", "```\n[1]\n```", "[1]"},
		{"prose around", "Here you go: [1] hope it helps", "[1]"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.raw); got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
