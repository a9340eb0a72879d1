// Package categorize asks a language model for expense categories of
// uncategorized bank transactions. Suggestions are returned to the user;
// nothing here writes a category.
package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// maxBatch bounds the transactions sent in one prompt.
const maxBatch = 50

// Model generates text for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Categories is the category table suggestions must come from.
type Categories interface {
	CategoryNames() []string
	ValidateCategory(name string) (string, error)
}

// Suggestion is a proposed category for one transaction.
type Suggestion struct {
	TransactionID string `json:"transaction_id"`
	Category      string `json:"category"`
	Reason        string `json:"reason,omitempty"`
}

// Suggester builds prompts, calls the model and keeps only suggestions
// naming a known category.
type Suggester struct {
	model      Model
	categories Categories
}

func NewSuggester(model Model, categories Categories) *Suggester {
	return &Suggester{model: model, categories: categories}
}

// Suggest proposes categories for the uncategorized transactions in txs.
func (s *Suggester) Suggest(ctx context.Context, txs []domain.LedgerTransaction) ([]Suggestion, error) {
	log := logger.FromContext(ctx)

	var pending []domain.LedgerTransaction
	for _, tx := range txs {
		if tx.Category == nil {
			pending = append(pending, tx)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	names := s.categories.CategoryNames()
	var out []Suggestion
	for start := 0; start < len(pending); start += maxBatch {
		end := min(start+maxBatch, len(pending))
		batch := pending[start:end]

		raw, err := s.model.Generate(ctx, buildPrompt(names, batch))
		if err != nil {
			return nil, fmt.Errorf("Suggest: generate: %w", err)
		}
		parsed, err := parseSuggestions(raw)
		if err != nil {
			return nil, fmt.Errorf("Suggest: %w", err)
		}

		known := make(map[string]bool, len(batch))
		for _, tx := range batch {
			known[tx.ID] = true
		}
		for _, sg := range parsed {
			if !known[sg.TransactionID] {
				log.Warn().Str("transaction_id", sg.TransactionID).Msg("Model suggested a category for an unknown transaction")
				continue
			}
			canonical, err := s.categories.ValidateCategory(sg.Category)
			if err != nil {
				log.Warn().Str("transaction_id", sg.TransactionID).Str("category", sg.Category).Msg("Dropping suggestion with unknown category")
				continue
			}
			sg.Category = canonical
			out = append(out, sg)
			delete(known, sg.TransactionID)
		}
	}

	log.Info().Int("transactions", len(pending)).Int("suggestions", len(out)).Msg("Category suggestions ready")
	return out, nil
}

func buildPrompt(categories []string, txs []domain.LedgerTransaction) string {
	var b strings.Builder
	b.WriteString("You categorize business bank transactions of a German company for bookkeeping.\n\n")
	b.WriteString("Use ONLY the following categories (exact spelling):\n")
	for _, c := range categories {
		b.WriteString("  - " + c + "\n")
	}
	b.WriteString("\nTransactions:\n")
	for _, tx := range txs {
		fmt.Fprintf(&b, "- id=%s date=%s amount=%s counterparty=%q description=%q\n",
			tx.ID, tx.BookingDate, tx.Amount, tx.CounterpartyName, tx.Description)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("1. Output STRICT JSON only: an array of objects with \"transaction_id\", \"category\" and \"reason\".\n")
	b.WriteString("2. Skip transactions you cannot categorize with confidence.\n")
	b.WriteString("3. Incoming customer payments are not expenses; skip them.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"[\" and end with \"]\".\n")
	return b.String()
}

func parseSuggestions(raw string) ([]Suggestion, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	var out []Suggestion
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return out, nil
}

// cleanModelJSON strips Markdown fences and text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

// GeminiModel calls Gemini through the genai client.
type GeminiModel struct {
	client *genai.Client
	name   string
}

// NewGeminiModel creates a Gemini API client. An empty apiKey falls back
// to the environment (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiModel(ctx context.Context, name, apiKey string) (*GeminiModel, error) {
	if name == "" {
		name = DefaultModelName
	}
	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cc.APIKey = apiKey
		cc.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiModel: create genai client: %w", err)
	}
	return &GeminiModel{client: client, name: name}, nil
}

func (g *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.name, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}
