package reconcile

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/taxledger/internal/domain"
)

const maxScore = 10000

// candidate is an invoice that passed the amount gate.
type candidate struct {
	invoice *domain.Invoice
	due     civil.Date
	score   int
}

var (
	errMissingTotal = errors.New("invoice has no total amount")
	errMissingDate  = errors.New("invoice has neither a due date nor an invoice date")
)

// score rates inv as the settlement of tx. ok is false when the amount gate
// fails; err reports invoice data that cannot be scored.
func (c Config) score(tx *domain.LedgerTransaction, text textIndex, inv *domain.Invoice) (candidate, bool, error) {
	if inv.TotalAmount.Currency == "" {
		return candidate{}, false, errMissingTotal
	}
	if !inv.ExpectedPayment().Equal(tx.Amount) {
		return candidate{}, false, nil
	}

	due := inv.DueDate
	if due.IsZero() {
		due = inv.Date
	}
	if due.IsZero() || !due.IsValid() {
		return candidate{}, false, errMissingDate
	}

	date := c.dateScore(tx.BookingDate, due)
	ref := referenceScore(text, inv)
	return candidate{
		invoice: inv,
		due:     due,
		score:   (date*c.DateWeight + ref*c.ReferenceWeight) / 100,
	}, true, nil
}

// dateScore decays linearly from maxScore on the due date to 0 at the
// window edge.
func (c Config) dateScore(booked, due civil.Date) int {
	days := booked.DaysSince(due)
	if days < 0 {
		days = -days
	}
	if days >= c.DateWindowDays {
		return 0
	}
	return maxScore * (c.DateWindowDays - days) / c.DateWindowDays
}

// referenceScore is the better of the invoice-number and client-name
// overlaps with the transaction text.
func referenceScore(text textIndex, inv *domain.Invoice) int {
	num := numberScore(text, inv.InvoiceNumber)
	name := overlap(text, tokenize(inv.ClientName))
	if name > num {
		return name
	}
	return num
}

func numberScore(text textIndex, number string) int {
	compact := compactToken(number)
	if compact == "" {
		return 0
	}
	if text.compact[compact] {
		return maxScore
	}
	return overlap(text, tokenize(number))
}

// overlap is the share of want tokens found in the text, in basis points.
func overlap(text textIndex, want []string) int {
	if len(want) == 0 {
		return 0
	}
	hit := 0
	for _, w := range want {
		if text.tokens[w] {
			hit++
		}
	}
	return maxScore * hit / len(want)
}

// textIndex is the normalized searchable text of a transaction.
type textIndex struct {
	tokens map[string]bool
	// compact holds whitespace separated words and runs of adjacent tokens
	// with punctuation removed, so that INV-0042, INV0042 and "INV 0042"
	// meet.
	compact map[string]bool
}

func indexTransaction(tx *domain.LedgerTransaction) textIndex {
	idx := textIndex{tokens: map[string]bool{}, compact: map[string]bool{}}
	for _, s := range []string{tx.CounterpartyReference, tx.Description, tx.CounterpartyName} {
		toks := tokenize(s)
		for i, t := range toks {
			idx.tokens[t] = true
			run := t
			for j := i + 1; j < len(toks) && j < i+3; j++ {
				run += toks[j]
				idx.compact[run] = true
			}
			idx.compact[t] = true
		}
		for _, w := range strings.Fields(s) {
			if c := compactToken(w); c != "" {
				idx.compact[c] = true
			}
		}
	}
	return idx
}

// tokenize lower-cases s and splits it into letter/digit runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func compactToken(s string) string {
	return strings.Join(tokenize(s), "")
}

// rank orders candidates by score, then earlier due date, then lower
// invoice id.
func rank(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.due != b.due {
			return a.due.Before(b.due)
		}
		return a.invoice.ID < b.invoice.ID
	})
}
