package memory

import (
	"time"

	"github.com/dvloznov/taxledger/internal/domain"
)

// Copies are handed out so callers never alias stored state.

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneStatement(st *domain.BankStatement) *domain.BankStatement {
	c := *st
	c.Summary = cloneSummary(st.Summary)
	return &c
}

func cloneSummary(s *domain.ReconciliationSummary) *domain.ReconciliationSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Reviews = make([]domain.ReviewItem, len(s.Reviews))
	for i, r := range s.Reviews {
		r.Candidates = append([]domain.ReviewCandidate(nil), r.Candidates...)
		c.Reviews[i] = r
	}
	c.CandidateErrors = append([]domain.CandidateError(nil), s.CandidateErrors...)
	return &c
}

func cloneTransaction(tx *domain.LedgerTransaction) *domain.LedgerTransaction {
	c := *tx
	c.Category = cloneString(tx.Category)
	c.MatchedInvoiceID = cloneString(tx.MatchedInvoiceID)
	return &c
}

func cloneReport(r *domain.TaxReport) *domain.TaxReport {
	c := *r
	c.SubmittedAt = cloneTime(r.SubmittedAt)
	c.CorrectsReportID = cloneString(r.CorrectsReportID)
	c.Figures.IncomeByRate = append([]domain.RateBreakdown(nil), r.Figures.IncomeByRate...)
	c.Figures.ExpenseByRate = append([]domain.RateBreakdown(nil), r.Figures.ExpenseByRate...)
	if r.Figures.TradeTax != nil {
		tt := *r.Figures.TradeTax
		c.Figures.TradeTax = &tt
	}
	return &c
}
