package tax

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
	"github.com/dvloznov/taxledger/internal/store"
	"github.com/dvloznov/taxledger/internal/store/memory"
)

const company = "company-1"

func entry(id, day string, kind domain.EntryKind, net int64, code, category string) domain.LedgerEntry {
	d, err := civil.ParseDate(day)
	if err != nil {
		panic(err)
	}
	return domain.LedgerEntry{
		ID:        id,
		CompanyID: company,
		Date:      d,
		Kind:      kind,
		NetAmount: money.New(net, "EUR"),
		VATCode:   code,
		Category:  category,
	}
}

func newTestEngine(t *testing.T, entries ...domain.LedgerEntry) (*Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	if err := s.AddLedgerEntries(context.Background(), entries); err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(s, s, DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	n := 0
	e.newID = func() string { n++; return fmt.Sprintf("report-%d", n) }
	e.now = func() time.Time { return time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC) }
	return e, s
}

func q1Entries() []domain.LedgerEntry {
	return []domain.LedgerEntry{
		entry("e1", "2024-01-10", domain.Income, 100000, VATStandard, ""),
		entry("e2", "2024-02-20", domain.Income, 50000, VATStandard, ""),
		entry("e3", "2024-03-05", domain.Expense, 30000, VATStandard, "Software"),
	}
}

func TestGenerateReport_Q1UStScenario(t *testing.T) {
	e, _ := newTestEngine(t, q1Entries()...)

	r, err := e.GenerateReport(context.Background(), company, domain.ReportUSt, domain.QuarterPeriod(2024, 1))
	if err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	f := r.Figures
	if f.OutputVAT.String() != "285.00 EUR" {
		t.Errorf("OutputVAT = %s, want 285.00 EUR", f.OutputVAT)
	}
	if f.InputVAT.String() != "57.00 EUR" {
		t.Errorf("InputVAT = %s, want 57.00 EUR", f.InputVAT)
	}
	if f.NetLiability.String() != "228.00 EUR" {
		t.Errorf("NetLiability = %s, want 228.00 EUR", f.NetLiability)
	}
	if r.Status != domain.ReportDraft || f.EntryCount != 3 {
		t.Errorf("report = %+v", r)
	}
	if len(f.IncomeByRate) != 1 || f.IncomeByRate[0].Net.Minor != 150000 || f.IncomeByRate[0].Rate != "0.19" {
		t.Errorf("IncomeByRate = %+v", f.IncomeByRate)
	}
}

func TestEntryVAT_RoundHalfUp(t *testing.T) {
	tests := []struct {
		net  int64
		rate string
		want int64
	}{
		{100000, "0.19", 19000},
		{21008, "0.19", 3992},
		{50, "0.07", 4},
		{150, "0.19", 29},
		{-150, "0.19", -29},
		{1, "0.19", 0},
		{26316, "0.19", 5000},
		{7143, "0.07", 500},
		{12345, "0", 0},
	}
	for _, tt := range tests {
		got, err := EntryVAT(money.New(tt.net, "EUR"), decimal.RequireFromString(tt.rate))
		if err != nil {
			t.Fatalf("EntryVAT(%d, %s) error = %v", tt.net, tt.rate, err)
		}
		if got.Minor != tt.want {
			t.Errorf("EntryVAT(%d, %s) = %d, want %d", tt.net, tt.rate, got.Minor, tt.want)
		}
	}
}

func TestComputePeriod_OrderIndependent(t *testing.T) {
	// Each 0.05 EUR line at 19% rounds to 0.01; summing first would give 0.06.
	var entries []domain.LedgerEntry
	for i := 0; i < 7; i++ {
		entries = append(entries, entry(fmt.Sprintf("i%d", i), "2024-01-15", domain.Income, 5, VATStandard, ""))
		entries = append(entries, entry(fmt.Sprintf("x%d", i), "2024-01-16", domain.Expense, 1234+int64(i), VATReduced, "Bürobedarf"))
	}
	cfg := DefaultConfig()

	want, err := computeFigures(cfg, entries, incomeStrict)
	if err != nil {
		t.Fatal(err)
	}
	if want.OutputVAT.Minor != 7 {
		t.Errorf("OutputVAT = %d, want 7 (per-entry rounding)", want.OutputVAT.Minor)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.LedgerEntry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := computeFigures(cfg, shuffled, incomeStrict)
		if err != nil {
			t.Fatal(err)
		}
		if got.OutputVAT != want.OutputVAT || got.InputVAT != want.InputVAT || got.TaxableIncome != want.TaxableIncome {
			t.Fatalf("shuffle %d: figures differ: %+v vs %+v", i, got, want)
		}
		var sum int64
		for _, e := range shuffled {
			if e.Kind == domain.Expense {
				vat, _ := EntryVAT(e.NetAmount, cfg.VATRates[VATReduced])
				sum += vat.Minor
			}
		}
		if sum != got.InputVAT.Minor {
			t.Errorf("InputVAT = %d, sum of entry VAT = %d", got.InputVAT.Minor, sum)
		}
	}
}

func TestComputePeriod_Boundaries(t *testing.T) {
	e, _ := newTestEngine(t,
		entry("before", "2023-12-31", domain.Income, 1000, VATStandard, ""),
		entry("first", "2024-01-01", domain.Income, 2000, VATStandard, ""),
		entry("last", "2024-03-31", domain.Income, 4000, VATStandard, ""),
		entry("after", "2024-04-01", domain.Income, 8000, VATStandard, ""),
	)
	f, err := e.ComputePeriod(context.Background(), company, domain.QuarterPeriod(2024, 1))
	if err != nil {
		t.Fatal(err)
	}
	if f.Revenue.Minor != 6000 || f.EntryCount != 2 {
		t.Errorf("Revenue = %d over %d entries, want 6000 over 2", f.Revenue.Minor, f.EntryCount)
	}
}

func TestComputePeriod_IncomeFigures(t *testing.T) {
	e, _ := newTestEngine(t,
		entry("i1", "2024-05-01", domain.Income, 500000, VATStandard, ""),
		entry("x1", "2024-05-02", domain.Expense, 100000, VATStandard, "Miete"),
		entry("x2", "2024-05-03", domain.Expense, 20000, VATZero, "Bußgelder"),
		entry("x3", "2024-05-04", domain.Expense, 5000, VATExempt, "versicherungen"),
	)
	f, err := e.ComputePeriod(context.Background(), company, domain.MonthPeriod(2024, 5))
	if err != nil {
		t.Fatal(err)
	}
	if f.DeductibleExpenses.Minor != 105000 || f.NonDeductibleExpenses.Minor != 20000 {
		t.Errorf("deductible = %d, non-deductible = %d", f.DeductibleExpenses.Minor, f.NonDeductibleExpenses.Minor)
	}
	if f.TaxableIncome.Minor != 395000 {
		t.Errorf("TaxableIncome = %d, want 395000", f.TaxableIncome.Minor)
	}
	if f.InputVAT.Minor != 19000 {
		t.Errorf("InputVAT = %d, want 19000", f.InputVAT.Minor)
	}
}

func TestGenerateReport_UnknownCodes(t *testing.T) {
	tests := []struct {
		name       string
		entry      domain.LedgerEntry
		reportType domain.ReportType
		check      func(error) bool
	}{
		{
			name:       "unknown VAT code",
			entry:      entry("bad", "2024-01-10", domain.Income, 1000, "super-reduced", ""),
			reportType: domain.ReportUSt,
			check: func(err error) bool {
				var target *UnknownVATRateError
				return errors.As(err, &target) && target.EntryID == "bad"
			},
		},
		{
			name:       "unknown category in EÜR",
			entry:      entry("bad", "2024-01-10", domain.Expense, 1000, VATStandard, "Yacht"),
			reportType: domain.ReportEUER,
			check: func(err error) bool {
				var target *UnknownCategoryError
				return errors.As(err, &target) && target.Category == "Yacht"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s := newTestEngine(t, tt.entry)
			_, err := e.GenerateReport(context.Background(), company, tt.reportType, domain.QuarterPeriod(2024, 1))
			if !tt.check(err) {
				t.Errorf("GenerateReport() error = %v", err)
			}
			reports, _ := s.ListReports(context.Background(), company)
			if len(reports) != 0 {
				t.Errorf("stored %d reports after failure", len(reports))
			}
		})
	}
}

func TestGenerateReport_UnknownCategoryIgnoredForUSt(t *testing.T) {
	e, _ := newTestEngine(t, entry("x", "2024-01-10", domain.Expense, 1000, VATStandard, "Yacht"))
	r, err := e.GenerateReport(context.Background(), company, domain.ReportUSt, domain.QuarterPeriod(2024, 1))
	if err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	if r.Figures.InputVAT.Minor != 190 {
		t.Errorf("InputVAT = %d, want 190", r.Figures.InputVAT.Minor)
	}
}

func TestComputePeriod_UnknownCategoryKeepsVATFigures(t *testing.T) {
	e, _ := newTestEngine(t,
		entry("x", "2024-01-10", domain.Expense, 1000, VATStandard, "Yacht"),
		entry("y", "2024-01-11", domain.Income, 5000, VATStandard, ""),
	)
	f, err := e.ComputePeriod(context.Background(), company, domain.QuarterPeriod(2024, 1))
	if err != nil {
		t.Fatalf("ComputePeriod() error = %v", err)
	}
	if f.InputVAT.Minor != 190 || f.OutputVAT.Minor != 950 || f.NetLiability.Minor != 760 {
		t.Errorf("VAT figures = %s / %s / %s", f.InputVAT, f.OutputVAT, f.NetLiability)
	}
	if len(f.UncategorizedEntries) != 1 || f.UncategorizedEntries[0] != "x" {
		t.Errorf("UncategorizedEntries = %v, want [x]", f.UncategorizedEntries)
	}
	if !f.TaxableIncome.IsZero() || !f.Revenue.IsZero() {
		t.Errorf("income figures computed despite unknown category: %+v", f)
	}

	if _, err := e.GenerateReport(context.Background(), company, domain.ReportEUER, domain.YearPeriod(2024)); err == nil {
		t.Error("GenerateReport(EUER) accepted an unknown category")
	}
}

func TestGenerateReport_DraftOverwriteAndDuplicatePeriod(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, q1Entries()...)
	q1 := domain.QuarterPeriod(2024, 1)

	first, err := e.GenerateReport(ctx, company, domain.ReportUSt, q1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddLedgerEntries(ctx, []domain.LedgerEntry{entry("e4", "2024-03-30", domain.Income, 10000, VATReduced, "")}); err != nil {
		t.Fatal(err)
	}
	second, err := e.GenerateReport(ctx, company, domain.ReportUSt, q1)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("regenerated draft got ID %s, want %s", second.ID, first.ID)
	}
	if second.Figures.OutputVAT.Minor != 28500+700 {
		t.Errorf("OutputVAT = %d, want 29200", second.Figures.OutputVAT.Minor)
	}
	reports, _ := s.ListReports(ctx, company)
	if len(reports) != 1 {
		t.Errorf("stored %d reports, want 1", len(reports))
	}

	if _, err := e.Transition(ctx, company, first.ID, domain.ReportSubmitted); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	_, err = e.GenerateReport(ctx, company, domain.ReportUSt, q1)
	var dup *DuplicatePeriodError
	if !errors.As(err, &dup) || dup.ReportID != first.ID {
		t.Fatalf("GenerateReport() error = %v, want *DuplicatePeriodError", err)
	}

	// Another report type for the same period is independent.
	if _, err := e.GenerateReport(ctx, company, domain.ReportEUER, q1); err != nil {
		t.Errorf("EÜR for submitted USt period: %v", err)
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name  string
		path  []domain.ReportStatus
		valid bool
	}{
		{"full workflow", []domain.ReportStatus{domain.ReportGenerated, domain.ReportSubmitted, domain.ReportApproved}, true},
		{"draft straight to submitted", []domain.ReportStatus{domain.ReportSubmitted, domain.ReportRejected}, true},
		{"draft to approved", []domain.ReportStatus{domain.ReportApproved}, false},
		{"back to draft", []domain.ReportStatus{domain.ReportGenerated, domain.ReportDraft}, false},
		{"after approval", []domain.ReportStatus{domain.ReportSubmitted, domain.ReportApproved, domain.ReportRejected}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, _ := newTestEngine(t, q1Entries()...)
			r, err := e.GenerateReport(ctx, company, domain.ReportUSt, domain.QuarterPeriod(2024, 1))
			if err != nil {
				t.Fatal(err)
			}
			var lastErr error
			for _, to := range tt.path {
				r2, err := e.Transition(ctx, company, r.ID, to)
				if err != nil {
					lastErr = err
					break
				}
				r = r2
			}
			if tt.valid && lastErr != nil {
				t.Errorf("Transition() error = %v", lastErr)
			}
			if !tt.valid {
				var inv *InvalidTransitionError
				if !errors.As(lastErr, &inv) {
					t.Errorf("Transition() error = %v, want *InvalidTransitionError", lastErr)
				}
			}
		})
	}
}

func TestTransition_SubmitSetsTimestampAndFreezes(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, q1Entries()...)
	r, _ := e.GenerateReport(ctx, company, domain.ReportUSt, domain.QuarterPeriod(2024, 1))

	sub, err := e.Transition(ctx, company, r.ID, domain.ReportSubmitted)
	if err != nil {
		t.Fatal(err)
	}
	if sub.SubmittedAt == nil {
		t.Error("SubmittedAt not set")
	}
	sub.Figures.OutputVAT = money.New(1, "EUR")
	if err := s.SaveReport(ctx, sub); !errors.Is(err, store.ErrReportImmutable) {
		t.Errorf("SaveReport() on submitted report error = %v, want ErrReportImmutable", err)
	}
}

func TestGenerateCorrection(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, q1Entries()...)
	q1 := domain.QuarterPeriod(2024, 1)
	orig, _ := e.GenerateReport(ctx, company, domain.ReportUSt, q1)

	if _, err := e.GenerateCorrection(ctx, company, orig.ID); err == nil {
		t.Error("correction of a draft accepted")
	}
	if _, err := e.Transition(ctx, company, orig.ID, domain.ReportSubmitted); err != nil {
		t.Fatal(err)
	}

	// A late expense arrives after submission.
	if err := s.AddLedgerEntries(ctx, []domain.LedgerEntry{entry("late", "2024-03-31", domain.Expense, 10000, VATStandard, "Software")}); err != nil {
		t.Fatal(err)
	}
	corr, err := e.GenerateCorrection(ctx, company, orig.ID)
	if err != nil {
		t.Fatalf("GenerateCorrection() error = %v", err)
	}
	if corr.CorrectsReportID == nil || *corr.CorrectsReportID != orig.ID || corr.ID == orig.ID {
		t.Errorf("correction = %+v", corr)
	}
	if corr.Figures.NetLiability.Minor != 22800-1900 {
		t.Errorf("NetLiability = %d, want 20900", corr.Figures.NetLiability.Minor)
	}
	again, err := e.GenerateCorrection(ctx, company, orig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != corr.ID {
		t.Errorf("second correction got ID %s, want %s", again.ID, corr.ID)
	}

	stored, _ := s.GetReport(ctx, company, orig.ID)
	if stored.Figures.NetLiability.Minor != 22800 {
		t.Errorf("submitted figures changed to %d", stored.Figures.NetLiability.Minor)
	}
	if _, err := e.Transition(ctx, company, corr.ID, domain.ReportSubmitted); err != nil {
		t.Errorf("submitting correction: %v", err)
	}
}

func TestGenerateReport_GewSt(t *testing.T) {
	e, _ := newTestEngine(t,
		entry("i1", "2024-03-01", domain.Income, 12000000, VATStandard, ""),
		entry("x1", "2024-06-01", domain.Expense, 2000000, VATStandard, "Fremdleistungen"),
		entry("x2", "2024-06-02", domain.Expense, 500000, VATZero, "Einkommensteuer"),
	)
	ctx := context.Background()

	if _, err := e.GenerateReport(ctx, company, domain.ReportGewSt, domain.QuarterPeriod(2024, 1)); err == nil {
		t.Error("quarterly GewSt report accepted")
	}
	r, err := e.GenerateReport(ctx, company, domain.ReportGewSt, domain.YearPeriod(2024))
	if err != nil {
		t.Fatal(err)
	}
	tt := r.Figures.TradeTax
	if tt == nil {
		t.Fatal("TradeTax figures missing")
	}
	// 100000.00 - 24500.00 = 75500.00; x 3.5% = 2642.50; x 400% = 10570.00
	if tt.Base.Minor != 7550000 || tt.Messbetrag.Minor != 264250 || tt.TradeTax.Minor != 1057000 {
		t.Errorf("trade tax = %+v", tt)
	}
}

func TestTradeTax(t *testing.T) {
	cfg := DefaultConfig().TradeTax
	tests := []struct {
		income   int64
		base     int64
		tradeTax int64
	}{
		{6004999, 3550000, 497000},
		{2450000, 0, 0},
		{-100000, 0, 0},
		{2459999, 0, 0},
		{2460000, 10000, 1400},
	}
	for _, tt := range tests {
		got, err := TradeTax(cfg, money.New(tt.income, "EUR"))
		if err != nil {
			t.Fatal(err)
		}
		if got.Base.Minor != tt.base || got.TradeTax.Minor != tt.tradeTax {
			t.Errorf("TradeTax(%d) = base %d, tax %d; want %d, %d", tt.income, got.Base.Minor, got.TradeTax.Minor, tt.base, tt.tradeTax)
		}
	}
}

func TestValidateCategory(t *testing.T) {
	cfg := DefaultConfig()
	got, err := cfg.ValidateCategory("  bürobedarf ")
	if err != nil || got != "Bürobedarf" {
		t.Errorf("ValidateCategory() = %q, %v", got, err)
	}
	var unknown *UnknownCategoryError
	if _, err := cfg.ValidateCategory("Yacht"); !errors.As(err, &unknown) {
		t.Errorf("ValidateCategory(Yacht) error = %v", err)
	}
}

type recordingSink struct {
	reports []domain.TaxReport
	err     error
}

func (r *recordingSink) ExportReport(ctx context.Context, rep *domain.TaxReport) error {
	r.reports = append(r.reports, *rep)
	return r.err
}

func TestReportSink(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, q1Entries()...)
	sink := &recordingSink{err: errors.New("warehouse down")}
	e.SetReportSink(sink)

	r, err := e.GenerateReport(ctx, company, domain.ReportUSt, domain.QuarterPeriod(2024, 1))
	if err != nil {
		t.Fatalf("GenerateReport() error = %v, sink failures must not fail the call", err)
	}
	if _, err := e.Transition(ctx, company, r.ID, domain.ReportSubmitted); err != nil {
		t.Fatal(err)
	}

	if len(sink.reports) != 2 {
		t.Fatalf("exported %d versions, want 2", len(sink.reports))
	}
	if sink.reports[0].Status != domain.ReportDraft || sink.reports[1].Status != domain.ReportSubmitted {
		t.Errorf("exported statuses = %s, %s", sink.reports[0].Status, sink.reports[1].Status)
	}
}
