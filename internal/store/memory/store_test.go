package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
	"github.com/dvloznov/taxledger/internal/store"
)

func testStatement(id string) (*domain.BankStatement, []domain.LedgerTransaction) {
	st := &domain.BankStatement{
		ID:             id,
		CompanyID:      "c1",
		AccountID:      "DE89370400440532013000",
		StatementDate:  civil.Date{Year: 2024, Month: 1, Day: 15},
		OpeningBalance: money.New(100000, "EUR"),
		ClosingBalance: money.New(125000, "EUR"),
		ContentHash:    "abc",
		Status:         domain.StatementImported,
	}
	txs := []domain.LedgerTransaction{{
		ID:          id + "-tx0",
		StatementID: id,
		CompanyID:   "c1",
		Amount:      money.New(25000, "EUR"),
		MatchState:  domain.Unmatched,
	}}
	return st, txs
}

func TestCreateStatement_UniqueKeyUnderConcurrency(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, duplicates := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, txs := testStatement(fmt.Sprintf("st-%d", i))
			err := s.CreateStatement(ctx, st, txs)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrDuplicateStatement):
				duplicates++
			default:
				t.Errorf("CreateStatement() unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 || duplicates != 19 {
		t.Fatalf("created=%d duplicates=%d, want 1 and 19", created, duplicates)
	}
	list, _ := s.ListStatements(ctx, "c1")
	if len(list) != 1 {
		t.Errorf("ListStatements() returned %d statements", len(list))
	}
}

func TestApplyAutoMatch_CompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()

	st1, txs1 := testStatement("st-1")
	st2, txs2 := testStatement("st-2")
	st2.ContentHash = "def"
	if err := s.CreateStatement(ctx, st1, txs1); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateStatement(ctx, st2, txs2); err != nil {
		t.Fatal(err)
	}
	_ = s.UpsertInvoice(ctx, &domain.Invoice{ID: "inv-1", CompanyID: "c1", Status: domain.InvoiceOverdue, TotalAmount: money.New(25000, "EUR")})

	if err := s.ApplyAutoMatch(ctx, "c1", "st-1-tx0", "inv-1"); err != nil {
		t.Fatalf("first ApplyAutoMatch() error: %v", err)
	}
	if err := s.ApplyAutoMatch(ctx, "c1", "st-2-tx0", "inv-1"); !errors.Is(err, store.ErrInvoiceNotOpen) {
		t.Errorf("second ApplyAutoMatch() error = %v, want ErrInvoiceNotOpen", err)
	}
	if err := s.ApplyAutoMatch(ctx, "c1", "st-1-tx0", "inv-1"); !errors.Is(err, store.ErrTransactionNotUnmatched) {
		t.Errorf("repeat ApplyAutoMatch() error = %v, want ErrTransactionNotUnmatched", err)
	}

	tx2, _ := s.GetTransaction(ctx, "c1", "st-2-tx0")
	if tx2.MatchState != domain.Unmatched || tx2.MatchedInvoiceID != nil {
		t.Errorf("losing transaction changed: %+v", tx2)
	}

	if err := s.ResetMatch(ctx, "c1", "st-1-tx0"); err != nil {
		t.Fatalf("ResetMatch() error: %v", err)
	}
	inv, _ := s.GetInvoice(ctx, "c1", "inv-1")
	if inv.Status != domain.InvoiceOverdue {
		t.Errorf("invoice status after reset = %s, want overdue", inv.Status)
	}
}

func TestSaveReport_Immutability(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := &domain.TaxReport{
		ID:         "r1",
		CompanyID:  "c1",
		ReportType: domain.ReportUSt,
		Period:     domain.QuarterPeriod(2024, 1),
		Status:     domain.ReportGenerated,
	}
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatal(err)
	}

	second := *r
	second.ID = "r2"
	if err := s.SaveReport(ctx, &second); !errors.Is(err, store.ErrDuplicateReport) {
		t.Errorf("second open report error = %v, want ErrDuplicateReport", err)
	}

	now := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	if err := s.UpdateReportStatus(ctx, "c1", "r1", domain.ReportGenerated, domain.ReportSubmitted, now); err != nil {
		t.Fatalf("UpdateReportStatus() error: %v", err)
	}

	changed := *r
	changed.Figures.OutputVAT = money.New(1, "EUR")
	if err := s.SaveReport(ctx, &changed); !errors.Is(err, store.ErrReportImmutable) {
		t.Errorf("SaveReport() on submitted report error = %v, want ErrReportImmutable", err)
	}

	got, _ := s.GetReport(ctx, "c1", "r1")
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(now) {
		t.Errorf("SubmittedAt = %v", got.SubmittedAt)
	}
	if err := s.UpdateReportStatus(ctx, "c1", "r1", domain.ReportGenerated, domain.ReportSubmitted, now); !errors.Is(err, store.ErrInvalidState) {
		t.Errorf("stale UpdateReportStatus() error = %v, want ErrInvalidState", err)
	}
}

func TestUpdateReportStatus_OneClosedReportPerPeriod(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)

	base := domain.TaxReport{
		CompanyID:  "c1",
		ReportType: domain.ReportUSt,
		Period:     domain.QuarterPeriod(2024, 1),
		Status:     domain.ReportGenerated,
	}
	r1 := base
	r1.ID = "r1"
	if err := s.SaveReport(ctx, &r1); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateReportStatus(ctx, "c1", "r1", domain.ReportGenerated, domain.ReportSubmitted, now); err != nil {
		t.Fatal(err)
	}

	r2 := base
	r2.ID = "r2"
	if err := s.SaveReport(ctx, &r2); err != nil {
		t.Fatalf("open report next to a closed one: %v", err)
	}
	for _, to := range []domain.ReportStatus{domain.ReportSubmitted, domain.ReportApproved} {
		if err := s.UpdateReportStatus(ctx, "c1", "r2", domain.ReportGenerated, to, now); !errors.Is(err, store.ErrDuplicateReport) {
			t.Errorf("UpdateReportStatus(%s) error = %v, want ErrDuplicateReport", to, err)
		}
	}
	if got, _ := s.GetReport(ctx, "c1", "r2"); got.Status != domain.ReportGenerated {
		t.Errorf("rejected transition changed status to %s", got.Status)
	}

	corrects := "r1"
	correction := base
	correction.ID = "r3"
	correction.CorrectsReportID = &corrects
	if err := s.SaveReport(ctx, &correction); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateReportStatus(ctx, "c1", "r3", domain.ReportGenerated, domain.ReportSubmitted, now); err != nil {
		t.Errorf("correction submit error = %v", err)
	}

	if err := s.UpdateReportStatus(ctx, "c1", "r1", domain.ReportSubmitted, domain.ReportRejected, now); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateReportStatus(ctx, "c1", "r2", domain.ReportGenerated, domain.ReportSubmitted, now); err != nil {
		t.Errorf("submit after rejection error = %v", err)
	}
}

func TestUpdateReportStatus_ConcurrentSubmit(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	// "a" was rejected and "b" replaces it; both are submitted at once.
	if err := s.SaveReport(ctx, &domain.TaxReport{ID: "a", CompanyID: "c1", ReportType: domain.ReportUSt, Period: domain.QuarterPeriod(2024, 2), Status: domain.ReportGenerated}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateReportStatus(ctx, "c1", "a", domain.ReportGenerated, domain.ReportRejected, now); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveReport(ctx, &domain.TaxReport{ID: "b", CompanyID: "c1", ReportType: domain.ReportUSt, Period: domain.QuarterPeriod(2024, 2), Status: domain.ReportGenerated}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	transitions := []struct {
		id   string
		from domain.ReportStatus
	}{{"a", domain.ReportRejected}, {"b", domain.ReportGenerated}}
	for i, tr := range transitions {
		wg.Add(1)
		go func(i int, id string, from domain.ReportStatus) {
			defer wg.Done()
			errs[i] = s.UpdateReportStatus(ctx, "c1", id, from, domain.ReportSubmitted, now)
		}(i, tr.id, tr.from)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, store.ErrDuplicateReport):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d reports submitted for one period, want 1", ok)
	}
}

func TestSaveReport_OtherCompany(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := &domain.TaxReport{ID: "r1", CompanyID: "c1", ReportType: domain.ReportEUER, Period: domain.YearPeriod(2024), Status: domain.ReportDraft}
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatal(err)
	}

	hijack := *r
	hijack.CompanyID = "c2"
	if err := s.SaveReport(ctx, &hijack); !errors.Is(err, store.ErrReportImmutable) {
		t.Errorf("SaveReport() across companies error = %v, want ErrReportImmutable", err)
	}
	if _, err := s.GetReport(ctx, "c1", "r1"); err != nil {
		t.Errorf("original report lost: %v", err)
	}
	if _, err := s.GetReport(ctx, "c2", "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("report visible to other company: %v", err)
	}
}
