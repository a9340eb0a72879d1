package tax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/store"
)

// transitions lists the allowed report status changes.
var transitions = map[domain.ReportStatus][]domain.ReportStatus{
	domain.ReportDraft:     {domain.ReportGenerated, domain.ReportSubmitted},
	domain.ReportGenerated: {domain.ReportSubmitted},
	domain.ReportSubmitted: {domain.ReportApproved, domain.ReportRejected},
}

// CanTransition reports whether a report may move from one status to another.
func CanTransition(from, to domain.ReportStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Engine computes period figures from the ledger and keeps tax reports.
// It never locks or mutates invoices or bank transactions.
type Engine struct {
	ledger  store.LedgerReader
	reports store.ReportStore
	cfg     Config
	now     func() time.Time
	newID   func() string
	sink    ReportSink
}

// ReportSink receives a copy of every saved report version, e.g. the
// analytics warehouse. Sink failures are logged and do not fail the call.
type ReportSink interface {
	ExportReport(ctx context.Context, r *domain.TaxReport) error
}

// NewEngine creates an Engine.
func NewEngine(ledger store.LedgerReader, reports store.ReportStore, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	return &Engine{
		ledger:  ledger,
		reports: reports,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}, nil
}

// SetReportSink installs s; nil disables exporting.
func (e *Engine) SetReportSink(s ReportSink) { e.sink = s }

func (e *Engine) export(ctx context.Context, r *domain.TaxReport) {
	if e.sink == nil {
		return
	}
	if err := e.sink.ExportReport(ctx, r); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("report_id", r.ID).Msg("failed to export tax report")
	}
}

// Config returns the engine's rate and category table.
func (e *Engine) Config() Config { return e.cfg }

// ComputePeriod returns VAT and income figures for the period. Unknown
// expense categories do not block the VAT figures: income figures are then
// left at zero and the affected entries are listed in UncategorizedEntries.
func (e *Engine) ComputePeriod(ctx context.Context, companyID string, period domain.Period) (*domain.Figures, error) {
	entries, err := e.entries(ctx, companyID, period)
	if err != nil {
		return nil, fmt.Errorf("ComputePeriod: %w", err)
	}
	f, err := computeFigures(e.cfg, entries, incomeIfCategorized)
	if err != nil {
		return nil, fmt.Errorf("ComputePeriod: %s: %w", period, err)
	}
	return f, nil
}

func (e *Engine) entries(ctx context.Context, companyID string, period domain.Period) ([]domain.LedgerEntry, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	from, to := period.Range()
	entries, err := e.ledger.ListLedgerEntries(ctx, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return entries, nil
}

// figuresFor computes what a report of reportType shows.
func (e *Engine) figuresFor(ctx context.Context, companyID string, reportType domain.ReportType, period domain.Period) (*domain.Figures, error) {
	if reportType == domain.ReportGewSt && period.Kind() != domain.PeriodYear {
		return nil, fmt.Errorf("%s reports cover a calendar year, got %s", reportType, period)
	}
	entries, err := e.entries(ctx, companyID, period)
	if err != nil {
		return nil, err
	}

	switch reportType {
	case domain.ReportUSt:
		return computeFigures(e.cfg, entries, vatOnly)
	case domain.ReportEUER:
		return computeFigures(e.cfg, entries, incomeStrict)
	case domain.ReportGewSt:
		f, err := computeFigures(e.cfg, entries, incomeStrict)
		if err != nil {
			return nil, err
		}
		if f.TradeTax, err = TradeTax(e.cfg.TradeTax, f.TaxableIncome); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("unknown report type %q", reportType)
}

// GenerateReport computes the figures for the period and stores them as a
// draft. An existing draft or generated report is overwritten in place; a
// submitted or approved one yields *DuplicatePeriodError.
func (e *Engine) GenerateReport(ctx context.Context, companyID string, reportType domain.ReportType, period domain.Period) (*domain.TaxReport, error) {
	log := logger.FromContext(ctx).With().
		Str("company_id", companyID).
		Str("report_type", string(reportType)).
		Str("period", period.Key()).
		Logger()

	existing, err := e.reports.FindReports(ctx, companyID, reportType, period)
	if err != nil {
		return nil, fmt.Errorf("GenerateReport: finding reports: %w", err)
	}
	id := ""
	for _, r := range existing {
		if r.CorrectsReportID != nil {
			continue
		}
		if r.Status.IsClosed() {
			return nil, &DuplicatePeriodError{
				CompanyID:  companyID,
				ReportType: reportType,
				Period:     period,
				ReportID:   r.ID,
				Status:     r.Status,
			}
		}
		if !r.Status.IsFrozen() {
			id = r.ID
		}
	}

	figures, err := e.figuresFor(ctx, companyID, reportType, period)
	if err != nil {
		return nil, fmt.Errorf("GenerateReport: %w", err)
	}

	if id == "" {
		id = e.newID()
	}
	report := &domain.TaxReport{
		ID:          id,
		CompanyID:   companyID,
		ReportType:  reportType,
		Period:      period,
		Status:      domain.ReportDraft,
		Figures:     *figures,
		GeneratedAt: e.now(),
	}
	if err := e.reports.SaveReport(ctx, report); err != nil {
		if errors.Is(err, store.ErrReportImmutable) || errors.Is(err, store.ErrDuplicateReport) {
			// Submitted concurrently.
			return nil, fmt.Errorf("GenerateReport: %w", err)
		}
		return nil, fmt.Errorf("GenerateReport: saving report: %w", err)
	}

	log.Info().
		Str("report_id", report.ID).
		Int("entries", figures.EntryCount).
		Str("net_liability", figures.NetLiability.String()).
		Msg("tax report generated")
	e.export(ctx, report)
	return report, nil
}

// Transition moves a report along draft -> generated -> submitted ->
// approved|rejected (draft may be submitted directly).
func (e *Engine) Transition(ctx context.Context, companyID, reportID string, to domain.ReportStatus) (*domain.TaxReport, error) {
	r, err := e.reports.GetReport(ctx, companyID, reportID)
	if err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}
	if !CanTransition(r.Status, to) {
		return nil, &InvalidTransitionError{ReportID: reportID, From: r.Status, To: to}
	}
	if to == domain.ReportSubmitted && r.CorrectsReportID == nil {
		if err := e.checkSubmittable(ctx, r); err != nil {
			return nil, err
		}
	}

	if err := e.reports.UpdateReportStatus(ctx, companyID, reportID, r.Status, to, e.now()); err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}
	updated, err := e.reports.GetReport(ctx, companyID, reportID)
	if err != nil {
		return nil, fmt.Errorf("Transition: reloading report: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("report_id", reportID).
		Str("from", string(r.Status)).
		Str("to", string(to)).
		Msg("tax report status changed")
	e.export(ctx, updated)
	return updated, nil
}

// checkSubmittable refuses a second submission for a closed period.
func (e *Engine) checkSubmittable(ctx context.Context, r *domain.TaxReport) error {
	others, err := e.reports.FindReports(ctx, r.CompanyID, r.ReportType, r.Period)
	if err != nil {
		return fmt.Errorf("Transition: finding reports: %w", err)
	}
	for _, o := range others {
		if o.ID != r.ID && o.CorrectsReportID == nil && o.Status.IsClosed() {
			return &DuplicatePeriodError{
				CompanyID:  r.CompanyID,
				ReportType: r.ReportType,
				Period:     r.Period,
				ReportID:   o.ID,
				Status:     o.Status,
			}
		}
	}
	return nil
}

// GenerateCorrection recomputes a submitted, approved or rejected report
// as a new draft referencing it. An open correction of the same report is
// overwritten.
func (e *Engine) GenerateCorrection(ctx context.Context, companyID, reportID string) (*domain.TaxReport, error) {
	orig, err := e.reports.GetReport(ctx, companyID, reportID)
	if err != nil {
		return nil, fmt.Errorf("GenerateCorrection: %w", err)
	}
	if !orig.Status.IsFrozen() {
		return nil, fmt.Errorf("GenerateCorrection: report %s is %s; regenerate it instead", reportID, orig.Status)
	}

	existing, err := e.reports.FindReports(ctx, companyID, orig.ReportType, orig.Period)
	if err != nil {
		return nil, fmt.Errorf("GenerateCorrection: finding reports: %w", err)
	}
	id := ""
	for _, r := range existing {
		if r.CorrectsReportID != nil && *r.CorrectsReportID == orig.ID && !r.Status.IsFrozen() {
			id = r.ID
		}
	}

	figures, err := e.figuresFor(ctx, companyID, orig.ReportType, orig.Period)
	if err != nil {
		return nil, fmt.Errorf("GenerateCorrection: %w", err)
	}
	if id == "" {
		id = e.newID()
	}
	corrects := orig.ID
	report := &domain.TaxReport{
		ID:               id,
		CompanyID:        companyID,
		ReportType:       orig.ReportType,
		Period:           orig.Period,
		Status:           domain.ReportDraft,
		Figures:          *figures,
		GeneratedAt:      e.now(),
		CorrectsReportID: &corrects,
	}
	if err := e.reports.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("GenerateCorrection: saving report: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("report_id", report.ID).Str("corrects", orig.ID).Msg("correction report generated")
	e.export(ctx, report)
	return report, nil
}
