package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/store"
)

const reportColumns = `id, company_id, report_type, period_year, period_quarter, period_month, status,
	figures, generated_at, submitted_at, corrects_report_id`

func scanReport(row rowScanner) (*domain.TaxReport, error) {
	var (
		r         domain.TaxReport
		figures   []byte
		submitted sql.NullTime
		corrects  sql.NullString
	)
	err := row.Scan(&r.ID, &r.CompanyID, &r.ReportType, &r.Period.Year, &r.Period.Quarter, &r.Period.Month,
		&r.Status, &figures, &r.GeneratedAt, &submitted, &corrects)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(figures, &r.Figures); err != nil {
		return nil, fmt.Errorf("decoding figures: %w", err)
	}
	if submitted.Valid {
		t := submitted.Time
		r.SubmittedAt = &t
	}
	r.CorrectsReportID = stringPtr(corrects)
	return &r, nil
}

func (s *Store) queryReports(ctx context.Context, op, query string, args ...interface{}) ([]domain.TaxReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.TaxReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scanning: %w", op, err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// GetReport implements store.ReportStore.
func (s *Store) GetReport(ctx context.Context, companyID, reportID string) (*domain.TaxReport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM tax_reports
		WHERE company_id = $1 AND id = $2`, companyID, reportID)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetReport: %w", err)
	}
	return r, nil
}

// FindReports implements store.ReportStore.
func (s *Store) FindReports(ctx context.Context, companyID string, reportType domain.ReportType, period domain.Period) ([]domain.TaxReport, error) {
	return s.queryReports(ctx, "FindReports", `SELECT `+reportColumns+` FROM tax_reports
		WHERE company_id = $1 AND report_type = $2 AND period_year = $3 AND period_quarter = $4 AND period_month = $5
		ORDER BY generated_at, id`,
		companyID, string(reportType), period.Year, period.Quarter, period.Month)
}

// ListReports implements store.ReportStore.
func (s *Store) ListReports(ctx context.Context, companyID string) ([]domain.TaxReport, error) {
	return s.queryReports(ctx, "ListReports", `SELECT `+reportColumns+` FROM tax_reports
		WHERE company_id = $1 ORDER BY generated_at, id`, companyID)
}

// SaveReport implements store.ReportStore.
func (s *Store) SaveReport(ctx context.Context, r *domain.TaxReport) error {
	figures, err := json.Marshal(r.Figures)
	if err != nil {
		return fmt.Errorf("SaveReport: encoding figures: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO tax_reports (`+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			period_year = EXCLUDED.period_year,
			period_quarter = EXCLUDED.period_quarter,
			period_month = EXCLUDED.period_month,
			status = EXCLUDED.status,
			figures = EXCLUDED.figures,
			generated_at = EXCLUDED.generated_at
		WHERE tax_reports.company_id = EXCLUDED.company_id
			AND tax_reports.status NOT IN ('submitted', 'approved', 'rejected')`,
		r.ID, r.CompanyID, string(r.ReportType), r.Period.Year, r.Period.Quarter, r.Period.Month,
		string(r.Status), figures, r.GeneratedAt, r.SubmittedAt, nullString(r.CorrectsReportID))
	switch {
	case isRaise(err):
		return store.ErrReportImmutable
	case isUniqueViolation(err, "uq_tax_reports_open"), isUniqueViolation(err, "uq_tax_reports_closed"):
		return store.ErrDuplicateReport
	case err != nil:
		return fmt.Errorf("SaveReport: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrReportImmutable
	}
	return nil
}

// UpdateReportStatus implements store.ReportStore.
func (s *Store) UpdateReportStatus(ctx context.Context, companyID, reportID string, from, to domain.ReportStatus, at time.Time) error {
	var submittedAt interface{}
	if to == domain.ReportSubmitted {
		submittedAt = at
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tax_reports
		SET status = $4, submitted_at = COALESCE($5, submitted_at)
		WHERE company_id = $1 AND id = $2 AND status = $3`,
		companyID, reportID, string(from), string(to), submittedAt)
	if isUniqueViolation(err, "uq_tax_reports_closed") {
		return fmt.Errorf("UpdateReportStatus: %w", store.ErrDuplicateReport)
	}
	if err != nil {
		return fmt.Errorf("UpdateReportStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetReport(ctx, companyID, reportID); err != nil {
			return err
		}
		return fmt.Errorf("report %s is not %s: %w", reportID, from, store.ErrInvalidState)
	}
	return nil
}
