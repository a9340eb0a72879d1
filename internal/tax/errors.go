package tax

import (
	"fmt"

	"github.com/dvloznov/taxledger/internal/domain"
)

// UnknownVATRateError means a ledger entry carries a VAT code without a rate.
// Report generation for the period fails; the entry is never taxed at 0%.
type UnknownVATRateError struct {
	EntryID string
	VATCode string
}

func (e *UnknownVATRateError) Error() string {
	return fmt.Sprintf("ledger entry %s: unknown VAT code %q", e.EntryID, e.VATCode)
}

// UnknownCategoryError means an expense category is missing from the
// category table, so its deductibility is unknown.
type UnknownCategoryError struct {
	EntryID  string
	Category string
}

func (e *UnknownCategoryError) Error() string {
	if e.EntryID == "" {
		return fmt.Sprintf("unknown category %q", e.Category)
	}
	return fmt.Sprintf("ledger entry %s: unknown category %q", e.EntryID, e.Category)
}

// DuplicatePeriodError is returned when the period already has a submitted
// or approved report of the same type.
type DuplicatePeriodError struct {
	CompanyID  string
	ReportType domain.ReportType
	Period     domain.Period
	ReportID   string
	Status     domain.ReportStatus
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("%s report for %s already %s (report %s); generate a correction instead",
		e.ReportType, e.Period, e.Status, e.ReportID)
}

// InvalidTransitionError is returned for a status change the workflow does
// not allow.
type InvalidTransitionError struct {
	ReportID string
	From     domain.ReportStatus
	To       domain.ReportStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("report %s: cannot move from %s to %s", e.ReportID, e.From, e.To)
}
