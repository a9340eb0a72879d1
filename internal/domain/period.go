package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// PeriodKind is the granularity of a tax period.
type PeriodKind string

const (
	PeriodMonth   PeriodKind = "month"
	PeriodQuarter PeriodKind = "quarter"
	PeriodYear    PeriodKind = "year"
)

// Period is a calendar tax period. Exactly one of Quarter and Month is set
// for quarterly and monthly periods; both are zero for a full year.
type Period struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter,omitempty"`
	Month   int `json:"month,omitempty"`
}

func MonthPeriod(year, month int) Period     { return Period{Year: year, Month: month} }
func QuarterPeriod(year, quarter int) Period { return Period{Year: year, Quarter: quarter} }
func YearPeriod(year int) Period             { return Period{Year: year} }

// Kind returns the granularity of the period.
func (p Period) Kind() PeriodKind {
	switch {
	case p.Month != 0:
		return PeriodMonth
	case p.Quarter != 0:
		return PeriodQuarter
	default:
		return PeriodYear
	}
}

// Validate checks the field ranges.
func (p Period) Validate() error {
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("invalid period year %d", p.Year)
	}
	if p.Month != 0 && p.Quarter != 0 {
		return fmt.Errorf("period sets both month %d and quarter %d", p.Month, p.Quarter)
	}
	if p.Month < 0 || p.Month > 12 {
		return fmt.Errorf("invalid period month %d", p.Month)
	}
	if p.Quarter < 0 || p.Quarter > 4 {
		return fmt.Errorf("invalid period quarter %d", p.Quarter)
	}
	return nil
}

// Range returns the inclusive start and exclusive end dates of the period.
func (p Period) Range() (start, end civil.Date) {
	switch p.Kind() {
	case PeriodMonth:
		start = civil.Date{Year: p.Year, Month: monthOf(p.Month), Day: 1}
		end = addMonths(start, 1)
	case PeriodQuarter:
		start = civil.Date{Year: p.Year, Month: monthOf((p.Quarter-1)*3 + 1), Day: 1}
		end = addMonths(start, 3)
	default:
		start = civil.Date{Year: p.Year, Month: 1, Day: 1}
		end = civil.Date{Year: p.Year + 1, Month: 1, Day: 1}
	}
	return start, end
}

// Contains reports whether d falls inside [start, end).
func (p Period) Contains(d civil.Date) bool {
	start, end := p.Range()
	return !d.Before(start) && d.Before(end)
}

// Key is the canonical string form, e.g. "2024-Q1", "2024-03" or "2024".
func (p Period) Key() string {
	switch p.Kind() {
	case PeriodMonth:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	case PeriodQuarter:
		return fmt.Sprintf("%04d-Q%d", p.Year, p.Quarter)
	default:
		return fmt.Sprintf("%04d", p.Year)
	}
}

func (p Period) String() string { return p.Key() }

// ParsePeriod is the inverse of Key.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "-", 2)
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Period{}, fmt.Errorf("ParsePeriod: invalid year in %q", s)
	}
	p := Period{Year: year}
	if len(parts) == 2 {
		sub := strings.ToUpper(parts[1])
		if strings.HasPrefix(sub, "Q") {
			q, err := strconv.Atoi(sub[1:])
			if err != nil {
				return Period{}, fmt.Errorf("ParsePeriod: invalid quarter in %q", s)
			}
			p.Quarter = q
		} else {
			m, err := strconv.Atoi(sub)
			if err != nil {
				return Period{}, fmt.Errorf("ParsePeriod: invalid month in %q", s)
			}
			p.Month = m
		}
	}
	if err := p.Validate(); err != nil {
		return Period{}, fmt.Errorf("ParsePeriod: %w", err)
	}
	return p, nil
}

func monthOf(m int) time.Month { return time.Month(m) }

// addMonths moves a first-of-month date forward by n months.
func addMonths(d civil.Date, n int) civil.Date {
	m := int(d.Month) - 1 + n
	return civil.Date{Year: d.Year + m/12, Month: time.Month(m%12 + 1), Day: d.Day}
}
