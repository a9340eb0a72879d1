package domain

import (
	"time"

	"github.com/dvloznov/taxledger/internal/money"
)

// ReportType identifies the German tax return a report feeds.
type ReportType string

const (
	ReportUSt   ReportType = "USt"
	ReportEUER  ReportType = "EUER"
	ReportGewSt ReportType = "GewSt"
)

// ParseReportType accepts the canonical names and a couple of common spellings.
func ParseReportType(s string) (ReportType, bool) {
	switch s {
	case "USt", "ust", "USTVA", "UStVA":
		return ReportUSt, true
	case "EUER", "euer", "EÜR":
		return ReportEUER, true
	case "GewSt", "gewst", "GEWST":
		return ReportGewSt, true
	}
	return "", false
}

// ReportStatus is the workflow state of a tax report.
type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportGenerated ReportStatus = "generated"
	ReportSubmitted ReportStatus = "submitted"
	ReportApproved  ReportStatus = "approved"
	ReportRejected  ReportStatus = "rejected"
)

// IsClosed reports whether the status closes the period for regeneration.
func (s ReportStatus) IsClosed() bool {
	return s == ReportSubmitted || s == ReportApproved
}

// IsFrozen reports whether figures and period may no longer change.
func (s ReportStatus) IsFrozen() bool {
	return s == ReportSubmitted || s == ReportApproved || s == ReportRejected
}

// RateBreakdown is the net base and VAT booked at one VAT code.
type RateBreakdown struct {
	VATCode string      `json:"vat_code"`
	Rate    string      `json:"rate"`
	Net     money.Money `json:"net"`
	VAT     money.Money `json:"vat"`
}

// Figures are the computed values of a period. Which fields are meaningful
// depends on the report type; unused ones stay zero.
type Figures struct {
	Currency string `json:"currency"`

	OutputVAT    money.Money `json:"output_vat"`
	InputVAT     money.Money `json:"input_vat"`
	NetLiability money.Money `json:"net_liability"`

	IncomeByRate  []RateBreakdown `json:"income_by_rate,omitempty"`
	ExpenseByRate []RateBreakdown `json:"expense_by_rate,omitempty"`

	Revenue               money.Money `json:"revenue"`
	DeductibleExpenses    money.Money `json:"deductible_expenses"`
	NonDeductibleExpenses money.Money `json:"non_deductible_expenses"`
	TaxableIncome         money.Money `json:"taxable_income"`

	TradeTax *TradeTaxFigures `json:"trade_tax,omitempty"`

	// UncategorizedEntries lists expense entries whose category is unknown.
	// When set, the income figures above were not computed.
	UncategorizedEntries []string `json:"uncategorized_entries,omitempty"`

	EntryCount int `json:"entry_count"`
}

// TradeTaxFigures holds the Gewerbesteuer derivation steps.
type TradeTaxFigures struct {
	Allowance   money.Money `json:"allowance"`
	Base        money.Money `json:"base"`
	Messbetrag  money.Money `json:"messbetrag"`
	HebesatzPct int         `json:"hebesatz_pct"`
	TradeTax    money.Money `json:"trade_tax"`
}

// TaxReport is a generated return for one company, type and period.
type TaxReport struct {
	ID               string       `json:"id"`
	CompanyID        string       `json:"company_id"`
	ReportType       ReportType   `json:"report_type"`
	Period           Period       `json:"period"`
	Status           ReportStatus `json:"status"`
	Figures          Figures      `json:"figures"`
	GeneratedAt      time.Time    `json:"generated_at"`
	SubmittedAt      *time.Time   `json:"submitted_at,omitempty"`
	CorrectsReportID *string      `json:"corrects_report_id,omitempty"`
}
