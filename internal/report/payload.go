// Package report turns stored tax report figures into the flat field set
// handed to the external submission component. It never recomputes figures.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
)

// Field is one line of the submission.
type Field struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Payload is the export form of a tax report.
type Payload struct {
	ReportID         string  `json:"report_id"`
	CompanyID        string  `json:"company_id"`
	ReportType       string  `json:"report_type"`
	Year             int     `json:"year"`
	PeriodCode       string  `json:"period_code"`
	Status           string  `json:"status"`
	Currency         string  `json:"currency"`
	Correction       bool    `json:"correction"`
	CorrectsReportID string  `json:"corrects_report_id,omitempty"`
	Fields           []Field `json:"fields"`
}

// PeriodCode returns the Zeitraum code: 01-12 for months, 41-44 for
// quarters and 00 for a calendar year.
func PeriodCode(p domain.Period) string {
	switch p.Kind() {
	case domain.PeriodMonth:
		return fmt.Sprintf("%02d", p.Month)
	case domain.PeriodQuarter:
		return fmt.Sprintf("%d", 40+p.Quarter)
	default:
		return "00"
	}
}

// ToExportPayload maps the report's figures to export fields. The same
// report always yields the same payload.
func ToExportPayload(r *domain.TaxReport) (*Payload, error) {
	if r == nil {
		return nil, fmt.Errorf("ToExportPayload: nil report")
	}
	if err := r.Period.Validate(); err != nil {
		return nil, fmt.Errorf("ToExportPayload: %w", err)
	}

	p := &Payload{
		ReportID:   r.ID,
		CompanyID:  r.CompanyID,
		ReportType: string(r.ReportType),
		Year:       r.Period.Year,
		PeriodCode: PeriodCode(r.Period),
		Status:     string(r.Status),
		Currency:   r.Figures.Currency,
	}
	if r.CorrectsReportID != nil {
		p.Correction = true
		p.CorrectsReportID = *r.CorrectsReportID
	}

	var err error
	switch r.ReportType {
	case domain.ReportUSt:
		p.Fields, err = vatFields(&r.Figures)
	case domain.ReportEUER:
		p.Fields = incomeFields(&r.Figures)
	case domain.ReportGewSt:
		if r.Figures.TradeTax == nil {
			return nil, fmt.Errorf("ToExportPayload: GewSt report %s has no trade tax figures", r.ID)
		}
		p.Fields = append(incomeFields(&r.Figures), tradeTaxFields(r.Figures.TradeTax)...)
	default:
		return nil, fmt.Errorf("ToExportPayload: unknown report type %q", r.ReportType)
	}
	if err != nil {
		return nil, fmt.Errorf("ToExportPayload: %w", err)
	}
	return p, nil
}

// vatFields maps the VAT figures to Kennzahlen: 81 and 86 carry the net
// base at 19% and 7%, 35/36 base and tax at any other positive rate, 48
// zero-rated and exempt revenue, 66 input VAT and 83 the amount due.
func vatFields(f *domain.Figures) ([]Field, error) {
	cur := f.Currency
	base81, base86 := money.Zero(cur), money.Zero(cur)
	base35, tax36 := money.Zero(cur), money.Zero(cur)
	base48 := money.Zero(cur)

	for _, b := range f.IncomeByRate {
		var err error
		switch b.Rate {
		case "0.19":
			base81, err = base81.Add(b.Net)
		case "0.07":
			base86, err = base86.Add(b.Net)
		case "0", "":
			base48, err = base48.Add(b.Net)
		default:
			if base35, err = base35.Add(b.Net); err == nil {
				tax36, err = tax36.Add(b.VAT)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("VAT code %s: %w", b.VATCode, err)
		}
	}

	fields := []Field{
		{Code: "81", Label: "Steuerpflichtige Umsätze 19%", Value: amount(base81)},
		{Code: "86", Label: "Steuerpflichtige Umsätze 7%", Value: amount(base86)},
	}
	if !base35.IsZero() || !tax36.IsZero() {
		fields = append(fields,
			Field{Code: "35", Label: "Umsätze zu anderen Steuersätzen", Value: amount(base35)},
			Field{Code: "36", Label: "Steuer zu anderen Steuersätzen", Value: amount(tax36)},
		)
	}
	if !base48.IsZero() {
		fields = append(fields, Field{Code: "48", Label: "Steuerfreie Umsätze", Value: amount(base48)})
	}
	fields = append(fields,
		Field{Code: "66", Label: "Vorsteuerbeträge", Value: amount(f.InputVAT)},
		Field{Code: "83", Label: "Verbleibende Umsatzsteuer-Vorauszahlung", Value: amount(f.NetLiability)},
	)
	return fields, nil
}

func incomeFields(f *domain.Figures) []Field {
	return []Field{
		{Code: "EUER.revenue", Label: "Betriebseinnahmen", Value: amount(f.Revenue)},
		{Code: "EUER.output_vat", Label: "Vereinnahmte Umsatzsteuer", Value: amount(f.OutputVAT)},
		{Code: "EUER.expenses", Label: "Betriebsausgaben", Value: amount(f.DeductibleExpenses)},
		{Code: "EUER.input_vat", Label: "Gezahlte Vorsteuerbeträge", Value: amount(f.InputVAT)},
		{Code: "EUER.non_deductible", Label: "Nicht abziehbare Ausgaben", Value: amount(f.NonDeductibleExpenses)},
		{Code: "EUER.profit", Label: "Gewinn", Value: amount(f.TaxableIncome)},
	}
}

func tradeTaxFields(t *domain.TradeTaxFigures) []Field {
	return []Field{
		{Code: "GewSt.allowance", Label: "Freibetrag", Value: amount(t.Allowance)},
		{Code: "GewSt.base", Label: "Gewerbeertrag (abgerundet)", Value: amount(t.Base)},
		{Code: "GewSt.messbetrag", Label: "Steuermessbetrag", Value: amount(t.Messbetrag)},
		{Code: "GewSt.hebesatz", Label: "Hebesatz %", Value: fmt.Sprintf("%d", t.HebesatzPct)},
		{Code: "GewSt.tax", Label: "Gewerbesteuer", Value: amount(t.TradeTax)},
	}
}

// amount renders minor units as a plain decimal string, e.g. "-1234.50".
func amount(m money.Money) string {
	return m.Decimal().StringFixed(money.MinorDigits)
}

// JSON encodes the payload. Equal payloads encode to equal bytes.
func (p *Payload) JSON() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("Payload.JSON: %w", err)
	}
	return b, nil
}

// Value returns the value of the field with code, if present.
func (p *Payload) Value(code string) (string, bool) {
	for _, f := range p.Fields {
		if f.Code == code {
			return f.Value, true
		}
	}
	return "", false
}
