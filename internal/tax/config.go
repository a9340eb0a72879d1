// Package tax computes German VAT, income and trade-tax figures for a
// period and manages the tax report lifecycle.
package tax

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/taxledger/internal/money"
)

// VAT codes with a default rate.
const (
	VATStandard = "standard"
	VATReduced  = "reduced"
	VATZero     = "zero"
	VATExempt   = "exempt"
)

// Category is an expense category and its income-tax treatment.
type Category struct {
	Name       string
	Deductible bool
}

// TradeTaxConfig holds the Gewerbesteuer parameters.
type TradeTaxConfig struct {
	// Allowance is the annual Freibetrag in minor units.
	Allowance int64
	// Messzahl is the Steuermesszahl applied to the rounded base.
	Messzahl decimal.Decimal
	// HebesatzPct is the municipal multiplier in percent.
	HebesatzPct int
}

// Config is the rate and category table the engine works with.
type Config struct {
	Currency   string
	VATRates   map[string]decimal.Decimal
	Categories map[string]Category
	TradeTax   TradeTaxConfig
}

// DefaultConfig returns the current German rates, a small SKR-style category
// table and a Hebesatz of 400%.
func DefaultConfig() Config {
	cfg := Config{
		Currency: money.DefaultCurrency,
		VATRates: map[string]decimal.Decimal{
			VATStandard: decimal.RequireFromString("0.19"),
			VATReduced:  decimal.RequireFromString("0.07"),
			VATZero:     decimal.Zero,
			VATExempt:   decimal.Zero,
		},
		Categories: map[string]Category{},
		TradeTax: TradeTaxConfig{
			Allowance:   2450000,
			Messzahl:    decimal.RequireFromString("0.035"),
			HebesatzPct: 400,
		},
	}
	for _, name := range []string{
		"Bürobedarf", "Software", "Hardware", "Miete", "Reisekosten",
		"Telekommunikation", "Fortbildung", "Fremdleistungen", "Werbung",
		"Versicherungen", "Bankgebühren", "Wareneinkauf", "Bewirtung",
	} {
		cfg.AddCategory(name, true)
	}
	for _, name := range []string{"Privatentnahme", "Bußgelder", "Einkommensteuer"} {
		cfg.AddCategory(name, false)
	}
	return cfg
}

// AddCategory adds or replaces a category.
func (c *Config) AddCategory(name string, deductible bool) {
	if c.Categories == nil {
		c.Categories = make(map[string]Category)
	}
	c.Categories[normalizeCategory(name)] = Category{Name: name, Deductible: deductible}
}

// Validate checks that the table is usable.
func (c Config) Validate() error {
	if c.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	for code, rate := range c.VATRates {
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("VAT rate %s for %q out of range", rate, code)
		}
	}
	if c.TradeTax.Allowance < 0 || c.TradeTax.HebesatzPct < 0 || c.TradeTax.Messzahl.IsNegative() {
		return fmt.Errorf("trade tax parameters must not be negative")
	}
	return nil
}

// Rate returns the VAT rate of code.
func (c Config) Rate(code string) (decimal.Decimal, bool) {
	r, ok := c.VATRates[strings.ToLower(strings.TrimSpace(code))]
	return r, ok
}

// Category looks up a category case-insensitively.
func (c Config) Category(name string) (Category, bool) {
	cat, ok := c.Categories[normalizeCategory(name)]
	return cat, ok
}

// ValidateCategory returns the canonical spelling of name or an
// *UnknownCategoryError.
func (c Config) ValidateCategory(name string) (string, error) {
	cat, ok := c.Category(name)
	if !ok {
		return "", &UnknownCategoryError{Category: name}
	}
	return cat.Name, nil
}

// CategoryNames lists the canonical category names, sorted.
func (c Config) CategoryNames() []string {
	out := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		out = append(out, cat.Name)
	}
	sort.Strings(out)
	return out
}

// normalizeCategory upper-cases and trims a category for comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
