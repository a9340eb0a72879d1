package tax

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
)

// EntryVAT returns round_half_up(net × rate) in minor units. Rounding happens
// once per entry; totals are sums of rounded values.
func EntryVAT(net money.Money, rate decimal.Decimal) (money.Money, error) {
	vat := net.Decimal().Mul(rate).Round(money.MinorDigits)
	return money.FromDecimal(vat, net.Currency)
}

type breakdownAcc struct {
	net, vat int64
}

// figuresBuilder accumulates minor units; every entry is checked against the
// configured currency first.
type figuresBuilder struct {
	cfg  Config
	mode incomeMode

	output, input        int64
	revenue              int64
	deductible, nonDeduc int64
	income, expense      map[string]*breakdownAcc
	count                int
	uncategorized        []string
}

// incomeMode selects whether income-tax figures are derived and how an
// expense with an unknown category is treated.
type incomeMode int

const (
	// vatOnly skips income figures and the category check.
	vatOnly incomeMode = iota
	// incomeStrict fails on the first unknown category.
	incomeStrict
	// incomeIfCategorized derives VAT figures regardless and income
	// figures only when every expense category is known.
	incomeIfCategorized
)

func newFiguresBuilder(cfg Config, mode incomeMode) *figuresBuilder {
	return &figuresBuilder{
		cfg:  cfg,
		mode: mode,
		income:        make(map[string]*breakdownAcc),
		expense:       make(map[string]*breakdownAcc),
	}
}

func (b *figuresBuilder) add(e *domain.LedgerEntry) error {
	if e.NetAmount.Currency != b.cfg.Currency {
		return fmt.Errorf("ledger entry %s is in %s, reports are computed in %s", e.ID, e.NetAmount.Currency, b.cfg.Currency)
	}
	rate, ok := b.cfg.Rate(e.VATCode)
	if !ok {
		return &UnknownVATRateError{EntryID: e.ID, VATCode: e.VATCode}
	}
	vat, err := EntryVAT(e.NetAmount, rate)
	if err != nil {
		return fmt.Errorf("ledger entry %s: %w", e.ID, err)
	}

	switch e.Kind {
	case domain.Income:
		b.output += vat.Minor
		b.revenue += e.NetAmount.Minor
		accumulate(b.income, e.VATCode, e.NetAmount.Minor, vat.Minor)
	case domain.Expense:
		if rate.IsPositive() {
			b.input += vat.Minor
		}
		accumulate(b.expense, e.VATCode, e.NetAmount.Minor, vat.Minor)
		if b.mode != vatOnly {
			cat, ok := b.cfg.Category(e.Category)
			switch {
			case !ok && b.mode == incomeStrict:
				return &UnknownCategoryError{EntryID: e.ID, Category: e.Category}
			case !ok:
				b.uncategorized = append(b.uncategorized, e.ID)
			case cat.Deductible:
				b.deductible += e.NetAmount.Minor
			default:
				b.nonDeduc += e.NetAmount.Minor
			}
		}
	default:
		return fmt.Errorf("ledger entry %s: unknown kind %q", e.ID, e.Kind)
	}
	b.count++
	return nil
}

func accumulate(m map[string]*breakdownAcc, code string, net, vat int64) {
	acc, ok := m[code]
	if !ok {
		acc = &breakdownAcc{}
		m[code] = acc
	}
	acc.net += net
	acc.vat += vat
}

func (b *figuresBuilder) figures() *domain.Figures {
	cur := b.cfg.Currency
	f := &domain.Figures{
		Currency:      cur,
		OutputVAT:     money.New(b.output, cur),
		InputVAT:      money.New(b.input, cur),
		NetLiability:  money.New(b.output-b.input, cur),
		IncomeByRate:  b.breakdown(b.income),
		ExpenseByRate: b.breakdown(b.expense),
		EntryCount:    b.count,
	}
	if b.mode != vatOnly && len(b.uncategorized) == 0 {
		f.Revenue = money.New(b.revenue, cur)
		f.DeductibleExpenses = money.New(b.deductible, cur)
		f.NonDeductibleExpenses = money.New(b.nonDeduc, cur)
		f.TaxableIncome = money.New(b.revenue-b.deductible, cur)
	} else {
		f.Revenue = money.Zero(cur)
		f.DeductibleExpenses = money.Zero(cur)
		f.NonDeductibleExpenses = money.Zero(cur)
		f.TaxableIncome = money.Zero(cur)
		if len(b.uncategorized) > 0 {
			sort.Strings(b.uncategorized)
			f.UncategorizedEntries = b.uncategorized
		}
	}
	return f
}

func (b *figuresBuilder) breakdown(m map[string]*breakdownAcc) []domain.RateBreakdown {
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]domain.RateBreakdown, 0, len(codes))
	for _, code := range codes {
		rate, _ := b.cfg.Rate(code)
		out = append(out, domain.RateBreakdown{
			VATCode: code,
			Rate:    rate.String(),
			Net:     money.New(m[code].net, b.cfg.Currency),
			VAT:     money.New(m[code].vat, b.cfg.Currency),
		})
	}
	return out
}

// computeFigures derives the figures of entries according to mode.
func computeFigures(cfg Config, entries []domain.LedgerEntry, mode incomeMode) (*domain.Figures, error) {
	b := newFiguresBuilder(cfg, mode)
	for i := range entries {
		if err := b.add(&entries[i]); err != nil {
			return nil, err
		}
	}
	return b.figures(), nil
}

// TradeTax derives the Gewerbesteuer from annual taxable income: the base
// is income minus the allowance, floored to full 100 EUR and never below
// zero; Messbetrag and trade tax are rounded half up to cents.
func TradeTax(cfg TradeTaxConfig, taxableIncome money.Money) (*domain.TradeTaxFigures, error) {
	cur := taxableIncome.Currency
	base := taxableIncome.Minor - cfg.Allowance
	if base < 0 {
		base = 0
	}
	base -= base % 10000

	messbetrag, err := money.FromDecimal(
		decimal.New(base, -money.MinorDigits).Mul(cfg.Messzahl).Round(money.MinorDigits), cur)
	if err != nil {
		return nil, fmt.Errorf("TradeTax: Messbetrag: %w", err)
	}
	tradeTax, err := money.FromDecimal(
		messbetrag.Decimal().Mul(decimal.New(int64(cfg.HebesatzPct), -2)).Round(money.MinorDigits), cur)
	if err != nil {
		return nil, fmt.Errorf("TradeTax: %w", err)
	}
	return &domain.TradeTaxFigures{
		Allowance:   money.New(cfg.Allowance, cur),
		Base:        money.New(base, cur),
		Messbetrag:  messbetrag,
		HebesatzPct: cfg.HebesatzPct,
		TradeTax:    tradeTax,
	}, nil
}
