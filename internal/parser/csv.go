package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/dvloznov/taxledger/internal/money"
)

// CSVDecoder reads delimited exports with a header row. Every row must carry
// a running balance; opening balance is derived from the first row and the
// closing balance is the balance of the last row.
type CSVDecoder struct {
	cfg             CSVConfig
	defaultCurrency string
}

func NewCSVDecoder(cfg Config) *CSVDecoder {
	return &CSVDecoder{cfg: cfg.CSV, defaultCurrency: cfg.DefaultCurrency}
}

func (d *CSVDecoder) Format() Format { return FormatCSV }

type csvLayout struct {
	account, booking, value, amount, description, reference, counterparty, balance, currency int
}

func (d *CSVDecoder) Decode(raw []byte) (*ParsedStatement, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	r.Comma = d.cfg.Delimiter
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, d.readError(err, 1)
	}
	layout, err := d.mapHeader(header)
	if err != nil {
		return nil, err
	}

	ps := &ParsedStatement{Format: FormatCSV}
	var opening *money.Money

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, d.readError(err, 0)
		}
		line, _ := r.FieldPos(0)

		tx, account, err := d.decodeRow(rec, layout, line)
		if err != nil {
			return nil, err
		}
		if ps.AccountID == "" {
			ps.AccountID = account
			ps.Currency = tx.Amount.Currency
		} else if account != ps.AccountID {
			return nil, lineError(FormatCSV, line, d.cfg.Columns.Account, account, "account differs from first row "+ps.AccountID)
		}

		if opening == nil {
			o, err := tx.RunningBalance.Sub(tx.Amount)
			if err != nil {
				return nil, lineError(FormatCSV, line, d.cfg.Columns.Balance, rec[layout.balance], err.Error())
			}
			opening = &o
		}
		ps.ClosingBalance = *tx.RunningBalance
		ps.Transactions = append(ps.Transactions, tx)
	}

	if opening == nil {
		return nil, lineError(FormatCSV, 2, "", "", "no transaction rows after header")
	}
	ps.OpeningBalance = *opening
	return ps, nil
}

func (d *CSVDecoder) decodeRow(rec []string, l csvLayout, line int) (RawTransaction, string, error) {
	cols := d.cfg.Columns
	get := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	account := get(l.account)
	if account == "" {
		return RawTransaction{}, "", lineError(FormatCSV, line, cols.Account, "", "empty account")
	}

	currency := get(l.currency)
	if currency == "" {
		currency = d.defaultCurrency
	}

	booking, err := parseDate(d.cfg.DateLayout, get(l.booking))
	if err != nil {
		return RawTransaction{}, "", lineError(FormatCSV, line, cols.BookingDate, get(l.booking), "invalid date, want layout "+d.cfg.DateLayout)
	}
	tx := RawTransaction{
		BookingDate:      booking,
		Description:      get(l.description),
		Reference:        get(l.reference),
		CounterpartyName: get(l.counterparty),
	}
	if v := get(l.value); v != "" {
		vd, err := parseDate(d.cfg.DateLayout, v)
		if err != nil {
			return RawTransaction{}, "", lineError(FormatCSV, line, cols.ValueDate, v, "invalid date, want layout "+d.cfg.DateLayout)
		}
		tx.ValueDate = vd
	}

	amount, err := money.ParseAmount(get(l.amount), d.cfg.AmountStyle)
	if err != nil {
		return RawTransaction{}, "", lineError(FormatCSV, line, cols.Amount, get(l.amount), err.Error())
	}
	tx.Amount = amountIn(amount, currency)

	balance, err := money.ParseAmount(get(l.balance), d.cfg.AmountStyle)
	if err != nil {
		return RawTransaction{}, "", lineError(FormatCSV, line, cols.Balance, get(l.balance), err.Error())
	}
	rb := amountIn(balance, currency)
	tx.RunningBalance = &rb

	return tx, account, nil
}

// mapHeader resolves configured column names against the header row.
// Missing required columns mean the content is not this CSV layout.
func (d *CSVDecoder) mapHeader(header []string) (csvLayout, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	find := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := idx[strings.ToLower(name)]; ok {
			return i
		}
		return -1
	}

	cols := d.cfg.Columns
	l := csvLayout{
		account:      find(cols.Account),
		booking:      find(cols.BookingDate),
		value:        find(cols.ValueDate),
		amount:       find(cols.Amount),
		description:  find(cols.Description),
		reference:    find(cols.Reference),
		counterparty: find(cols.Counterparty),
		balance:      find(cols.Balance),
		currency:     find(cols.Currency),
	}
	required := []struct {
		name string
		pos  int
	}{
		{cols.Account, l.account},
		{cols.BookingDate, l.booking},
		{cols.Amount, l.amount},
		{cols.Balance, l.balance},
	}
	for _, c := range required {
		if c.pos < 0 {
			return csvLayout{}, lineError(FormatCSV, 1, c.name, strings.Join(header, string(d.cfg.Delimiter)), "required column missing from header")
		}
	}
	return l, nil
}

func (d *CSVDecoder) readError(err error, line int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return lineError(FormatCSV, pe.Line, "", "", pe.Err.Error())
	}
	if errors.Is(err, io.EOF) {
		return lineError(FormatCSV, line, "", "", "missing header row")
	}
	return lineError(FormatCSV, line, "", "", err.Error())
}
