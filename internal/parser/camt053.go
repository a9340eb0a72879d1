package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/money"
)

// CAMT053Decoder reads ISO 20022 camt.053 bank-to-customer statements.
// Namespaces are ignored so all common message versions decode.
type CAMT053Decoder struct {
	defaultCurrency string
}

func NewCAMT053Decoder(cfg Config) *CAMT053Decoder {
	return &CAMT053Decoder{defaultCurrency: cfg.DefaultCurrency}
}

func (d *CAMT053Decoder) Format() Format { return FormatCAMT053 }

type camtDocument struct {
	XMLName    xml.Name        `xml:"Document"`
	Statements []camtStatement `xml:"BkToCstmrStmt>Stmt"`
}

type camtStatement struct {
	ID       string        `xml:"Id"`
	IBAN     string        `xml:"Acct>Id>IBAN"`
	Other    string        `xml:"Acct>Id>Othr>Id"`
	Currency string        `xml:"Acct>Ccy"`
	Bank     string        `xml:"Acct>Svcr>FinInstnId>Nm"`
	Balances []camtBalance `xml:"Bal"`
	Entries  []camtEntry   `xml:"Ntry"`
}

type camtBalance struct {
	Code      string     `xml:"Tp>CdOrPrtry>Cd"`
	Amount    camtAmount `xml:"Amt"`
	Indicator string     `xml:"CdtDbtInd"`
	Date      camtDate   `xml:"Dt"`
}

type camtAmount struct {
	Currency string `xml:"Ccy,attr"`
	Value    string `xml:",chardata"`
}

type camtDate struct {
	Date     string `xml:"Dt"`
	DateTime string `xml:"DtTm"`
}

type camtEntry struct {
	Amount      camtAmount      `xml:"Amt"`
	Indicator   string          `xml:"CdtDbtInd"`
	BookingDate camtDate        `xml:"BookgDt"`
	ValueDate   camtDate        `xml:"ValDt"`
	ServicerRef string          `xml:"AcctSvcrRef"`
	Details     []camtTxDetails `xml:"NtryDtls>TxDtls"`
	Additional  string          `xml:"AddtlNtryInf"`
}

type camtTxDetails struct {
	EndToEndID   string   `xml:"Refs>EndToEndId"`
	Unstructured []string `xml:"RmtInf>Ustrd"`
	DebtorName   string   `xml:"RltdPties>Dbtr>Nm"`
	DebtorPty    string   `xml:"RltdPties>Dbtr>Pty>Nm"`
	CreditorName string   `xml:"RltdPties>Cdtr>Nm"`
	CreditorPty  string   `xml:"RltdPties>Cdtr>Pty>Nm"`
}

func (d *CAMT053Decoder) Decode(raw []byte) (*ParsedStatement, error) {
	var doc camtDocument
	if err := xml.Unmarshal(bytes.TrimPrefix(raw, utf8BOM), &doc); err != nil {
		var syn *xml.SyntaxError
		if errors.As(err, &syn) {
			return nil, lineError(FormatCAMT053, syn.Line, "", "", syn.Msg)
		}
		return nil, entryError(FormatCAMT053, 0, "Document", "", err.Error())
	}
	switch len(doc.Statements) {
	case 0:
		return nil, entryError(FormatCAMT053, 0, "BkToCstmrStmt/Stmt", "", "document contains no statement")
	case 1:
	default:
		return nil, entryError(FormatCAMT053, 0, "BkToCstmrStmt/Stmt", fmt.Sprint(len(doc.Statements)), "document contains more than one statement")
	}
	st := doc.Statements[0]

	currency := firstNonEmpty(st.Currency)
	for _, b := range st.Balances {
		currency = firstNonEmpty(currency, b.Amount.Currency)
	}
	currency = firstNonEmpty(currency, d.defaultCurrency)

	ps := &ParsedStatement{
		Format:    FormatCAMT053,
		AccountID: firstNonEmpty(st.IBAN, st.Other),
		BankName:  strings.TrimSpace(st.Bank),
		Currency:  currency,
	}

	var haveOpen, haveClose bool
	for _, b := range st.Balances {
		code := strings.TrimSpace(b.Code)
		switch code {
		case "OPBD", "PRCD":
			if haveOpen && code == "PRCD" {
				continue
			}
			m, _, err := d.balance(b, currency)
			if err != nil {
				return nil, err
			}
			ps.OpeningBalance = m
			haveOpen = true
		case "CLBD":
			m, day, err := d.balance(b, currency)
			if err != nil {
				return nil, err
			}
			ps.ClosingBalance = m
			ps.StatementDate = day
			haveClose = true
		}
	}
	if !haveOpen {
		return nil, entryError(FormatCAMT053, 0, "Bal", "", "missing opening balance (OPBD or PRCD)")
	}
	if !haveClose {
		return nil, entryError(FormatCAMT053, len(st.Entries), "Bal", "", "missing closing balance (CLBD)")
	}

	for i, e := range st.Entries {
		tx, err := d.entry(i, e, currency)
		if err != nil {
			return nil, err
		}
		ps.Transactions = append(ps.Transactions, tx)
	}
	return ps, nil
}

func (d *CAMT053Decoder) balance(b camtBalance, currency string) (money.Money, civil.Date, error) {
	field := "Bal/" + b.Code
	minor, err := signedCamtAmount(b.Amount.Value, b.Indicator)
	if err != nil {
		return money.Money{}, civil.Date{}, entryError(FormatCAMT053, 0, field, b.Amount.Value, err.Error())
	}
	day, err := b.Date.date()
	if err != nil {
		return money.Money{}, civil.Date{}, entryError(FormatCAMT053, 0, field+"/Dt", b.Date.Date+b.Date.DateTime, err.Error())
	}
	return amountIn(minor, firstNonEmpty(b.Amount.Currency, currency)), day, nil
}

func (d *CAMT053Decoder) entry(i int, e camtEntry, currency string) (RawTransaction, error) {
	minor, err := signedCamtAmount(e.Amount.Value, e.Indicator)
	if err != nil {
		return RawTransaction{}, entryError(FormatCAMT053, i, "Amt", e.Amount.Value, err.Error())
	}
	booking, err := e.BookingDate.date()
	if err != nil {
		return RawTransaction{}, entryError(FormatCAMT053, i, "BookgDt", e.BookingDate.Date+e.BookingDate.DateTime, err.Error())
	}
	tx := RawTransaction{
		BookingDate: booking,
		Amount:      amountIn(minor, firstNonEmpty(e.Amount.Currency, currency)),
		Reference:   strings.TrimSpace(e.ServicerRef),
		Description: e.Additional,
	}
	if e.ValueDate.Date != "" || e.ValueDate.DateTime != "" {
		vd, err := e.ValueDate.date()
		if err != nil {
			return RawTransaction{}, entryError(FormatCAMT053, i, "ValDt", e.ValueDate.Date+e.ValueDate.DateTime, err.Error())
		}
		tx.ValueDate = vd
	}

	if len(e.Details) > 0 {
		det := e.Details[0]
		if ref := strings.TrimSpace(det.EndToEndID); ref != "" && ref != "NOTPROVIDED" {
			tx.Reference = ref
		}
		if len(det.Unstructured) > 0 {
			tx.Description = strings.Join(det.Unstructured, " ")
		}
		// The counterparty is the payer for credits and the payee for debits.
		if minor >= 0 {
			tx.CounterpartyName = firstNonEmpty(det.DebtorName, det.DebtorPty)
		} else {
			tx.CounterpartyName = firstNonEmpty(det.CreditorName, det.CreditorPty)
		}
	}
	return tx, nil
}

func signedCamtAmount(value, indicator string) (int64, error) {
	minor, err := money.ParseAmount(value, money.StylePoint)
	if err != nil {
		return 0, err
	}
	if minor < 0 {
		return 0, fmt.Errorf("amount must be unsigned, direction comes from CdtDbtInd")
	}
	switch strings.TrimSpace(indicator) {
	case "CRDT":
		return minor, nil
	case "DBIT":
		return -minor, nil
	default:
		return 0, fmt.Errorf("CdtDbtInd %q is neither CRDT nor DBIT", indicator)
	}
}

func (c camtDate) date() (civil.Date, error) {
	s := strings.TrimSpace(c.Date)
	if s == "" {
		s = strings.TrimSpace(c.DateTime)
		if len(s) >= 10 {
			s = s[:10]
		}
	}
	if s == "" {
		return civil.Date{}, fmt.Errorf("missing date")
	}
	return civil.ParseDate(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
