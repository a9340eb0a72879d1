package parser

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/money"
)

// MT940Decoder reads SWIFT MT940 account statements (the German ".sta"
// export). A statement block opens with :20: and ends with :62F: or :62M:.
// Balances always carry an explicit currency, so no configuration applies.
type MT940Decoder struct{}

func NewMT940Decoder(Config) *MT940Decoder {
	return &MT940Decoder{}
}

func (d *MT940Decoder) Format() Format { return FormatMT940 }

type mt940Field struct {
	tag   string
	line  int
	value string
}

var (
	mt940TagRe     = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	mt940BalanceRe = regexp.MustCompile(`^([CD])(\d{6})([A-Z]{3})(\d+,\d{0,2})$`)
	mt940LineRe    = regexp.MustCompile(`(?s)^(\d{6})(\d{4})?(RC|RD|C|D)([A-Z])?(\d+,\d{0,2})([NFS][A-Z0-9]{3})([^/\n]*)(?://([^\n]*))?(?:\n(.*))?$`)
	sepaKeywordRe  = regexp.MustCompile(`(EREF|KREF|MREF|CRED|DEBT|SVWZ|ABWA|ABWE)\+`)
)

func (d *MT940Decoder) Decode(raw []byte) (*ParsedStatement, error) {
	fields, err := splitMT940(raw)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 || fields[0].tag != "20" {
		line := 1
		if len(fields) > 0 {
			line = fields[0].line
		}
		return nil, lineError(FormatMT940, line, ":20:", "", "statement must start with a :20: transaction reference")
	}

	ps := &ParsedStatement{Format: FormatMT940}
	var (
		currency   string
		haveOpen   bool
		haveClose  bool
		inBlock    bool
		blockOpen  bool
		lastWas61  bool
		closingDay civil.Date
	)

	for _, f := range fields {
		switch f.tag {
		case "20":
			inBlock = true
			haveClose = false
		case "25":
			account := strings.TrimSpace(f.value)
			if ps.AccountID != "" && account != ps.AccountID {
				return nil, lineError(FormatMT940, f.line, ":25:", account, "account differs from "+ps.AccountID)
			}
			ps.AccountID = account
		case "60F", "60M":
			bal, _, err := d.balance(f)
			if err != nil {
				return nil, err
			}
			switch {
			case blockOpen:
				return nil, lineError(FormatMT940, f.line, ":"+f.tag+":", f.value, "opening balance before the previous block was closed")
			case !haveOpen:
				ps.OpeningBalance = bal
				currency = bal.Currency
				haveOpen = true
			case bal.Currency != currency:
				return nil, lineError(FormatMT940, f.line, ":"+f.tag+":", f.value, "currency differs from opening balance")
			case !bal.Equal(ps.ClosingBalance):
				// Each block must continue where the previous one closed.
				return nil, lineError(FormatMT940, f.line, ":"+f.tag+":", f.value, "opening balance differs from previous closing balance "+ps.ClosingBalance.String())
			}
			blockOpen = true
			haveClose = false
		case "61":
			if !inBlock || !blockOpen {
				return nil, lineError(FormatMT940, f.line, ":61:", f.value, "statement line outside an open balance block")
			}
			tx, err := d.statementLine(f, currency)
			if err != nil {
				return nil, err
			}
			ps.Transactions = append(ps.Transactions, tx)
		case "86":
			if lastWas61 {
				tx := &ps.Transactions[len(ps.Transactions)-1]
				applyPurpose(tx, f.value)
			}
		case "62F", "62M":
			if !blockOpen {
				return nil, lineError(FormatMT940, f.line, ":"+f.tag+":", f.value, "closing balance without an opening balance in the same block")
			}
			bal, day, err := d.balance(f)
			if err != nil {
				return nil, err
			}
			if bal.Currency != currency {
				return nil, lineError(FormatMT940, f.line, ":"+f.tag+":", f.value, "currency differs from opening balance")
			}
			ps.ClosingBalance = bal
			closingDay = day
			haveClose = true
			blockOpen = false
			inBlock = false
		}
		lastWas61 = f.tag == "61"
	}

	last := fields[len(fields)-1].line
	switch {
	case ps.AccountID == "":
		return nil, lineError(FormatMT940, last, ":25:", "", "missing account identification")
	case !haveOpen:
		return nil, lineError(FormatMT940, last, ":60F:", "", "missing opening balance")
	case !haveClose:
		return nil, lineError(FormatMT940, last, ":62F:", "", "statement block not terminated by a closing balance")
	}
	ps.Currency = currency
	ps.StatementDate = closingDay
	return ps, nil
}

// splitMT940 groups physical lines into tagged fields. Lines that do not
// start a tag continue the previous field.
func splitMT940(raw []byte) ([]mt940Field, error) {
	text := strings.ReplaceAll(string(bytes.TrimPrefix(raw, utf8BOM)), "\r\n", "\n")
	var fields []mt940Field
	for i, line := range strings.Split(text, "\n") {
		ln := i + 1
		line = strings.TrimRight(line, " \t\r")
		switch {
		case line == "", line == "-", line == "-}", strings.HasPrefix(line, "{"):
			continue
		}
		if m := mt940TagRe.FindStringSubmatch(line); m != nil {
			fields = append(fields, mt940Field{tag: m[1], line: ln, value: m[2]})
			continue
		}
		if len(fields) == 0 {
			return nil, lineError(FormatMT940, ln, "", line, "content before first tag")
		}
		fields[len(fields)-1].value += "\n" + line
	}
	return fields, nil
}

func (d *MT940Decoder) balance(f mt940Field) (money.Money, civil.Date, error) {
	tag := ":" + f.tag + ":"
	m := mt940BalanceRe.FindStringSubmatch(strings.TrimSpace(f.value))
	if m == nil {
		return money.Money{}, civil.Date{}, lineError(FormatMT940, f.line, tag, f.value, "malformed balance, want C|D YYMMDD CCY amount")
	}
	day, err := parseYYMMDD(m[2])
	if err != nil {
		return money.Money{}, civil.Date{}, lineError(FormatMT940, f.line, tag, m[2], err.Error())
	}
	minor, err := parseMT940Amount(m[4])
	if err != nil {
		return money.Money{}, civil.Date{}, lineError(FormatMT940, f.line, tag, m[4], err.Error())
	}
	if m[1] == "D" {
		minor = -minor
	}
	return amountIn(minor, m[3]), day, nil
}

func (d *MT940Decoder) statementLine(f mt940Field, currency string) (RawTransaction, error) {
	m := mt940LineRe.FindStringSubmatch(f.value)
	if m == nil {
		return RawTransaction{}, lineError(FormatMT940, f.line, ":61:", f.value, "malformed statement line")
	}
	valueDate, err := parseYYMMDD(m[1])
	if err != nil {
		return RawTransaction{}, lineError(FormatMT940, f.line, ":61:", m[1], err.Error())
	}
	bookingDate := valueDate
	if m[2] != "" {
		bookingDate, err = entryDate(valueDate, m[2])
		if err != nil {
			return RawTransaction{}, lineError(FormatMT940, f.line, ":61:", m[2], err.Error())
		}
	}
	minor, err := parseMT940Amount(m[5])
	if err != nil {
		return RawTransaction{}, lineError(FormatMT940, f.line, ":61:", m[5], err.Error())
	}
	// RC reverses a credit and books as a debit; RD the other way round.
	if m[3] == "D" || m[3] == "RC" {
		minor = -minor
	}

	ref := strings.TrimSpace(m[7])
	if strings.EqualFold(ref, "NONREF") {
		ref = ""
	}
	return RawTransaction{
		BookingDate: bookingDate,
		ValueDate:   valueDate,
		Amount:      amountIn(minor, currency),
		Reference:   ref,
		Description: strings.TrimSpace(m[9]),
	}, nil
}

// applyPurpose fills description, counterparty and end-to-end reference from
// a :86: field. The German structured form uses ?NN subfields.
func applyPurpose(tx *RawTransaction, value string) {
	flat := strings.ReplaceAll(value, "\n", "")
	if len(flat) < 4 || flat[3] != '?' {
		tx.Description = strings.TrimSpace(strings.Join([]string{tx.Description, strings.ReplaceAll(value, "\n", " ")}, " "))
		return
	}

	sub := make(map[int]string)
	var order []int
	for _, part := range strings.Split(flat[4:], "?") {
		if len(part) < 2 {
			continue
		}
		code, err := strconv.Atoi(part[:2])
		if err != nil {
			continue
		}
		if _, seen := sub[code]; !seen {
			order = append(order, code)
		}
		sub[code] += part[2:]
	}

	var purpose strings.Builder
	for _, code := range order {
		if (code >= 20 && code <= 29) || (code >= 60 && code <= 63) {
			purpose.WriteString(sub[code])
		}
	}
	text := purpose.String()
	if text == "" {
		text = sub[0]
	}
	tx.Description = text
	if svwz := sepaField(text, "SVWZ"); svwz != "" {
		tx.Description = svwz
	}
	tx.CounterpartyName = strings.TrimSpace(sub[32] + sub[33])
	if tx.Reference == "" {
		tx.Reference = sepaField(text, "EREF")
	}
}

// sepaField extracts the value following a SEPA keyword such as "EREF+".
func sepaField(text, keyword string) string {
	locs := sepaKeywordRe.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		if text[loc[2]:loc[3]] != keyword {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		v := strings.TrimSpace(text[loc[1]:end])
		if v == "NOTPROVIDED" {
			return ""
		}
		return v
	}
	return ""
}

// parseMT940Amount accepts the SWIFT form "1234,56" where the comma is
// mandatory and fraction digits may be omitted ("250,").
func parseMT940Amount(s string) (int64, error) {
	if strings.HasSuffix(s, ",") {
		s += "00"
	}
	return money.ParseAmount(s, money.StyleGerman)
}

func parseYYMMDD(s string) (civil.Date, error) {
	t, err := time.Parse("20060102", "20"+s)
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

// entryDate resolves the MMDD booking date of a :61: line against its value
// date, handling bookings that cross a year boundary.
func entryDate(value civil.Date, mmdd string) (civil.Date, error) {
	year := value.Year
	month, _ := strconv.Atoi(mmdd[:2])
	switch {
	case month == 12 && value.Month == time.January:
		year--
	case month == 1 && value.Month == time.December:
		year++
	}
	t, err := time.Parse("20060102", strconv.Itoa(year)+mmdd)
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}
