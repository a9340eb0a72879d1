package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
)

// StatementRow is one imported statement in the warehouse.
type StatementRow struct {
	StatementID string `bigquery:"statement_id"` // REQUIRED
	CompanyID   string `bigquery:"company_id"`   // REQUIRED
	AccountID   string `bigquery:"account_id"`   // REQUIRED

	BankName bigquery.NullString `bigquery:"bank_name"` // NULLABLE

	StatementDate civil.Date `bigquery:"statement_date"` // REQUIRED

	OpeningBalance *big.Rat `bigquery:"opening_balance"` // REQUIRED NUMERIC
	ClosingBalance *big.Rat `bigquery:"closing_balance"` // REQUIRED NUMERIC
	Currency       string   `bigquery:"currency"`        // REQUIRED STRING

	SourceFormat string `bigquery:"source_format"`
	ContentHash  string `bigquery:"content_hash"`
	TxCount      int64  `bigquery:"transaction_count"`

	ImportedTS time.Time `bigquery:"imported_ts"`
}

// TransactionRow is one statement line in the warehouse.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	StatementID   string `bigquery:"statement_id"`   // REQUIRED
	CompanyID     string `bigquery:"company_id"`     // REQUIRED
	LineNo        int64  `bigquery:"line_no"`

	BookingDate civil.Date        `bigquery:"booking_date"` // REQUIRED
	ValueDate   bigquery.NullDate `bigquery:"value_date"`   // NULLABLE

	Amount    *big.Rat `bigquery:"amount"`    // REQUIRED NUMERIC
	Currency  string   `bigquery:"currency"`  // REQUIRED STRING
	Direction string   `bigquery:"direction"` // debit | credit

	Description           string              `bigquery:"description"`
	CounterpartyName      bigquery.NullString `bigquery:"counterparty_name"`
	CounterpartyReference bigquery.NullString `bigquery:"counterparty_reference"`

	CategoryName bigquery.NullString `bigquery:"category_name"` // NULLABLE
	MatchState   string              `bigquery:"match_state"`
}

// ReportRow is a generated tax report snapshot. Figures are kept as JSON so
// the table does not change with the report types.
type ReportRow struct {
	ReportID   string `bigquery:"report_id"`
	CompanyID  string `bigquery:"company_id"`
	ReportType string `bigquery:"report_type"`
	Period     string `bigquery:"period"`
	Status     string `bigquery:"status"`

	OutputVAT     *big.Rat `bigquery:"output_vat"`
	InputVAT      *big.Rat `bigquery:"input_vat"`
	NetLiability  *big.Rat `bigquery:"net_liability"`
	TaxableIncome *big.Rat `bigquery:"taxable_income"`
	Currency      string   `bigquery:"currency"`

	CorrectsReportID bigquery.NullString `bigquery:"corrects_report_id"`

	GeneratedTS time.Time              `bigquery:"generated_ts"`
	SubmittedTS bigquery.NullTimestamp `bigquery:"submitted_ts"`

	Figures bigquery.NullJSON `bigquery:"figures"`
}

// LedgerEntryRow is the warehouse form of a booked income or expense line.
type LedgerEntryRow struct {
	EntryID   string              `bigquery:"entry_id"`
	CompanyID string              `bigquery:"company_id"`
	EntryDate civil.Date          `bigquery:"entry_date"`
	Kind      string              `bigquery:"kind"`
	NetAmount *big.Rat            `bigquery:"net_amount"`
	Currency  string              `bigquery:"currency"`
	VATCode   string              `bigquery:"vat_code"`
	Category  bigquery.NullString `bigquery:"category"`
	Reference bigquery.NullString `bigquery:"reference"`
}

func toStatementRow(st *domain.BankStatement) *StatementRow {
	return &StatementRow{
		StatementID:    st.ID,
		CompanyID:      st.CompanyID,
		AccountID:      st.AccountID,
		BankName:       nullString(st.BankName),
		StatementDate:  st.StatementDate,
		OpeningBalance: ratOf(st.OpeningBalance),
		ClosingBalance: ratOf(st.ClosingBalance),
		Currency:       st.ClosingBalance.Currency,
		SourceFormat:   st.SourceFormat,
		ContentHash:    st.ContentHash,
		TxCount:        int64(st.TxCount),
		ImportedTS:     st.ImportedAt,
	}
}

func toTransactionRows(txs []domain.LedgerTransaction) []*TransactionRow {
	rows := make([]*TransactionRow, 0, len(txs))
	for i := range txs {
		tx := &txs[i]
		row := &TransactionRow{
			TransactionID:         tx.ID,
			StatementID:           tx.StatementID,
			CompanyID:             tx.CompanyID,
			LineNo:                int64(tx.Index),
			BookingDate:           tx.BookingDate,
			Amount:                ratOf(tx.Amount),
			Currency:              tx.Amount.Currency,
			Direction:             string(tx.Direction),
			Description:           tx.Description,
			CounterpartyName:      nullString(tx.CounterpartyName),
			CounterpartyReference: nullString(tx.CounterpartyReference),
			MatchState:            string(tx.MatchState),
		}
		if tx.ValueDate.IsValid() {
			row.ValueDate = bigquery.NullDate{Date: tx.ValueDate, Valid: true}
		}
		if tx.Category != nil {
			row.CategoryName = nullString(*tx.Category)
		}
		rows = append(rows, row)
	}
	return rows
}

// reportInsertID identifies one snapshot of a report. A regenerated draft
// keeps its ID and status but gets a new GeneratedAt.
func reportInsertID(r *domain.TaxReport) string {
	return fmt.Sprintf("%s/%s/%d", r.ID, r.Status, r.GeneratedAt.UnixNano())
}

func toReportRow(r *domain.TaxReport) (*ReportRow, error) {
	figures, err := json.Marshal(r.Figures)
	if err != nil {
		return nil, fmt.Errorf("toReportRow: encoding figures: %w", err)
	}
	row := &ReportRow{
		ReportID:      r.ID,
		CompanyID:     r.CompanyID,
		ReportType:    string(r.ReportType),
		Period:        r.Period.Key(),
		Status:        string(r.Status),
		OutputVAT:     ratOf(r.Figures.OutputVAT),
		InputVAT:      ratOf(r.Figures.InputVAT),
		NetLiability:  ratOf(r.Figures.NetLiability),
		TaxableIncome: ratOf(r.Figures.TaxableIncome),
		Currency:      r.Figures.Currency,
		GeneratedTS:   r.GeneratedAt,
		Figures:       bigquery.NullJSON{JSONVal: string(figures), Valid: true},
	}
	if r.CorrectsReportID != nil {
		row.CorrectsReportID = nullString(*r.CorrectsReportID)
	}
	if r.SubmittedAt != nil {
		row.SubmittedTS = bigquery.NullTimestamp{Timestamp: *r.SubmittedAt, Valid: true}
	}
	return row, nil
}

func (r *LedgerEntryRow) toDomain() (domain.LedgerEntry, error) {
	if r.NetAmount == nil {
		return domain.LedgerEntry{}, fmt.Errorf("entry %s: missing net_amount", r.EntryID)
	}
	net, err := moneyOf(r.NetAmount, r.Currency)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("entry %s: %w", r.EntryID, err)
	}
	kind := domain.EntryKind(r.Kind)
	if kind != domain.Income && kind != domain.Expense {
		return domain.LedgerEntry{}, fmt.Errorf("entry %s: unknown kind %q", r.EntryID, r.Kind)
	}
	return domain.LedgerEntry{
		ID:        r.EntryID,
		CompanyID: r.CompanyID,
		Date:      r.EntryDate,
		Kind:      kind,
		NetAmount: net,
		VATCode:   r.VATCode,
		Category:  r.Category.StringVal,
		Reference: r.Reference.StringVal,
	}, nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func ratOf(m money.Money) *big.Rat {
	return new(big.Rat).SetFrac64(m.Minor, 100)
}

// moneyOf converts a NUMERIC value back to minor units. Values with more
// than two fraction digits are rejected.
func moneyOf(r *big.Rat, currency string) (money.Money, error) {
	minor := new(big.Rat).Mul(r, big.NewRat(100, 1))
	if !minor.IsInt() || !minor.Num().IsInt64() {
		return money.Money{}, fmt.Errorf("%w: %s", money.ErrInvalidAmount, r.FloatString(4))
	}
	return money.New(minor.Num().Int64(), currency), nil
}
