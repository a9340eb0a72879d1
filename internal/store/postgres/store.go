// Package postgres is the lib/pq implementation of the store interfaces.
// Uniqueness and immutability rules live in the schema (see migrations) so
// they hold across worker processes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/lib/pq"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
	"github.com/dvloznov/taxledger/internal/store"
)

const (
	pqUniqueViolation = "23505"
	pqRaiseException  = "P0001"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func isRaise(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqRaiseException
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func dateArg(d civil.Date) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func toDate(t time.Time) civil.Date {
	return civil.DateOf(t)
}

func nullDate(t sql.NullTime) civil.Date {
	if !t.Valid {
		return civil.Date{}
	}
	return civil.DateOf(t.Time)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// ---- statements -------------------------------------------------------

const statementColumns = `id, company_id, bank_name, account_id, statement_date, opening_minor, closing_minor,
	currency, source_format, content_hash, status, tx_count, imported_at, summary`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatement(row rowScanner) (*domain.BankStatement, error) {
	var (
		st               domain.BankStatement
		stmtDate         time.Time
		opening, closing int64
		currency         string
		summary          []byte
	)
	err := row.Scan(&st.ID, &st.CompanyID, &st.BankName, &st.AccountID, &stmtDate, &opening, &closing,
		&currency, &st.SourceFormat, &st.ContentHash, &st.Status, &st.TxCount, &st.ImportedAt, &summary)
	if err != nil {
		return nil, err
	}
	st.StatementDate = toDate(stmtDate)
	st.OpeningBalance = money.New(opening, currency)
	st.ClosingBalance = money.New(closing, currency)
	if len(summary) > 0 {
		var sum domain.ReconciliationSummary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}
		st.Summary = &sum
	}
	return &st, nil
}

// FindStatementByKey implements store.StatementStore.
func (s *Store) FindStatementByKey(ctx context.Context, key domain.StatementKey) (*domain.BankStatement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM bank_statements
		WHERE company_id = $1 AND account_id = $2 AND statement_date = $3 AND content_hash = $4`,
		key.CompanyID, key.AccountID, key.StatementDate.String(), key.ContentHash)
	st, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindStatementByKey: %w", err)
	}
	return st, nil
}

// CreateStatement implements store.StatementStore.
func (s *Store) CreateStatement(ctx context.Context, st *domain.BankStatement, txs []domain.LedgerTransaction) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO bank_statements
			(id, company_id, bank_name, account_id, statement_date, opening_minor, closing_minor,
			 currency, source_format, content_hash, status, tx_count, imported_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			st.ID, st.CompanyID, st.BankName, st.AccountID, st.StatementDate.String(),
			st.OpeningBalance.Minor, st.ClosingBalance.Minor, st.OpeningBalance.Currency,
			st.SourceFormat, st.ContentHash, string(st.Status), st.TxCount, st.ImportedAt)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_transactions
			(id, statement_id, company_id, idx, booking_date, value_date, amount_minor, currency, direction,
			 description, counterparty_name, counterparty_reference, category, match_state, matched_invoice_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range txs {
			t := &txs[i]
			_, err := stmt.ExecContext(ctx, t.ID, t.StatementID, t.CompanyID, t.Index,
				t.BookingDate.String(), t.ValueDate.String(), t.Amount.Minor, t.Amount.Currency,
				string(t.Direction), t.Description, t.CounterpartyName, t.CounterpartyReference,
				nullString(t.Category), string(t.MatchState), nullString(t.MatchedInvoiceID))
			if err != nil {
				return fmt.Errorf("transaction %d: %w", t.Index, err)
			}
		}
		return nil
	})
	if isUniqueViolation(err, "uq_bank_statements_key") {
		return store.ErrDuplicateStatement
	}
	if err != nil {
		return fmt.Errorf("CreateStatement: %w", err)
	}
	return nil
}

// GetStatement implements store.StatementStore.
func (s *Store) GetStatement(ctx context.Context, companyID, statementID string) (*domain.BankStatement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM bank_statements
		WHERE company_id = $1 AND id = $2`, companyID, statementID)
	st, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetStatement: %w", err)
	}
	return st, nil
}

// ListStatements implements store.StatementStore.
func (s *Store) ListStatements(ctx context.Context, companyID string) ([]domain.BankStatement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+statementColumns+` FROM bank_statements
		WHERE company_id = $1 ORDER BY statement_date, id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("ListStatements: %w", err)
	}
	defer rows.Close()

	var out []domain.BankStatement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("ListStatements: scanning: %w", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStatements: %w", err)
	}
	return out, nil
}

const transactionColumns = `id, statement_id, company_id, idx, booking_date, value_date, amount_minor, currency,
	direction, description, counterparty_name, counterparty_reference, category, match_state, matched_invoice_id`

func scanTransaction(row rowScanner) (*domain.LedgerTransaction, error) {
	var (
		t                 domain.LedgerTransaction
		booking, value    time.Time
		amount            int64
		currency          string
		category, invoice sql.NullString
	)
	err := row.Scan(&t.ID, &t.StatementID, &t.CompanyID, &t.Index, &booking, &value, &amount, &currency,
		&t.Direction, &t.Description, &t.CounterpartyName, &t.CounterpartyReference, &category,
		&t.MatchState, &invoice)
	if err != nil {
		return nil, err
	}
	t.BookingDate = toDate(booking)
	t.ValueDate = toDate(value)
	t.Amount = money.New(amount, currency)
	t.Category = stringPtr(category)
	t.MatchedInvoiceID = stringPtr(invoice)
	return &t, nil
}

// ListTransactions implements store.StatementStore.
func (s *Store) ListTransactions(ctx context.Context, companyID, statementID string) ([]domain.LedgerTransaction, error) {
	if _, err := s.GetStatement(ctx, companyID, statementID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
		WHERE company_id = $1 AND statement_id = $2 ORDER BY idx`, companyID, statementID)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: scanning: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
