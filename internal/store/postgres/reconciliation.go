package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/store"
)

// GetTransaction implements store.ReconciliationStore.
func (s *Store) GetTransaction(ctx context.Context, companyID, txID string) (*domain.LedgerTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
		WHERE company_id = $1 AND id = $2`, companyID, txID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return t, nil
}

// settleInvoice flips an open invoice to paid inside tx.
func settleInvoice(ctx context.Context, tx *sql.Tx, companyID, invoiceID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE invoices
		SET status_before_paid = status, status = 'paid'
		WHERE company_id = $1 AND id = $2 AND status NOT IN ('paid', 'cancelled')`, companyID, invoiceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invoiceMissingOr(ctx, tx, companyID, invoiceID, store.ErrInvoiceNotOpen)
	}
	return nil
}

func invoiceMissingOr(ctx context.Context, tx *sql.Tx, companyID, invoiceID string, otherwise error) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM invoices WHERE company_id = $1 AND id = $2`, companyID, invoiceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("invoice %s: %w", invoiceID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return otherwise
}

func transactionMissingOr(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, companyID, txID string, otherwise error) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM ledger_transactions WHERE company_id = $1 AND id = $2`, companyID, txID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", txID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return otherwise
}

// ApplyAutoMatch implements store.ReconciliationStore.
func (s *Store) ApplyAutoMatch(ctx context.Context, companyID, txID, invoiceID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE ledger_transactions
			SET match_state = 'matched', matched_invoice_id = $3
			WHERE company_id = $1 AND id = $2 AND match_state = 'unmatched'`, companyID, txID, invoiceID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return transactionMissingOr(ctx, tx, companyID, txID, store.ErrTransactionNotUnmatched)
		}
		return settleInvoice(ctx, tx, companyID, invoiceID)
	})
	if err != nil {
		return fmt.Errorf("ApplyAutoMatch: %w", err)
	}
	return nil
}

// ConfirmMatch implements store.ReconciliationStore.
func (s *Store) ConfirmMatch(ctx context.Context, companyID, txID, invoiceID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE ledger_transactions
			SET match_state = 'manually_confirmed'
			WHERE company_id = $1 AND id = $2 AND match_state = 'matched' AND matched_invoice_id = $3`,
			companyID, txID, invoiceID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `UPDATE ledger_transactions
			SET match_state = 'manually_confirmed', matched_invoice_id = $3
			WHERE company_id = $1 AND id = $2 AND match_state = 'unmatched'`, companyID, txID, invoiceID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return transactionMissingOr(ctx, tx, companyID, txID, store.ErrTransactionNotUnmatched)
		}
		return settleInvoice(ctx, tx, companyID, invoiceID)
	})
	if err != nil {
		return fmt.Errorf("ConfirmMatch: %w", err)
	}
	return nil
}

// IgnoreTransaction implements store.ReconciliationStore.
func (s *Store) IgnoreTransaction(ctx context.Context, companyID, txID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ledger_transactions SET match_state = 'ignored'
		WHERE company_id = $1 AND id = $2 AND match_state = 'unmatched'`, companyID, txID)
	if err != nil {
		return fmt.Errorf("IgnoreTransaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return transactionMissingOr(ctx, s.db, companyID, txID, store.ErrTransactionNotUnmatched)
	}
	return nil
}

// ResetMatch implements store.ReconciliationStore.
func (s *Store) ResetMatch(ctx context.Context, companyID, txID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var invoiceID sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT matched_invoice_id FROM ledger_transactions
			WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, txID).Scan(&invoiceID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if invoiceID.Valid {
			_, err = tx.ExecContext(ctx, `UPDATE invoices
				SET status = COALESCE(status_before_paid, 'sent'), status_before_paid = NULL
				WHERE company_id = $1 AND id = $2 AND status = 'paid'`, companyID, invoiceID.String)
			if err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE ledger_transactions
			SET match_state = 'unmatched', matched_invoice_id = NULL
			WHERE company_id = $1 AND id = $2`, companyID, txID)
		return err
	})
	if err != nil {
		return fmt.Errorf("ResetMatch: %w", err)
	}
	return nil
}

// SetCategory implements store.ReconciliationStore.
func (s *Store) SetCategory(ctx context.Context, companyID, txID string, category *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ledger_transactions SET category = $3
		WHERE company_id = $1 AND id = $2`, companyID, txID, nullString(category))
	if err != nil {
		return fmt.Errorf("SetCategory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateReconciliationSummary implements store.ReconciliationStore.
func (s *Store) UpdateReconciliationSummary(ctx context.Context, companyID, statementID string, summary domain.ReconciliationSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("UpdateReconciliationSummary: encoding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE bank_statements SET summary = $3, status = $4
		WHERE company_id = $1 AND id = $2`, companyID, statementID, payload, string(domain.StatementReconciled))
	if err != nil {
		return fmt.Errorf("UpdateReconciliationSummary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
