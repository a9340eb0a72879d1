package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
)

// AddLedgerEntries implements store.LedgerWriter.
func (s *Store) AddLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_entries
			(id, company_id, entry_date, kind, net_minor, currency, vat_code, category, reference)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			_, err := stmt.ExecContext(ctx, e.ID, e.CompanyID, e.Date.String(), string(e.Kind),
				e.NetAmount.Minor, e.NetAmount.Currency, e.VATCode, e.Category, e.Reference)
			if err != nil {
				return fmt.Errorf("entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("AddLedgerEntries: %w", err)
	}
	return nil
}

// ListLedgerEntries implements store.LedgerReader. It runs in a read-only
// repeatable-read transaction so a period is computed from one snapshot.
func (s *Store) ListLedgerEntries(ctx context.Context, companyID string, from, to civil.Date) ([]domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("ListLedgerEntries: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, company_id, entry_date, kind, net_minor, currency, vat_code, category, reference
		FROM ledger_entries
		WHERE company_id = $1 AND entry_date >= $2 AND entry_date < $3
		ORDER BY entry_date, id`, companyID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("ListLedgerEntries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e        domain.LedgerEntry
			date     time.Time
			net      int64
			currency string
		)
		if err := rows.Scan(&e.ID, &e.CompanyID, &date, &e.Kind, &net, &currency, &e.VATCode, &e.Category, &e.Reference); err != nil {
			return nil, fmt.Errorf("ListLedgerEntries: scanning: %w", err)
		}
		e.Date = civil.DateOf(date)
		e.NetAmount = money.New(net, currency)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListLedgerEntries: %w", err)
	}
	return out, nil
}
