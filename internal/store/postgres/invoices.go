package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
	"github.com/dvloznov/taxledger/internal/store"
)

const invoiceColumns = `id, company_id, invoice_number, client_name, kind, invoice_date, due_date,
	net_minor, vat_rate, vat_minor, total_minor, currency, status`

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var (
		inv             domain.Invoice
		date, due       sql.NullTime
		net, vat, total int64
		currency        string
	)
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.InvoiceNumber, &inv.ClientName, &inv.Kind, &date, &due,
		&net, &inv.VATRate, &vat, &total, &currency, &inv.Status)
	if err != nil {
		return nil, err
	}
	inv.Date = nullDate(date)
	inv.DueDate = nullDate(due)
	inv.NetAmount = money.New(net, currency)
	inv.VATAmount = money.New(vat, currency)
	inv.TotalAmount = money.New(total, currency)
	return &inv, nil
}

// GetInvoice implements store.InvoiceStore.
func (s *Store) GetInvoice(ctx context.Context, companyID, invoiceID string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE company_id = $1 AND id = $2`, companyID, invoiceID)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetInvoice: %w", err)
	}
	return inv, nil
}

// ListOpenInvoices implements store.InvoiceStore.
func (s *Store) ListOpenInvoices(ctx context.Context, companyID string) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE company_id = $1 AND status NOT IN ('paid', 'cancelled') ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("ListOpenInvoices: %w", err)
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("ListOpenInvoices: scanning: %w", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListOpenInvoices: %w", err)
	}
	return out, nil
}

// UpsertInvoice implements store.InvoiceStore.
func (s *Store) UpsertInvoice(ctx context.Context, inv *domain.Invoice) error {
	kind := inv.Kind
	if kind == "" {
		kind = domain.Receivable
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			invoice_number = EXCLUDED.invoice_number,
			client_name = EXCLUDED.client_name,
			kind = EXCLUDED.kind,
			invoice_date = EXCLUDED.invoice_date,
			due_date = EXCLUDED.due_date,
			net_minor = EXCLUDED.net_minor,
			vat_rate = EXCLUDED.vat_rate,
			vat_minor = EXCLUDED.vat_minor,
			total_minor = EXCLUDED.total_minor,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status
		WHERE invoices.company_id = EXCLUDED.company_id`,
		inv.ID, inv.CompanyID, inv.InvoiceNumber, inv.ClientName, string(kind),
		dateArg(inv.Date), dateArg(inv.DueDate), inv.NetAmount.Minor, inv.VATRate,
		inv.VATAmount.Minor, inv.TotalAmount.Minor, inv.TotalAmount.Currency, string(inv.Status))
	if err != nil {
		return fmt.Errorf("UpsertInvoice: %w", err)
	}
	return nil
}
