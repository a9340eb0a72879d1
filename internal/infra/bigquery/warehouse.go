// Package bigquery exports imported statements and tax reports to the
// analytics warehouse and reads ledger entries kept there.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const (
	statementsTable    = "statements"
	transactionsTable  = "transactions"
	reportsTable       = "tax_reports"
	ledgerEntriesTable = "ledger_entries"
)

// WarehouseRepository holds a shared BigQuery client for one dataset.
type WarehouseRepository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewWarehouseRepository creates a repository with its own client.
func NewWarehouseRepository(ctx context.Context, projectID, datasetID string) (*WarehouseRepository, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("NewWarehouseRepository: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewWarehouseRepository: creating client: %w", err)
	}
	return &WarehouseRepository{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (r *WarehouseRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *WarehouseRepository) table(name string) *bigquery.Table {
	return r.client.DatasetInProject(r.projectID, r.datasetID).Table(name)
}

// EnsureTables creates the warehouse tables that do not exist yet, with
// schemas inferred from the row types.
func (r *WarehouseRepository) EnsureTables(ctx context.Context) error {
	log := logger.FromContext(ctx)
	tables := []struct {
		name string
		row  any
	}{
		{statementsTable, StatementRow{}},
		{transactionsTable, TransactionRow{}},
		{reportsTable, ReportRow{}},
		{ledgerEntriesTable, LedgerEntryRow{}},
	}
	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: inferring schema for %s: %w", t.name, err)
		}
		err = r.table(t.name).Create(ctx, &bigquery.TableMetadata{Schema: schema})
		if isAlreadyExists(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("EnsureTables: creating %s: %w", t.name, err)
		}
		log.Info().Str("table", t.name).Str("dataset", r.datasetID).Msg("Created warehouse table")
	}
	return nil
}

// ExportStatement streams the statement and its transactions. Row insert
// IDs are the record IDs, so retried exports are deduplicated by BigQuery.
func (r *WarehouseRepository) ExportStatement(ctx context.Context, st *domain.BankStatement, txs []domain.LedgerTransaction) error {
	stRow := toStatementRow(st)
	if err := r.table(statementsTable).Inserter().Put(ctx, &bigquery.StructSaver{Struct: stRow, InsertID: st.ID}); err != nil {
		return fmt.Errorf("ExportStatement: inserting statement %s: %w", st.ID, err)
	}

	rows := toTransactionRows(txs)
	if len(rows) == 0 {
		return nil
	}
	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, row := range rows {
		savers = append(savers, &bigquery.StructSaver{Struct: row, InsertID: row.TransactionID})
	}
	if err := r.table(transactionsTable).Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("ExportStatement: inserting %d transactions: %w", len(savers), err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("statement_id", st.ID).
		Int("transactions", len(savers)).
		Msg("Exported statement to warehouse")
	return nil
}

// ExportReport appends a snapshot of the report. Every status change and
// every regeneration is a new row.
func (r *WarehouseRepository) ExportReport(ctx context.Context, rep *domain.TaxReport) error {
	row, err := toReportRow(rep)
	if err != nil {
		return fmt.Errorf("ExportReport: %w", err)
	}
	saver := &bigquery.StructSaver{Struct: row, InsertID: reportInsertID(rep)}
	if err := r.table(reportsTable).Inserter().Put(ctx, saver); err != nil {
		return fmt.Errorf("ExportReport: inserting report %s: %w", rep.ID, err)
	}
	return nil
}

// ListLedgerEntries returns the company's entries dated in [from, to).
func (r *WarehouseRepository) ListLedgerEntries(ctx context.Context, companyID string, from, to civil.Date) ([]domain.LedgerEntry, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			entry_id,
			company_id,
			entry_date,
			kind,
			net_amount,
			currency,
			vat_code,
			category,
			reference
		FROM `+"`%s.%s.%s`"+`
		WHERE company_id = @company_id
		  AND entry_date >= @from_date
		  AND entry_date < @to_date
		ORDER BY entry_date, entry_id
	`, r.projectID, r.datasetID, ledgerEntriesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "company_id", Value: companyID},
		{Name: "from_date", Value: from},
		{Name: "to_date", Value: to},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListLedgerEntries: query read: %w", err)
	}

	var entries []domain.LedgerEntry
	for {
		var row LedgerEntryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListLedgerEntries: iter next: %w", err)
		}
		e, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListLedgerEntries: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
