package pipeline

import (
	"context"

	"github.com/dvloznov/taxledger/internal/domain"
)

// SourceFetcher loads statement bytes from object storage.
type SourceFetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// Archiver keeps the raw source bytes of an imported statement. Archiving
// the same content twice must succeed.
type Archiver interface {
	ArchiveStatement(ctx context.Context, st *domain.BankStatement, raw []byte) (string, error)
}

// WarehouseExporter copies imported data to the analytics warehouse.
type WarehouseExporter interface {
	ExportStatement(ctx context.Context, st *domain.BankStatement, txs []domain.LedgerTransaction) error
}

// StatementPublisher announces a newly persisted statement so that
// reconciliation can be scheduled.
type StatementPublisher interface {
	StatementIngested(ctx context.Context, st *domain.BankStatement) error
}
