package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/parser"
	"github.com/dvloznov/taxledger/internal/pipeline"
	"github.com/dvloznov/taxledger/internal/store"
)

// Importer runs the import pipeline for one file.
type Importer interface {
	ImportFile(ctx context.Context, req pipeline.ImportRequest) pipeline.ImportResult
}

// Reconciler runs reconciliation for one statement.
type Reconciler interface {
	Reconcile(ctx context.Context, companyID, statementID string) (*domain.ReconciliationSummary, error)
}

// ReviewSink receives the manual-review items of a reconciliation run.
type ReviewSink interface {
	SyncReviews(ctx context.Context, companyID string, items []domain.ReviewItem) error
}

// Dispatcher routes jobs to the import pipeline and the reconciliation
// engine. Reviews is optional.
type Dispatcher struct {
	Importer   Importer
	Reconciler Reconciler
	Reviews    ReviewSink
}

// Handle is a JobHandler.
func (d *Dispatcher) Handle(ctx context.Context, job *StatementJob) error {
	switch job.Type {
	case JobTypeImportStatement:
		return d.importStatement(ctx, job)
	case JobTypeReconcileStatement:
		return d.reconcileStatement(ctx, job)
	default:
		return Permanent(fmt.Errorf("Handle: unknown job type %q", job.Type))
	}
}

func (d *Dispatcher) importStatement(ctx context.Context, job *StatementJob) error {
	log := logger.FromContext(ctx)
	res := d.Importer.ImportFile(ctx, pipeline.ImportRequest{
		CompanyID:      job.CompanyID,
		Source:         job.Source,
		DeclaredFormat: job.Format,
	})
	if res.Err != nil {
		if isInputError(res.Err) {
			return Permanent(fmt.Errorf("import %s: %w", job.Source, res.Err))
		}
		return fmt.Errorf("import %s: %w", job.Source, res.Err)
	}
	log.Info().
		Str("statement_id", res.Statement.ID).
		Bool("duplicate", res.Duplicate).
		Msg("Statement import job done")
	return nil
}

func (d *Dispatcher) reconcileStatement(ctx context.Context, job *StatementJob) error {
	summary, err := d.Reconciler.Reconcile(ctx, job.CompanyID, job.StatementID)
	if errors.Is(err, store.ErrNotFound) {
		return Permanent(fmt.Errorf("reconcile %s: %w", job.StatementID, err))
	}
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", job.StatementID, err)
	}
	if d.Reviews != nil && len(summary.Reviews) > 0 {
		if err := d.Reviews.SyncReviews(ctx, job.CompanyID, summary.Reviews); err != nil {
			return fmt.Errorf("reconcile %s: syncing reviews: %w", job.StatementID, err)
		}
	}
	return nil
}

// isInputError reports failures caused by the statement file itself.
func isInputError(err error) bool {
	var pe *parser.ParseError
	var ue *parser.UnsupportedFormatError
	var be *parser.BalanceMismatchError
	return errors.As(err, &pe) || errors.As(err, &ue) || errors.As(err, &be)
}

// Notifier turns ingestion events into reconcile jobs.
type Notifier struct {
	Publisher Publisher
}

var _ pipeline.StatementPublisher = (*Notifier)(nil)

// StatementIngested queues reconciliation of the new statement.
func (n *Notifier) StatementIngested(ctx context.Context, st *domain.BankStatement) error {
	job := &StatementJob{
		Type:        JobTypeReconcileStatement,
		CompanyID:   st.CompanyID,
		StatementID: st.ID,
	}
	if err := n.Publisher.Publish(ctx, job); err != nil {
		return fmt.Errorf("StatementIngested: %w", err)
	}
	return nil
}
