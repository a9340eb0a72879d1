package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
)

// ImportRequest describes one file of a batch.
type ImportRequest struct {
	CompanyID      string
	Source         string
	DeclaredFormat string
	Raw            []byte
}

// ImportResult is the outcome for one file of a batch.
type ImportResult struct {
	Source    string
	Statement *domain.BankStatement
	Duplicate bool
	Err       error
}

// ImportFile runs the pipeline for a single request.
func (p *Pipeline) ImportFile(ctx context.Context, req ImportRequest) ImportResult {
	state := &PipelineState{
		CompanyID:      req.CompanyID,
		Source:         req.Source,
		DeclaredFormat: req.DeclaredFormat,
		Raw:            req.Raw,
	}
	err := p.Execute(ctx, state)
	return ImportResult{
		Source:    req.Source,
		Statement: state.Statement,
		Duplicate: state.Duplicate,
		Err:       err,
	}
}

// ImportBatch imports files one after another. A failed file does not stop
// the batch. Cancellation is honoured between files only, so a statement is
// never left half imported; the returned error is the context error and the
// results cover the files processed so far.
func (p *Pipeline) ImportBatch(ctx context.Context, reqs []ImportRequest) ([]ImportResult, error) {
	log := logger.FromContext(ctx)

	results := make([]ImportResult, 0, len(reqs))
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("processed", i).Int("total", len(reqs)).Msg("batch import cancelled")
			return results, fmt.Errorf("ImportBatch: cancelled after %d of %d files: %w", i, len(reqs), err)
		}
		// The statement itself runs to completion even if ctx is cancelled
		// meanwhile.
		res := p.ImportFile(context.WithoutCancel(ctx), req)
		if res.Err != nil {
			log.Error().Err(res.Err).Str("source", req.Source).Msg("import failed")
		}
		results = append(results, res)
	}
	return results, nil
}
