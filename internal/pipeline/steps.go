package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/parser"
	"github.com/dvloznov/taxledger/internal/store"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	CompanyID      string
	Source         string // gs:// URI or local path; empty when Raw is given
	DeclaredFormat string

	Raw        []byte
	Parsed     *parser.ParsedStatement
	Statement  *domain.BankStatement
	Duplicate  bool
	ArchiveURI string
}

// FetchSourceStep loads the raw bytes unless the caller supplied them.
type FetchSourceStep struct {
	Fetcher SourceFetcher
}

func (s *FetchSourceStep) Name() string { return "fetch" }

func (s *FetchSourceStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Raw != nil {
		return nil
	}
	if strings.HasPrefix(state.Source, "gs://") {
		if s.Fetcher == nil {
			return fmt.Errorf("no object storage configured for %s", state.Source)
		}
		raw, err := s.Fetcher.FetchFromGCS(ctx, state.Source)
		if err != nil {
			return err
		}
		state.Raw = raw
		return nil
	}
	raw, err := os.ReadFile(state.Source)
	if err != nil {
		return err
	}
	state.Raw = raw
	return nil
}

// ParseStep decodes the raw bytes with the declared format. Without a
// declared format the content is sniffed.
type ParseStep struct {
	Registry *parser.Registry
}

func (s *ParseStep) Name() string { return "parse" }

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	format := state.DeclaredFormat
	if format == "" {
		detected, err := parser.DetectFormat(state.Raw)
		if err != nil {
			return err
		}
		format = string(detected)
		log := logger.FromContext(ctx)
		log.Debug().Str("source", state.Source).Str("format", format).Msg("detected statement format")
	}
	parsed, err := s.Registry.Parse(state.Raw, format)
	if err != nil {
		return err
	}
	state.Parsed = parsed
	return nil
}

// IngestStep persists the parsed statement.
type IngestStep struct {
	Ingestor *Ingestor
}

func (s *IngestStep) Name() string { return "ingest" }

func (s *IngestStep) Execute(ctx context.Context, state *PipelineState) error {
	st, dup, err := s.Ingestor.ingest(ctx, state.CompanyID, state.Parsed, state.Raw)
	if err != nil {
		return err
	}
	state.Statement = st
	state.Duplicate = dup
	return nil
}

// ArchiveStep writes the raw source to the audit archive.
type ArchiveStep struct {
	Archiver Archiver
}

func (s *ArchiveStep) Name() string { return "archive" }

func (s *ArchiveStep) Execute(ctx context.Context, state *PipelineState) error {
	uri, err := s.Archiver.ArchiveStatement(ctx, state.Statement, state.Raw)
	if err != nil {
		return err
	}
	state.ArchiveURI = uri
	return nil
}

// ExportStep copies a newly imported statement to the warehouse.
type ExportStep struct {
	Exporter WarehouseExporter
	Store    store.StatementStore
}

func (s *ExportStep) Name() string { return "export" }

func (s *ExportStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Duplicate {
		return nil
	}
	txs, err := s.Store.ListTransactions(ctx, state.CompanyID, state.Statement.ID)
	if err != nil {
		return err
	}
	return s.Exporter.ExportStatement(ctx, state.Statement, txs)
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %s failed: %w", step.Name(), err)
		}
	}
	return nil
}

// Deps are the collaborators of the standard import pipeline. Fetcher,
// Archiver and Exporter are optional.
type Deps struct {
	Registry *parser.Registry
	Ingestor *Ingestor
	Store    store.StatementStore
	Fetcher  SourceFetcher
	Archiver Archiver
	Exporter WarehouseExporter
}

// NewImportPipeline creates the standard pipeline: fetch, parse, ingest and,
// when configured, archive and warehouse export.
func NewImportPipeline(d Deps) *Pipeline {
	steps := []PipelineStep{
		&FetchSourceStep{Fetcher: d.Fetcher},
		&ParseStep{Registry: d.Registry},
		&IngestStep{Ingestor: d.Ingestor},
	}
	if d.Archiver != nil {
		steps = append(steps, &ArchiveStep{Archiver: d.Archiver})
	}
	if d.Exporter != nil {
		steps = append(steps, &ExportStep{Exporter: d.Exporter, Store: d.Store})
	}
	return NewPipeline(steps...)
}
