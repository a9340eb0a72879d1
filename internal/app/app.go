// Package app builds the services of the binaries from a config.Config.
// Optional integrations (Postgres, Cloud Storage, BigQuery, Kafka, Notion,
// Gemini) are only created when configured.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/taxledger/internal/api"
	"github.com/dvloznov/taxledger/internal/categorize"
	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/gcs"
	bq "github.com/dvloznov/taxledger/internal/infra/bigquery"
	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/dvloznov/taxledger/internal/jobs/inmemory"
	"github.com/dvloznov/taxledger/internal/jobs/kafka"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/notionsync"
	"github.com/dvloznov/taxledger/internal/parser"
	"github.com/dvloznov/taxledger/internal/pipeline"
	"github.com/dvloznov/taxledger/internal/reconcile"
	"github.com/dvloznov/taxledger/internal/store"
	"github.com/dvloznov/taxledger/internal/store/memory"
	"github.com/dvloznov/taxledger/internal/store/postgres"
	"github.com/dvloznov/taxledger/internal/tax"
)

// Queue is a job queue that can both publish and consume.
type Queue interface {
	jobs.Publisher
	jobs.Consumer
}

// App holds the wired services. Storage, Warehouse, Suggester and Board
// are nil when not configured.
type App struct {
	Config     config.Config
	Store      store.Store
	TaxConfig  tax.Config
	Tax        *tax.Engine
	Reconciler *reconcile.Engine
	Pipeline   *pipeline.Pipeline
	Storage    *gcs.GCSStorageService
	Warehouse  *bq.WarehouseRepository
	JobStore   jobs.JobStore
	Queue      Queue
	Dispatcher *jobs.Dispatcher
	Suggester  *categorize.Suggester
	Board      *notionsync.ReviewBoard

	closers []func() error
}

// Options tune the wiring per binary.
type Options struct {
	// NotifyIngest queues a reconcile job for every newly imported
	// statement. Only set it when a consumer runs.
	NotifyIngest bool
	// Consume joins the Kafka consumer group. The in-memory queue always
	// consumes in-process.
	Consume bool
}

// New wires every service. On error, whatever was already opened is closed.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.Store = pg
		log.Info().Msg("Using Postgres store")
	} else {
		a.Store = memory.New()
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
	}

	if cfg.GCPProject != "" || cfg.ArchiveBucket != "" {
		a.Storage, err = gcs.NewGCSStorageService(ctx, cfg.ArchiveBucket)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, a.Storage.Close)
	}

	if cfg.GCPProject != "" {
		a.Warehouse, err = bq.NewWarehouseRepository(ctx, cfg.GCPProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, a.Warehouse.Close)
		if err := a.Warehouse.EnsureTables(ctx); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	if err := a.buildEngines(); err != nil {
		return nil, err
	}
	if err := a.buildQueue(opts.Consume); err != nil {
		return nil, err
	}
	a.buildPipeline(opts.NotifyIngest)

	if cfg.UseNotion() {
		a.Board = notionsync.NewReviewBoard(notionsync.NewNotionClient(cfg.NotionToken), cfg.NotionDatabaseID, cfg.NotionDryRun)
		a.Dispatcher.Reviews = a.Board
	}

	if cfg.UseGemini() {
		model, err := categorize.NewGeminiModel(ctx, cfg.GeminiModel, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Suggester = categorize.NewSuggester(model, a.TaxConfig)
	}

	log.Info().
		Bool("gcs", a.Storage != nil).
		Bool("bigquery", a.Warehouse != nil).
		Bool("kafka", cfg.UseKafka()).
		Bool("notion", a.Board != nil).
		Bool("gemini", a.Suggester != nil).
		Str("ledger_source", cfg.LedgerSource).
		Msg("Services wired")
	return a, nil
}

func (a *App) buildEngines() error {
	a.TaxConfig = tax.DefaultConfig()
	a.TaxConfig.TradeTax.HebesatzPct = a.Config.TradeTaxHebesatz

	var ledger store.LedgerReader = a.Store
	if a.Config.LedgerSource == "bigquery" {
		ledger = a.Warehouse
	}

	var err error
	a.Tax, err = tax.NewEngine(ledger, a.Store, a.TaxConfig)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if a.Warehouse != nil {
		a.Tax.SetReportSink(a.Warehouse)
	}

	a.Reconciler, err = reconcile.NewEngine(a.Store, reconcile.DefaultConfig(), a.TaxConfig)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

func (a *App) buildQueue(consume bool) error {
	a.JobStore = inmemory.NewStore()
	if a.Config.UseKafka() {
		groupID := ""
		if consume {
			groupID = a.Config.KafkaGroupID
		}
		q, err := kafka.NewQueue(a.Config.KafkaBrokers, a.Config.KafkaTopic, groupID, a.JobStore)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.Queue = q
	} else {
		a.Queue = inmemory.NewQueue(a.Config.QueueSize, a.Config.WorkerCount, a.JobStore)
	}
	a.closers = append(a.closers, a.Queue.Close)
	a.Dispatcher = &jobs.Dispatcher{Reconciler: a.Reconciler}
	return nil
}

func (a *App) buildPipeline(notify bool) {
	pcfg := parser.DefaultConfig()
	pcfg.CSV.Delimiter = []rune(a.Config.StatementDelim)[0]

	var publisher pipeline.StatementPublisher
	if notify {
		publisher = &jobs.Notifier{Publisher: a.Queue}
	}
	deps := pipeline.Deps{
		Registry: parser.NewRegistry(pcfg),
		Ingestor: pipeline.NewIngestor(a.Store, publisher),
		Store:    a.Store,
	}
	// Interface fields stay nil unless the service exists.
	if a.Storage != nil {
		deps.Fetcher = a.Storage
		if a.Config.ArchiveBucket != "" {
			deps.Archiver = a.Storage
		}
	}
	if a.Warehouse != nil {
		deps.Exporter = a.Warehouse
	}
	a.Pipeline = pipeline.NewImportPipeline(deps)
	a.Dispatcher.Importer = a.Pipeline
}

// RouterDeps maps the services onto the HTTP routes. Unconfigured
// optional services stay nil interfaces.
func (a *App) RouterDeps() api.Deps {
	d := api.Deps{
		Statements: a.Store,
		Importer:   a.Pipeline,
		Reconciler: a.Reconciler,
		Tax:        a.Tax,
		Reports:    a.Store,
		Categories: a.TaxConfig,
		Jobs:       a.JobStore,
		Queue:      a.Queue,
	}
	if a.Suggester != nil {
		d.Suggester = a.Suggester
	}
	if a.Board != nil {
		d.Board = a.Board
	}
	return d
}

// Close releases every opened client in reverse order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
