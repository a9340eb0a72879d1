// Package api assembles the HTTP surface of the ledger.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/taxledger/internal/api/handlers"
	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Deps are the services behind the routes. Queue, Suggester and Board may
// be nil; the routes that need them answer 503.
type Deps struct {
	Statements handlers.StatementReader
	Importer   jobs.Importer
	Reconciler handlers.Reconciler
	Tax        handlers.TaxService
	Reports    handlers.ReportReader
	Categories handlers.CategoryLister
	Jobs       jobs.JobStore
	Queue      jobs.Publisher
	Suggester  handlers.Suggester
	Board      handlers.ReviewBoard
}

// NewRouter wires the middleware chain and every route.
func NewRouter(log zerolog.Logger, d Deps) http.Handler {
	statements := handlers.NewStatementsHandler(d.Statements, d.Importer, d.Queue)
	reconcile := handlers.NewReconcileHandler(d.Reconciler, d.Statements, d.Queue, d.Suggester, d.Board)
	reports := handlers.NewReportsHandler(d.Tax, d.Reports)
	categories := handlers.NewCategoriesHandler(d.Categories)
	jobsHandler := handlers.NewJobsHandler(d.Jobs)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/categories", categories.ListCategories)

		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/{jobID}", jobsHandler.GetJob)

		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Get("/statements", statements.ListStatements)
			r.Post("/statements", statements.ImportStatement)
			r.Post("/statements/import-jobs", statements.EnqueueImport)
			r.Get("/statements/{statementID}", statements.GetStatement)
			r.Get("/statements/{statementID}/transactions", statements.ListTransactions)
			r.Post("/statements/{statementID}/reconcile", reconcile.Reconcile)
			r.Post("/statements/{statementID}/category-suggestions", reconcile.SuggestCategories)

			r.Post("/transactions/{txID}/confirm", reconcile.ConfirmMatch)
			r.Post("/transactions/{txID}/ignore", reconcile.IgnoreTransaction)
			r.Post("/transactions/{txID}/reset", reconcile.ResetMatch)
			r.Put("/transactions/{txID}/category", reconcile.SetCategory)

			r.Get("/periods/{period}/figures", reports.ComputePeriod)

			r.Get("/reports", reports.ListReports)
			r.Post("/reports", reports.GenerateReport)
			r.Get("/reports/{reportID}", reports.GetReport)
			r.Post("/reports/{reportID}/transitions", reports.Transition)
			r.Post("/reports/{reportID}/corrections", reports.GenerateCorrection)
			r.Get("/reports/{reportID}/export", reports.ExportReport)
		})
	})

	return r
}
