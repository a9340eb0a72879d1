package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/taxledger/internal/app"
	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/pipeline"
	"github.com/dvloznov/taxledger/internal/report"
	"github.com/rs/zerolog"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app.App, args []string) error
}

var commands = []command{
	{"import", "Import statement files (local paths or gs:// URIs)", runImport},
	{"statements", "List imported statements of a company", runStatements},
	{"reconcile", "Reconcile a statement against open invoices", runReconcile},
	{"confirm", "Confirm a transaction/invoice match", runConfirm},
	{"ignore", "Mark an unmatched transaction as ignored", runIgnore},
	{"reset", "Return a transaction to unmatched", runReset},
	{"categorize", "Set or clear the category of a transaction", runCategorize},
	{"suggest", "Ask Gemini for category suggestions (nothing is applied)", runSuggest},
	{"sync-reviews", "Push a statement's manual-review items to Notion", runSyncReviews},
	{"figures", "Compute VAT and income figures for a period", runFigures},
	{"report", "Generate a tax report (USt, EUER, GewSt)", runReport},
	{"transition", "Move a tax report to another status", runTransition},
	{"correct", "Generate a correction of a filed report", runCorrect},
	{"export", "Write the filing payload of a report", runExport},
	{"upload", "Upload a local statement file to GCS", runUpload},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(logger.WithContext(context.Background(), log), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	err = cmd.run(ctx, a, os.Args[2:])
	a.Close()
	if err != nil {
		fail(log, cmd.name, err)
	}
}

func fail(log zerolog.Logger, name string, err error) {
	log.Error().Err(err).Str("command", name).Msg("Command failed")
	os.Exit(1)
}

func printUsage() {
	fmt.Println("taxledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	for _, c := range commands {
		fmt.Printf("  %-13s %s\n", c.name, c.usage)
	}
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// flags returns a FlagSet with the -company flag every command takes.
func flags(a *app.App, name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	company := fs.String("company", a.Config.DefaultCompanyID, "Company ID (or set COMPANY_ID env)")
	return fs, company
}

func require(values map[string]string) error {
	var missing []string
	for flagName, v := range values {
		if v == "" {
			missing = append(missing, "-"+flagName)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runImport(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "import")
	format := fs.String("format", "", "Declared format: CSV, MT940 or CAMT053 (empty = detect)")
	reconcile := fs.Bool("reconcile", false, "Reconcile every newly imported statement")
	fs.Parse(args)

	if err := require(map[string]string{"company": *company}); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("no files given")
	}

	reqs := make([]pipeline.ImportRequest, 0, fs.NArg())
	for _, src := range fs.Args() {
		reqs = append(reqs, pipeline.ImportRequest{CompanyID: *company, Source: src, DeclaredFormat: *format})
	}

	results, err := a.Pipeline.ImportBatch(ctx, reqs)
	failed := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("FAIL  %s: %v\n", res.Source, res.Err)
		case res.Duplicate:
			fmt.Printf("SKIP  %s: already imported as %s\n", res.Source, res.Statement.ID)
		default:
			fmt.Printf("OK    %s: statement %s (%d transactions)\n", res.Source, res.Statement.ID, res.Statement.TxCount)
			if *reconcile {
				sum, rerr := a.Reconciler.Reconcile(ctx, *company, res.Statement.ID)
				if rerr != nil {
					fmt.Printf("      reconcile failed: %v\n", rerr)
					continue
				}
				fmt.Printf("      matched %d, unmatched %d, review %d\n", sum.Matched, sum.Unmatched, sum.ManualReviewNeeded)
			}
		}
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(reqs))
	}
	return nil
}

func runStatements(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "statements")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company}); err != nil {
		return err
	}

	statements, err := a.Store.ListStatements(ctx, *company)
	if err != nil {
		return err
	}
	for _, st := range statements {
		fmt.Printf("%s  %s  %s  %-10s  %3d tx  closing %s\n",
			st.ID, st.AccountID, st.StatementDate, st.Status, st.TxCount, st.ClosingBalance)
	}
	return nil
}

func runReconcile(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "reconcile")
	statementID := fs.String("statement", "", "Statement ID")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "statement": *statementID}); err != nil {
		return err
	}

	sum, err := a.Reconciler.Reconcile(ctx, *company, *statementID)
	if err != nil {
		return err
	}
	if a.Board != nil && len(sum.Reviews) > 0 {
		if err := a.Board.SyncReviews(ctx, *company, sum.Reviews); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Failed to sync review items")
		}
	}
	return printJSON(sum)
}

func runConfirm(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "confirm")
	txID := fs.String("tx", "", "Transaction ID")
	invoiceID := fs.String("invoice", "", "Invoice ID")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "tx": *txID, "invoice": *invoiceID}); err != nil {
		return err
	}

	if err := a.Reconciler.ConfirmMatch(ctx, *company, *txID, *invoiceID); err != nil {
		return err
	}
	resolveReview(ctx, a, *txID)
	fmt.Printf("Transaction %s confirmed against invoice %s\n", *txID, *invoiceID)
	return nil
}

func runIgnore(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "ignore")
	txID := fs.String("tx", "", "Transaction ID")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "tx": *txID}); err != nil {
		return err
	}

	if err := a.Reconciler.IgnoreTransaction(ctx, *company, *txID); err != nil {
		return err
	}
	resolveReview(ctx, a, *txID)
	fmt.Printf("Transaction %s ignored\n", *txID)
	return nil
}

func runReset(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "reset")
	txID := fs.String("tx", "", "Transaction ID")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "tx": *txID}); err != nil {
		return err
	}

	if err := a.Reconciler.ResetMatch(ctx, *company, *txID); err != nil {
		return err
	}
	fmt.Printf("Transaction %s reset to unmatched\n", *txID)
	return nil
}

func runCategorize(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "categorize")
	txID := fs.String("tx", "", "Transaction ID")
	category := fs.String("category", "", "Category name (empty clears it)")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "tx": *txID}); err != nil {
		return err
	}

	if err := a.Reconciler.Categorize(ctx, *company, *txID, *category); err != nil {
		return err
	}
	fmt.Printf("Transaction %s categorized as %q\n", *txID, *category)
	return nil
}

func runSuggest(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "suggest")
	statementID := fs.String("statement", "", "Statement ID")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "statement": *statementID}); err != nil {
		return err
	}
	if a.Suggester == nil {
		return fmt.Errorf("category suggestions need GEMINI_API_KEY")
	}

	txs, err := a.Store.ListTransactions(ctx, *company, *statementID)
	if err != nil {
		return err
	}
	suggestions, err := a.Suggester.Suggest(ctx, txs)
	if err != nil {
		return err
	}
	return printJSON(suggestions)
}

func runSyncReviews(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "sync-reviews")
	statementID := fs.String("statement", "", "Statement ID")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "statement": *statementID}); err != nil {
		return err
	}
	if a.Board == nil {
		return fmt.Errorf("review sync needs NOTION_TOKEN and NOTION_REVIEW_DB_ID")
	}

	st, err := a.Store.GetStatement(ctx, *company, *statementID)
	if err != nil {
		return err
	}
	if st.Summary == nil {
		return fmt.Errorf("statement %s has not been reconciled", st.ID)
	}

	stats, err := a.Board.Sync(ctx, *company, st.Summary.Reviews)
	if err != nil {
		return err
	}
	fmt.Printf("Created: %d, Updated: %d, Failed: %d\n", stats.Created, stats.Updated, stats.Failed)
	return nil
}

func runFigures(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "figures")
	periodStr := fs.String("period", "", "Period: 2024, 2024-Q1 or 2024-03")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "period": *periodStr}); err != nil {
		return err
	}

	period, err := domain.ParsePeriod(*periodStr)
	if err != nil {
		return err
	}
	figures, err := a.Tax.ComputePeriod(ctx, *company, period)
	if err != nil {
		return err
	}
	return printJSON(figures)
}

func runReport(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "report")
	typeStr := fs.String("type", "USt", "Report type: USt, EUER or GewSt")
	periodStr := fs.String("period", "", "Period: 2024, 2024-Q1 or 2024-03")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "period": *periodStr}); err != nil {
		return err
	}

	reportType, ok := domain.ParseReportType(*typeStr)
	if !ok {
		return fmt.Errorf("unknown report type %q", *typeStr)
	}
	period, err := domain.ParsePeriod(*periodStr)
	if err != nil {
		return err
	}
	rep, err := a.Tax.GenerateReport(ctx, *company, reportType, period)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

func runTransition(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "transition")
	reportID := fs.String("report", "", "Report ID")
	status := fs.String("status", "", "Target status: generated, submitted, approved or rejected")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "report": *reportID, "status": *status}); err != nil {
		return err
	}

	rep, err := a.Tax.Transition(ctx, *company, *reportID, domain.ReportStatus(*status))
	if err != nil {
		return err
	}
	fmt.Printf("Report %s is now %s\n", rep.ID, rep.Status)
	return nil
}

func runCorrect(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "correct")
	reportID := fs.String("report", "", "ID of the filed report")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "report": *reportID}); err != nil {
		return err
	}

	rep, err := a.Tax.GenerateCorrection(ctx, *company, *reportID)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

func runExport(ctx context.Context, a *app.App, args []string) error {
	fs, company := flags(a, "export")
	reportID := fs.String("report", "", "Report ID")
	out := fs.String("out", "", "Output file (default stdout)")
	fs.Parse(args)
	if err := require(map[string]string{"company": *company, "report": *reportID}); err != nil {
		return err
	}

	rep, err := a.Store.GetReport(ctx, *company, *reportID)
	if err != nil {
		return err
	}
	payload, err := report.ToExportPayload(rep)
	if err != nil {
		return err
	}
	data, err := payload.JSON()
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", *out, err)
	}
	fmt.Printf("Wrote %s\n", *out)
	return nil
}

func runUpload(ctx context.Context, a *app.App, args []string) error {
	fs, _ := flags(a, "upload")
	bucketName := fs.String("bucket", "", "GCS bucket name")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local statement file")
	fs.Parse(args)
	if err := require(map[string]string{"bucket": *bucketName, "file": *filePath}); err != nil {
		return err
	}
	if a.Storage == nil {
		return fmt.Errorf("upload needs GCP_PROJECT or ARCHIVE_BUCKET")
	}
	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := a.Storage.UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		return err
	}
	fmt.Printf("Uploaded %s to gs://%s/%s\n", *filePath, *bucketName, *objectName)
	return nil
}

// resolveReview archives the Notion page of a decided transaction.
func resolveReview(ctx context.Context, a *app.App, txID string) {
	if a.Board == nil {
		return
	}
	if _, err := a.Board.ResolveReviews(ctx, []string{txID}); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("transaction_id", txID).Msg("Failed to resolve review item")
	}
}
