package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/taxledger/internal/api"
	"github.com/dvloznov/taxledger/internal/app"
	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}

	port := flag.String("port", cfg.HTTPPort, "HTTP server port (or set PORT env)")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)
	ctx := logger.WithContext(context.Background(), log)

	// With Kafka, statement jobs are consumed by cmd/worker; otherwise the
	// API runs the in-memory workers itself.
	a, err := app.New(ctx, cfg, app.Options{NotifyIngest: true, Consume: !cfg.UseKafka()})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if !cfg.UseKafka() {
		log.Info().Int("workers", cfg.WorkerCount).Msg("Starting in-process job workers")
		if err := a.Queue.Start(workerCtx, a.Dispatcher.Handle); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job workers")
		}
	}

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      api.NewRouter(log, a.RouterDeps()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job workers")
	}

	log.Info().Msg("Server exited")
}
