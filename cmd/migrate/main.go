package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		databaseURL = flag.String("database-url", cfg.DatabaseURL, "Postgres connection string (or set DATABASE_URL env)")
		appliedBy   = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		list        = flag.Bool("list", false, "List embedded migrations and exit")
		timeout     = flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	)
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)

	migrations, err := postgres.ReadMigrations()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	if *list {
		for _, line := range describe(migrations) {
			fmt.Println(line)
		}
		return
	}

	if *databaseURL == "" {
		log.Fatal().Msg("Error: -database-url flag or DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), *timeout)
	defer cancel()

	st, err := postgres.Open(ctx, *databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	log.Info().Int("migrations", len(migrations)).Msg("Found migration files")

	applied, err := postgres.Migrate(ctx, st.DB(), *appliedBy)
	if err != nil {
		log.Error().Err(err).Int("applied", applied).Msg("Migration failed")
		st.Close()
		os.Exit(1)
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Successfully applied migrations")
	}
}

// describe renders one line per migration, e.g.
// "0001_statements  sha256:3f2a9c1b".
func describe(migrations []postgres.Migration) []string {
	out := make([]string, 0, len(migrations))
	for _, m := range migrations {
		sum := m.Checksum
		if len(sum) > 8 {
			sum = sum[:8]
		}
		out = append(out, fmt.Sprintf("%04d_%s  sha256:%s", m.Version, m.Name, sum))
	}
	return out
}
