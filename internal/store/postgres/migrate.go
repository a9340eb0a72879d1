package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"

	"github.com/dvloznov/taxledger/internal/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration represents a single migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// migrationPattern matches files such as 0001_statements.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ReadMigrations returns the embedded migrations sorted by version.
func ReadMigrations() ([]Migration, error) {
	return readMigrations(migrationFS, "migrations")
}

func readMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("readMigrations: reading directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		m, ok := parseMigrationName(file.Name())
		if !ok {
			continue
		}
		content, err := fs.ReadFile(fsys, dir+"/"+file.Name())
		if err != nil {
			return nil, fmt.Errorf("readMigrations: reading %s: %w", file.Name(), err)
		}
		m.SQL = string(content)
		m.Checksum = fmt.Sprintf("%x", sha256.Sum256(content))
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationName(filename string) (Migration, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return Migration{}, false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return Migration{}, false
	}
	return Migration{Version: version, Name: matches[2], Filename: filename}, true
}

// Migrate applies pending migrations, each in its own transaction, and
// records them in schema_migrations. A changed checksum of an applied
// migration is an error. It returns the number of migrations applied.
func Migrate(ctx context.Context, db *sql.DB, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	const ensure = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		name        TEXT NOT NULL,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		checksum    TEXT NOT NULL,
		applied_by  TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ensure); err != nil {
		return 0, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	migrations, err := ReadMigrations()
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	applied := make(map[int]string)
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("Migrate: reading applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		var sum string
		if err := rows.Scan(&v, &sum); err != nil {
			rows.Close()
			return 0, fmt.Errorf("Migrate: scanning applied migration: %w", err)
		}
		applied[v] = sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("Migrate: iterating applied migrations: %w", err)
	}

	count := 0
	for _, m := range migrations {
		if sum, ok := applied[m.Version]; ok {
			if sum != m.Checksum {
				return count, fmt.Errorf("Migrate: %s was modified after being applied", m.Filename)
			}
			log.Debug().Str("migration", m.Filename).Msg("already applied")
			continue
		}

		if err := applyMigration(ctx, db, m, appliedBy); err != nil {
			return count, fmt.Errorf("Migrate: %s: %w", m.Filename, err)
		}
		log.Info().Str("migration", m.Filename).Msg("applied migration")
		count++
	}
	return count, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration, appliedBy string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, checksum, applied_by) VALUES ($1, $2, $3, $4)`,
		m.Version, m.Name, m.Checksum, appliedBy)
	if err != nil {
		return err
	}
	return tx.Commit()
}
