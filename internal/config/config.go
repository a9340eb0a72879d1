// Package config loads process settings from the environment. A .env file
// in the working directory, if present, is read first; variables already
// set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-wide settings of the binaries.
type Config struct {
	LogLevel string

	// DatabaseURL selects the Postgres store; empty means the in-memory store.
	DatabaseURL string

	GCPProject      string
	BigQueryDataset string
	ArchiveBucket   string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	NotionToken      string
	NotionDatabaseID string
	NotionDryRun     bool

	GeminiModel  string
	GeminiAPIKey string

	// LedgerSource is "store" (default) or "bigquery".
	LedgerSource string

	HTTPPort        string
	ShutdownTimeout time.Duration
	WorkerCount     int
	QueueSize       int

	TradeTaxHebesatz int
	StatementDelim   string
	DefaultCompanyID string
}

// Load reads an optional .env file and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		LogLevel:         getenv("LOG_LEVEL", "info"),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		GCPProject:       getenv("GCP_PROJECT", ""),
		BigQueryDataset:  getenv("BIGQUERY_DATASET", "taxledger"),
		ArchiveBucket:    getenv("ARCHIVE_BUCKET", ""),
		KafkaBrokers:     getList("KAFKA_BROKERS"),
		KafkaTopic:       getenv("KAFKA_TOPIC", "statements"),
		KafkaGroupID:     getenv("KAFKA_GROUP_ID", "taxledger-worker"),
		NotionToken:      getenv("NOTION_TOKEN", ""),
		NotionDatabaseID: getenv("NOTION_REVIEW_DB_ID", ""),
		NotionDryRun:     getBool("NOTION_DRY_RUN", false),
		GeminiModel:      getenv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiAPIKey:     getenv("GEMINI_API_KEY", getenv("GOOGLE_API_KEY", "")),
		LedgerSource:     getenv("LEDGER_SOURCE", "store"),
		HTTPPort:         getenv("PORT", "8080"),
		ShutdownTimeout:  getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		WorkerCount:      getInt("WORKER_COUNT", 4),
		QueueSize:        getInt("QUEUE_SIZE", 100),
		TradeTaxHebesatz: getInt("GEWST_HEBESATZ", 400),
		StatementDelim:   getenv("CSV_DELIMITER", ";"),
		DefaultCompanyID: getenv("COMPANY_ID", ""),
	}
}

// UseKafka reports whether a broker list is configured.
func (c Config) UseKafka() bool { return len(c.KafkaBrokers) > 0 }

// UseNotion reports whether the review board is configured.
func (c Config) UseNotion() bool { return c.NotionToken != "" && c.NotionDatabaseID != "" }

// UseGemini reports whether category suggestions can be requested.
func (c Config) UseGemini() bool { return c.GeminiAPIKey != "" }

// Validate checks combinations the binaries cannot start with.
func (c Config) Validate() error {
	switch c.LedgerSource {
	case "store":
	case "bigquery":
		if c.GCPProject == "" {
			return fmt.Errorf("config: LEDGER_SOURCE=bigquery needs GCP_PROJECT")
		}
	default:
		return fmt.Errorf("config: unknown LEDGER_SOURCE %q", c.LedgerSource)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("config: WORKER_COUNT must be positive")
	}
	if len([]rune(c.StatementDelim)) != 1 {
		return fmt.Errorf("config: CSV_DELIMITER must be a single character")
	}
	return nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getList splits a comma separated variable, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
