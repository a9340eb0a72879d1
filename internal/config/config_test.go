package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "KAFKA_BROKERS", "WORKER_COUNT", "SHUTDOWN_TIMEOUT", "GEWST_HEBESATZ"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.LogLevel != "info" || cfg.WorkerCount != 4 || cfg.ShutdownTimeout != 30*time.Second || cfg.TradeTaxHebesatz != 400 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.UseKafka() {
		t.Error("UseKafka() = true without brokers")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092,,")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("NOTION_DRY_RUN", "true")
	t.Setenv("QUEUE_SIZE", "not-a-number")

	cfg := FromEnv()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.WorkerCount != 8 || cfg.ShutdownTimeout != 5*time.Second || !cfg.NotionDryRun {
		t.Errorf("overrides = %+v", cfg)
	}
	if cfg.QueueSize != 100 {
		t.Errorf("QueueSize = %d, want default on parse error", cfg.QueueSize)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BIGQUERY_DATASET=from_file\nPORT=9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	t.Setenv("PORT", "7000")
	t.Setenv("BIGQUERY_DATASET", "")
	os.Unsetenv("BIGQUERY_DATASET")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BigQueryDataset != "from_file" {
		t.Errorf("BigQueryDataset = %q, want from_file", cfg.BigQueryDataset)
	}
	if cfg.HTTPPort != "7000" {
		t.Errorf("HTTPPort = %q, environment must win over .env", cfg.HTTPPort)
	}
}

func TestLoad_NoDotEnv(t *testing.T) {
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	if _, err := Load(); err != nil {
		t.Errorf("Load() without .env error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := Config{LedgerSource: "store", WorkerCount: 1, StatementDelim: ";"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bigquery ledger without project", func(c *Config) { c.LedgerSource = "bigquery" }, true},
		{"bigquery ledger", func(c *Config) { c.LedgerSource = "bigquery"; c.GCPProject = "p" }, false},
		{"unknown ledger", func(c *Config) { c.LedgerSource = "sheets" }, true},
		{"no workers", func(c *Config) { c.WorkerCount = 0 }, true},
		{"long delimiter", func(c *Config) { c.StatementDelim = ";;" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUseNotionAndGemini(t *testing.T) {
	cfg := Config{NotionToken: "secret"}
	if cfg.UseNotion() {
		t.Error("UseNotion() = true without database")
	}
	cfg.NotionDatabaseID = "db"
	if !cfg.UseNotion() {
		t.Error("UseNotion() = false")
	}
	if cfg.UseGemini() {
		t.Error("UseGemini() = true without key")
	}
}
