package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := defaults().Validate(); err != nil {
		t.Fatalf("defaults().Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatch.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.Pacing != 500*time.Millisecond {
		t.Errorf("Pacing = %v, want 500ms", cfg.Dispatch.Pacing)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9090
dispatch:
  concurrency: 5
  pacing: 250ms
vendor:
  printer_id: "111"
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PRINTER_ID", "222")
	t.Setenv("PRINT_CONCURRENCY", "7")
	t.Setenv("DATABASE_URL", "postgres://relay@localhost/relay")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Dispatch.Pacing != 250*time.Millisecond {
		t.Errorf("Pacing = %v, want 250ms", cfg.Dispatch.Pacing)
	}
	if cfg.Vendor.PrinterID != "222" {
		t.Errorf("PrinterID = %q, want env override 222", cfg.Vendor.PrinterID)
	}
	if cfg.Dispatch.Concurrency != 7 {
		t.Errorf("Concurrency = %d, want 7", cfg.Dispatch.Concurrency)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.DSN = "" }},
		{"auth", func(c *Config) { c.Vendor.Auth = "digest" }},
		{"concurrency", func(c *Config) { c.Dispatch.Concurrency = 0 }},
		{"stale after", func(c *Config) { c.Dispatch.StaleAfter = -time.Second }},
		{"mode", func(c *Config) { c.Dispatch.Mode = "cron" }},
		{"kafka without topic", func(c *Config) { c.Dispatch.Mode = ModeKafka; c.Kafka.Topic = "" }},
		{"label", func(c *Config) { c.Label.WidthMM = 0 }},
		{"level", func(c *Config) { c.Logging.Level = "trace" }},
		{"format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
