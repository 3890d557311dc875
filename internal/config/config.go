package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Vendor   VendorConfig   `yaml:"vendor"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Label    LabelConfig    `yaml:"label"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type VendorConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	PrinterID string        `yaml:"printer_id"`
	Auth      string        `yaml:"auth"`
	Timeout   time.Duration `yaml:"timeout"`
}

type WebhookConfig struct {
	// Secret enables HMAC verification of order webhooks when set.
	Secret       string `yaml:"secret"`
	VendorSecret string `yaml:"vendor_secret"`
	VendorHeader string `yaml:"vendor_header"`
}

type DispatchConfig struct {
	Mode          string        `yaml:"mode"`
	Concurrency   int           `yaml:"concurrency"`
	Pacing        time.Duration `yaml:"pacing"`
	ResumePending bool          `yaml:"resume_pending"`
	ResumeLimit   int           `yaml:"resume_limit"`
	// StaleAfter is how long a pending attempt may sit untouched before a
	// retry or resume may take it over from the dispatch that created it.
	StaleAfter     time.Duration `yaml:"stale_after"`
	ResumeInterval time.Duration `yaml:"resume_interval"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

type LabelConfig struct {
	WidthMM  float64 `yaml:"width_mm"`
	HeightMM float64 `yaml:"height_mm"`
	MarginMM float64 `yaml:"margin_mm"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ModeInline = "inline"
	ModeKafka  = "kafka"
)

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "./data/labelrelay.db",
		},
		Vendor: VendorConfig{
			BaseURL: "https://api.printnode.com",
			Auth:    "basic",
			Timeout: 30 * time.Second,
		},
		Webhook: WebhookConfig{
			VendorHeader: "X-Webhook-Secret",
		},
		Dispatch: DispatchConfig{
			Mode:           ModeInline,
			Concurrency:    3,
			Pacing:         500 * time.Millisecond,
			ResumePending:  true,
			ResumeLimit:    100,
			StaleAfter:     10 * time.Minute,
			ResumeInterval: time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "labelrelay.orders",
			GroupID: "labelrelay-workers",
		},
		Redis: RedisConfig{
			ClaimTTL: 10 * time.Minute,
		},
		Label: LabelConfig{
			WidthMM:  57,
			HeightMM: 32,
			MarginMM: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads an optional .env file, then the YAML file at configPath over
// the defaults, then environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Database.Driver = DriverPostgres
		} else {
			cfg.Database.Driver = DriverSQLite
			cfg.Database.Path = strings.TrimPrefix(v, "sqlite://")
		}
	}

	if v := os.Getenv("PRINT_API_KEY"); v != "" {
		cfg.Vendor.APIKey = v
	}

	if v := os.Getenv("PRINTER_ID"); v != "" {
		cfg.Vendor.PrinterID = v
	}

	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}

	if v := os.Getenv("VENDOR_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.VendorSecret = v
	}

	if v := os.Getenv("PRINT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.Concurrency = n
		}
	}

	if v := os.Getenv("RELAY_DISPATCH_MODE"); v != "" {
		cfg.Dispatch.Mode = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}

	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid database driver: %s (valid: sqlite, postgres, memory)", c.Database.Driver)
	}

	if c.Vendor.Auth != "basic" && c.Vendor.Auth != "bearer" {
		return fmt.Errorf("invalid vendor auth: %s (valid: basic, bearer)", c.Vendor.Auth)
	}

	if c.Vendor.Timeout < 0 {
		return fmt.Errorf("vendor timeout must be non-negative")
	}

	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch concurrency must be at least 1")
	}

	if c.Dispatch.Pacing < 0 {
		return fmt.Errorf("dispatch pacing must be non-negative")
	}

	if c.Dispatch.ResumeLimit < 0 {
		return fmt.Errorf("resume limit must be non-negative")
	}

	if c.Dispatch.StaleAfter < 0 || c.Dispatch.ResumeInterval < 0 {
		return fmt.Errorf("stale_after and resume_interval must be non-negative")
	}

	switch c.Dispatch.Mode {
	case ModeInline:
	case ModeKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for kafka dispatch mode")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required for kafka dispatch mode")
		}
	default:
		return fmt.Errorf("invalid dispatch mode: %s (valid: inline, kafka)", c.Dispatch.Mode)
	}

	if c.Label.WidthMM <= 0 || c.Label.HeightMM <= 0 {
		return fmt.Errorf("label dimensions must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
