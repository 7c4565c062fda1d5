// Package config loads labelflow settings from the environment, optionally
// overlaid with a YAML file, and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/render"
	"github.com/raphaelgruber/labelflow/internal/resilience"
)

// Backends.
const (
	BackendNone      = "none"
	BackendMemory    = "memory"
	BackendSurrealDB = "surrealdb"
	BackendPostgres  = "postgres"
	BackendGCS       = "gcs"
	BackendS3        = "s3"
	BackendHTTP      = "http"
	BackendKafka     = "kafka"
)

// Config holds all configuration values.
type Config struct {
	// Record store
	StoreBackend       string
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string
	PostgresDSN        string

	// Blob storage
	BlobBackend  string
	Bucket       string
	BlobPrefix   string
	S3Region     string
	S3Endpoint   string
	S3PublicBase string

	// Printing
	PrinterBackend    string
	PrinterEndpoint   string
	PrinterToken      string
	KafkaBrokers      []string
	KafkaTopic        string
	Copies            int
	Priority          models.Priority
	PrinterPreference string
	Upload            bool

	// Pipeline
	Concurrency     int
	DispatchTimeout time.Duration
	Retry           resilience.RetryPolicy
	Location        *time.Location
	Templates       map[models.LabelKind]render.Template

	// Logging
	LogFile  string
	LogLevel slog.Level

	// HTTP server
	Addr string
}

// fileConfig is the YAML overlay. Only set fields override.
type fileConfig struct {
	Templates map[string]render.Template `yaml:"templates"`
	Printer   struct {
		Copies     int    `yaml:"copies"`
		Priority   string `yaml:"priority"`
		Preference string `yaml:"preference"`
	} `yaml:"printer"`
	Retry       *resilience.RetryPolicy `yaml:"retry"`
	Concurrency int                     `yaml:"concurrency"`
	Timezone    string                  `yaml:"timezone"`
}

// Load reads configuration from environment variables, then applies the
// YAML file named by LABELFLOW_CONFIG if set.
func Load() (Config, error) {
	cfg := Config{
		StoreBackend:       getEnv("LABELFLOW_STORE", BackendMemory),
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "labelflow"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "labels"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),
		PostgresDSN:        getEnv("LABELFLOW_POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=labelflow port=5432 sslmode=disable"),

		BlobBackend:  getEnv("LABELFLOW_BLOB", BackendMemory),
		Bucket:       getEnv("LABELFLOW_BUCKET", "pallet-labels"),
		BlobPrefix:   getEnv("LABELFLOW_BLOB_PREFIX", ""),
		S3Region:     getEnv("AWS_REGION", "eu-west-2"),
		S3Endpoint:   getEnv("LABELFLOW_S3_ENDPOINT", ""),
		S3PublicBase: getEnv("LABELFLOW_S3_PUBLIC_BASE", ""),

		PrinterBackend:    getEnv("LABELFLOW_PRINTER", BackendMemory),
		PrinterEndpoint:   getEnv("LABELFLOW_PRINTER_URL", "http://localhost:8631"),
		PrinterToken:      getEnv("LABELFLOW_PRINTER_TOKEN", ""),
		KafkaBrokers:      splitList(getEnv("LABELFLOW_KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        getEnv("LABELFLOW_KAFKA_TOPIC", "print-jobs"),
		Copies:            getEnvInt("LABELFLOW_COPIES", 1),
		PrinterPreference: getEnv("LABELFLOW_PRINTER_PREFERENCE", ""),
		Upload:            getEnv("LABELFLOW_UPLOAD", "true") == "true",

		Concurrency:     getEnvInt("LABELFLOW_CONCURRENCY", 4),
		DispatchTimeout: getEnvDuration("LABELFLOW_DISPATCH_TIMEOUT", 30*time.Second),
		Retry:           resilience.DefaultRetryPolicy(),
		Templates:       render.DefaultTemplates(),

		LogFile:  getEnv("LABELFLOW_LOG_FILE", "/tmp/labelflow.log"),
		LogLevel: parseLogLevel(getEnv("LABELFLOW_LOG_LEVEL", "INFO")),

		Addr: getEnv("LABELFLOW_ADDR", ":8080"),
	}
	cfg.Retry.MaxAttempts = getEnvInt("LABELFLOW_RETRY_ATTEMPTS", cfg.Retry.MaxAttempts)

	priority, err := models.ParsePriority(getEnv("LABELFLOW_PRIORITY", ""))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Priority = priority

	tz := getEnv("LABELFLOW_TIMEZONE", "Europe/London")
	if path := os.Getenv("LABELFLOW_CONFIG"); path != "" {
		fc, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if fc.Timezone != "" {
			tz = fc.Timezone
		}
		if err := cfg.overlay(fc); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("config: timezone %q: %w", tz, err)
	}
	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("config %s: %w", path, err)
	}
	return fc, nil
}

func (c *Config) overlay(fc fileConfig) error {
	for kind, tpl := range fc.Templates {
		k := models.LabelKind(strings.ToUpper(kind))
		if k != models.KindQC && k != models.KindGRN {
			return fmt.Errorf("unknown template kind %q", kind)
		}
		base := c.Templates[k]
		if tpl.Title != "" {
			base.Title = tpl.Title
		}
		if tpl.Company != "" {
			base.Company = tpl.Company
		}
		if tpl.Footer != "" {
			base.Footer = tpl.Footer
		}
		c.Templates[k] = base
	}
	if fc.Printer.Copies > 0 {
		c.Copies = fc.Printer.Copies
	}
	if fc.Printer.Priority != "" {
		p, err := models.ParsePriority(fc.Printer.Priority)
		if err != nil {
			return err
		}
		c.Priority = p
	}
	if fc.Printer.Preference != "" {
		c.PrinterPreference = fc.Printer.Preference
	}
	if fc.Retry != nil {
		c.Retry = *fc.Retry
	}
	if fc.Concurrency > 0 {
		c.Concurrency = fc.Concurrency
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
