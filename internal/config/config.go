// Package config loads replica configuration from YAML with environment
// overrides.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recsync/internal/clock"
)

// NodeConfig identifies this replica.
type NodeConfig struct {
	ID       string        `yaml:"id"`
	MaxDrift time.Duration `yaml:"max_drift"`
}

// StoreConfig holds the durable store location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SchemaConfig points at extra CUE model definitions.
type SchemaConfig struct {
	Dir string `yaml:"dir"`
}

// IngestConfig sizes the ingestion pipeline.
type IngestConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete replica configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Store   StoreConfig   `yaml:"store"`
	Schema  SchemaConfig  `yaml:"schema"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	setDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, applies defaults and RECSYNC_*
// environment overrides, and validates the result. An empty path loads
// defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvironmentOverrides(cfg, os.Getenv)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Node.ID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Node.ID = host
		} else {
			cfg.Node.ID = "recsync"
		}
	}
	if cfg.Node.MaxDrift == 0 {
		cfg.Node.MaxDrift = clock.DefaultMaxDrift
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "recsync.db"
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 256
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// applyEnvironmentOverrides applies RECSYNC_* variables. Unparseable
// numbers and durations are ignored.
func applyEnvironmentOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("RECSYNC_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := getenv("RECSYNC_MAX_DRIFT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Node.MaxDrift = d
		}
	}
	if v := getenv("RECSYNC_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := getenv("RECSYNC_SCHEMA_DIR"); v != "" {
		cfg.Schema.Dir = v
	}
	if v := getenv("RECSYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Workers = n
		}
	}
	if v := getenv("RECSYNC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := getenv("RECSYNC_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := getenv("RECSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("RECSYNC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Node.MaxDrift < 0 {
		return fmt.Errorf("node.max_drift must not be negative")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Ingest.Workers < 1 || c.Ingest.Workers > 1024 {
		return fmt.Errorf("ingest.workers must be between 1 and 1024")
	}
	if c.Ingest.QueueSize < 1 {
		return fmt.Errorf("ingest.queue_size must be positive")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Logger builds the slog logger described by l, writing to w. A true
// verbose forces debug level.
func (l LoggingConfig) Logger(w io.Writer, verbose bool) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
