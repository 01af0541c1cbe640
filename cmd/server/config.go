// Package main provides the Cinder server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cinderlog/cinder/internal/api"
	"github.com/cinderlog/cinder/internal/cache"
	"github.com/cinderlog/cinder/internal/models"
	"github.com/cinderlog/cinder/internal/publish"
	"github.com/cinderlog/cinder/internal/storage"
	"github.com/cinderlog/cinder/internal/tailer"
)

// Config represents the server configuration.
type Config struct {
	Server    api.Config      `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Publish   publish.Config  `yaml:"publish"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Tail      []tailer.Config `yaml:"tail"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retention RetentionConfig `yaml:"retention"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// MetricsConfig exposes Prometheus metrics on a dedicated port.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default :9090
}

// StoreConfig selects the system of record.
type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite (default), postgres, clickhouse

	Path string `yaml:"path"` // sqlite database file
	DSN  string `yaml:"dsn"`  // postgres connection string

	// ClickHouse connection settings.
	Addresses []string `yaml:"addresses"`
	Database  string   `yaml:"database"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`

	MaxOpenConns  int           `yaml:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	Compression   bool          `yaml:"compression"`
	RetentionDays int           `yaml:"retention_days"`
}

// toStorage maps the YAML section onto the storage package config.
func (c *StoreConfig) toStorage() *storage.Config {
	return &storage.Config{
		Backend:       c.Backend,
		Path:          c.Path,
		DSN:           c.DSN,
		Addresses:     c.Addresses,
		Database:      c.Database,
		Username:      c.Username,
		Password:      c.Password,
		MaxOpenConns:  c.MaxOpenConns,
		MaxIdleConns:  c.MaxIdleConns,
		DialTimeout:   c.DialTimeout,
		Compression:   c.Compression,
		RetentionDays: c.RetentionDays,
	}
}

// CacheConfig selects the read-side cache. Unlike the cache package it
// also accepts "disabled", which runs the server without one.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // memory (default), redis, disabled
	URL       string        `yaml:"url"`
	MaxRecent int           `yaml:"max_recent"`
	TTL       time.Duration `yaml:"ttl"`
}

const cacheDisabled = "disabled"

// Disabled reports whether the server should run without a cache.
func (c *CacheConfig) Disabled() bool {
	return c.Backend == cacheDisabled
}

func (c *CacheConfig) toCache() *cache.Config {
	return &cache.Config{
		Backend:   c.Backend,
		URL:       c.URL,
		MaxRecent: c.MaxRecent,
		TTL:       c.TTL,
	}
}

// AlertingConfig tunes rule sweeps and notification delivery. Alert
// evaluation itself is always on.
type AlertingConfig struct {
	// SweepInterval is the cadence of background rule sweeps
	// (default: 1m).
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// WebhookURL receives alert notifications. Empty routes alerts to
	// the process log instead.
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`

	// Notification rate limiting and severity floor.
	NotifyPerSecond float64 `yaml:"notify_per_second"`
	NotifyBurst     int     `yaml:"notify_burst"`
	MinSeverity     string  `yaml:"min_severity"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	SideCallTimeout time.Duration `yaml:"side_call_timeout"`
	MaxBatchLines   int           `yaml:"max_batch_lines"`
}

// RetentionConfig prunes old entries from the store.
type RetentionConfig struct {
	// MaxAge drops entries older than this. Zero disables pruning.
	MaxAge time.Duration `yaml:"max_age"`

	// SweepInterval is how often the prune runs (default: 1h).
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	c.Server.SetDefaults()

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = storage.BackendSQLite
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/cinder.db"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = cache.BackendMemory
	}
	if c.Alerting.SweepInterval == 0 {
		c.Alerting.SweepInterval = time.Minute
	}
	if c.Retention.SweepInterval == 0 {
		c.Retention.SweepInterval = time.Hour
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case storage.BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case storage.BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	case storage.BackendClickHouse:
		if len(c.Store.Addresses) == 0 {
			return fmt.Errorf("store.addresses is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Cache.Backend {
	case cache.BackendMemory, cacheDisabled:
	case cache.BackendRedis:
		if c.Cache.URL == "" {
			return fmt.Errorf("cache.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.Publish.Enabled {
		if len(c.Publish.Brokers) == 0 {
			return fmt.Errorf("publish.brokers is required when publishing is enabled")
		}
		if c.Publish.Topic == "" {
			return fmt.Errorf("publish.topic is required when publishing is enabled")
		}
	}

	if s := c.Alerting.MinSeverity; s != "" {
		switch models.Severity(s) {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		default:
			return fmt.Errorf("alerting.min_severity %q is not a severity", s)
		}
	}

	for i, t := range c.Tail {
		if t.Path == "" {
			return fmt.Errorf("tail[%d].path is required", i)
		}
	}

	if c.Alerting.SweepInterval < 0 {
		return fmt.Errorf("alerting.sweep_interval must not be negative")
	}
	if c.Retention.MaxAge < 0 {
		return fmt.Errorf("retention.max_age must not be negative")
	}

	return nil
}

// applyEnvOverrides lets secrets come from the environment instead of
// the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CINDER_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("CINDER_STORE_PASSWORD"); v != "" {
		c.Store.Password = v
	}
	if v := os.Getenv("CINDER_CACHE_URL"); v != "" {
		c.Cache.URL = v
	}
	if v := os.Getenv("CINDER_WEBHOOK_URL"); v != "" {
		c.Alerting.WebhookURL = v
	}
}
