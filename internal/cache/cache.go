// Package cache provides the read-side cache in front of log storage.
//
// The cache is strictly best effort and never authoritative. Writes
// happen after an entry is persisted, misses are reported as misses
// rather than falling back to storage, and a broken cache must never
// fail an ingestion.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

// Cache is the read-side facade backing the hot query paths.
type Cache interface {
	// Put records a freshly ingested entry. It updates the by-ID index,
	// the recency windows, and the running counters.
	Put(ctx context.Context, entry *models.LogEntry) error

	// GetByID returns a cached entry, or nil, nil on a miss.
	GetByID(ctx context.Context, id string) (*models.LogEntry, error)

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]*models.LogEntry, error)

	// RecentErrors returns up to limit ERROR-or-worse entries, newest first.
	RecentErrors(ctx context.Context, limit int) ([]*models.LogEntry, error)

	// CountsBySource returns per-source counters accumulated since the
	// cache was last cleared.
	CountsBySource(ctx context.Context) (map[string]int64, error)

	// HourlyCounts returns per-hour counters keyed by UTC hour strings
	// like "2026-01-15T10:00:00Z".
	HourlyCounts(ctx context.Context) (map[string]int64, error)

	// Healthy reports whether the cache backend is reachable.
	Healthy(ctx context.Context) bool

	// Clear drops all cached state.
	Clear(ctx context.Context) error

	// Close releases backend connections.
	Close() error
}

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultMaxRecent = 1000
	defaultTTL       = 24 * time.Hour
)

// Config selects and tunes the cache backend.
type Config struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend"`

	// URL is the Redis connection URL, e.g. redis://localhost:6379/0.
	URL string `yaml:"url"`

	// MaxRecent bounds the recency windows. Defaults to 1000.
	MaxRecent int `yaml:"max_recent"`

	// TTL bounds how long individual entries stay cached. Defaults to 24h.
	TTL time.Duration `yaml:"ttl"`
}

// New creates a cache for the configured backend.
func New(cfg *Config) (Cache, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryCache(cfg.MaxRecent, cfg.TTL), nil
	case BackendRedis:
		return NewRedisCache(cfg.URL, cfg.MaxRecent, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// hourKey buckets a timestamp to its UTC hour, matching the hour format
// used by storage volume queries.
func hourKey(ts time.Time) string {
	return ts.UTC().Truncate(time.Hour).Format("2006-01-02T15") + ":00:00Z"
}
