// Package storage provides the system of record for log entries.
//
// Three backends implement the same LogStore contract: an embedded SQLite
// database (the default), Postgres, and ClickHouse for high-volume
// deployments. The store is the sole source of truth for the aggregate
// counts the alert evaluator sweeps; the read-side cache is never
// consulted for those.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

// Backend names accepted by New.
const (
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// LogStore defines operations for log persistence and the aggregate
// queries built on top of it.
type LogStore interface {
	// Open initializes the connection.
	Open() error
	// Close closes the connection.
	Close() error
	// Migrate creates or updates the schema.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Insert persists a single entry, assigning an ID when absent.
	Insert(ctx context.Context, entry *models.LogEntry) error
	// InsertBatch persists multiple entries in one transaction.
	InsertBatch(ctx context.Context, entries []*models.LogEntry) error
	// GetByID retrieves one entry, returning nil, nil when absent.
	GetByID(ctx context.Context, id string) (*models.LogEntry, error)
	// Query retrieves entries matching the filter, newest first.
	Query(ctx context.Context, filter *Filter) (*QueryResult, error)

	// Count returns the total number of stored entries.
	Count(ctx context.Context) (int64, error)
	// CountByLevel returns the number of entries at exactly the given level.
	CountByLevel(ctx context.Context, level models.Level) (int64, error)
	// CountSince returns the number of entries with a timestamp after the
	// given time.
	CountSince(ctx context.Context, since time.Time) (int64, error)
	// CountSinceByLevel combines CountSince and CountByLevel.
	CountSinceByLevel(ctx context.Context, since time.Time, level models.Level) (int64, error)
	// DistinctSources lists the distinct non-empty sources seen so far.
	DistinctSources(ctx context.Context) ([]string, error)
	// CountBySource returns per-source entry counts.
	CountBySource(ctx context.Context) (map[string]int64, error)
	// LevelCounts returns per-level entry counts.
	LevelCounts(ctx context.Context) (map[models.Level]int64, error)
	// HourlyVolume returns hourly ingest totals since the given time.
	HourlyVolume(ctx context.Context, since time.Time) ([]VolumeBucket, error)

	// DeleteBefore removes entries older than the given time and reports
	// how many went.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	// DeleteAll wipes the log table and reports how many rows went.
	DeleteAll(ctx context.Context) (int64, error)
}

// Filter defines query parameters for log retrieval.
type Filter struct {
	// Time range bounds; zero values are unbounded.
	Start time.Time
	End   time.Time

	// Optional exact-match filters.
	Level       models.Level
	Levels      []models.Level
	Source      string
	Category    string
	Application string
	Environment string

	// Contains restricts results to messages containing the substring
	// (case-sensitive on every backend).
	Contains string

	// Pagination. Limit defaults to 100 when zero.
	Limit  int
	Offset int
}

// QueryResult contains matching entries with pagination info.
type QueryResult struct {
	// Entries contains the matching entries, newest first.
	Entries []*models.LogEntry

	// Total is the total number of matching entries.
	Total int64

	// HasMore indicates more results exist past this page.
	HasMore bool
}

// VolumeBucket is one hour of ingest volume.
type VolumeBucket struct {
	// Hour is the bucket start, formatted 2006-01-02T15:00:00Z.
	Hour string `json:"hour"`

	// Total is the number of entries observed in the bucket.
	Total int64 `json:"total"`

	// Errors is how many of them were ERROR level or worse.
	Errors int64 `json:"errors"`
}

// defaultQueryLimit applies when a filter leaves Limit at zero.
const defaultQueryLimit = 100

// Config selects and configures a storage backend.
type Config struct {
	// Backend is one of sqlite, postgres, clickhouse. Empty means sqlite.
	Backend string

	// Path is the database file path (sqlite).
	Path string

	// DSN is the connection string (postgres).
	DSN string

	// Addresses are the server addresses (clickhouse).
	Addresses []string

	// Database, Username and Password authenticate the connection
	// (clickhouse).
	Database string
	Username string
	Password string

	// Pool settings; backends apply their own defaults when zero.
	MaxOpenConns int
	MaxIdleConns int
	DialTimeout  time.Duration

	// Compression enables LZ4 transport compression (clickhouse).
	Compression bool

	// RetentionDays sets the table TTL where the backend supports one
	// natively (clickhouse). Other backends rely on DeleteBefore sweeps.
	RetentionDays int
}

// New builds the configured backend. The returned store is not yet open.
func New(cfg *Config) (LogStore, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.Path), nil
	case BackendPostgres:
		return NewPostgresStore(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns), nil
	case BackendClickHouse:
		return NewClickHouseStore(cfg), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
