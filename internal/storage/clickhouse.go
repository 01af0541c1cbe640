package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/cinderlog/cinder/internal/models"
)

// ClickHouseStore implements LogStore on ClickHouse, for deployments
// whose ingest volume outgrows the embedded backend.
type ClickHouseStore struct {
	config *Config
	db     *sql.DB
}

// NewClickHouseStore creates a ClickHouse-backed log store.
func NewClickHouseStore(config *Config) *ClickHouseStore {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}
	return &ClickHouseStore{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStore) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the logs table if it doesn't exist.
func (s *ClickHouseStore) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS logs (
			id UUID DEFAULT generateUUIDv4(),
			timestamp DateTime64(3, 'UTC'),
			level LowCardinality(String),
			message String,
			source LowCardinality(String),
			application LowCardinality(String),
			environment LowCardinality(String),
			host String,
			category LowCardinality(String),
			severity Int64,
			logger String,
			thread String,
			user_id String,
			session_id String,
			request_id String,
			metadata String,
			tags String,
			parsed Bool,
			raw String,
			processed_at Nullable(DateTime64(3, 'UTC')),
			_date Date DEFAULT toDate(timestamp)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (source, level, timestamp, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create logs table: %w", err)
	}

	indexes := []string{
		"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_message message TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 4",
		"ALTER TABLE logs ADD INDEX IF NOT EXISTS idx_category category TYPE bloom_filter(0.01) GRANULARITY 4",
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// Index creation is best-effort across ClickHouse versions.
			log.Printf("clickhouse index creation failed: %v", err)
		}
	}

	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const chLogColumns = `id, timestamp, level, message, source, application, environment, host,
	category, severity, logger, thread, user_id, session_id, request_id,
	metadata, tags, parsed, raw, processed_at`

const chInsertLogSQL = `
	INSERT INTO logs (
		id, timestamp, level, message, source, application, environment, host,
		category, severity, logger, thread, user_id, session_id, request_id,
		metadata, tags, parsed, raw, processed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert persists a single entry, assigning an ID when absent.
func (s *ClickHouseStore) Insert(ctx context.Context, entry *models.LogEntry) error {
	return s.InsertBatch(ctx, []*models.LogEntry{entry})
}

// InsertBatch persists multiple entries using one batch insert.
func (s *ClickHouseStore) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, chInsertLogSQL)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}

		_, err := stmt.ExecContext(ctx,
			entry.ID,
			entry.Timestamp.UTC(),
			string(entry.Level),
			entry.Message,
			entry.Source,
			entry.Application,
			entry.Environment,
			entry.Host,
			entry.Category,
			int64(entry.Severity),
			entry.Logger,
			entry.Thread,
			entry.UserID,
			entry.SessionID,
			entry.RequestID,
			encodeJSONMap(entry.Metadata),
			encodeJSONSlice(entry.Tags),
			entry.Parsed,
			entry.Raw,
			nullTime(entry.ProcessedAt),
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID retrieves one entry, returning nil, nil when absent.
func (s *ClickHouseStore) GetByID(ctx context.Context, id string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chLogColumns+" FROM logs WHERE id = ?", id)
	entry, err := scanCHLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get log: %w", err)
	}
	return entry, nil
}

// Query retrieves entries matching the filter, newest first.
func (s *ClickHouseStore) Query(ctx context.Context, filter *Filter) (*QueryResult, error) {
	query, args := s.buildQuery(filter, false)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry, err := scanCHLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	countQuery, countArgs := s.buildQuery(filter, true)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

// Count returns the total number of stored entries.
func (s *ClickHouseStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count() FROM logs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// CountByLevel returns the number of entries at exactly the given level.
func (s *ClickHouseStore) CountByLevel(ctx context.Context, level models.Level) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count() FROM logs WHERE level = ?", string(level)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by level: %w", err)
	}
	return count, nil
}

// CountSince returns the number of entries with a timestamp after since.
func (s *ClickHouseStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count() FROM logs WHERE timestamp > ?", since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count since: %w", err)
	}
	return count, nil
}

// CountSinceByLevel combines CountSince and CountByLevel.
func (s *ClickHouseStore) CountSinceByLevel(ctx context.Context, since time.Time, level models.Level) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT count() FROM logs WHERE timestamp > ? AND level = ?",
		since.UTC(), string(level)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count since by level: %w", err)
	}
	return count, nil
}

// DistinctSources lists the distinct non-empty sources seen so far.
func (s *ClickHouseStore) DistinctSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT source FROM logs WHERE source != '' ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("distinct sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// CountBySource returns per-source entry counts.
func (s *ClickHouseStore) CountBySource(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, count() FROM logs WHERE source != '' GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		counts[source] = count
	}
	return counts, rows.Err()
}

// LevelCounts returns per-level entry counts.
func (s *ClickHouseStore) LevelCounts(ctx context.Context) (map[models.Level]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT level, count() FROM logs GROUP BY level")
	if err != nil {
		return nil, fmt.Errorf("level counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Level]int64)
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		counts[models.Level(level)] = count
	}
	return counts, rows.Err()
}

// HourlyVolume returns hourly ingest totals since the given time.
func (s *ClickHouseStore) HourlyVolume(ctx context.Context, since time.Time) ([]VolumeBucket, error) {
	query := `
		SELECT formatDateTime(toStartOfHour(timestamp), '%Y-%m-%dT%H:00:00Z') AS hour,
		       count(),
		       countIf(level IN (` + errorLevelList() + `))
		FROM logs
		WHERE timestamp > ?
		GROUP BY hour
		ORDER BY hour`

	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("hourly volume: %w", err)
	}
	defer rows.Close()

	var buckets []VolumeBucket
	for rows.Next() {
		var b VolumeBucket
		if err := rows.Scan(&b.Hour, &b.Total, &b.Errors); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// DeleteBefore removes entries older than the given time. The delete is
// an asynchronous mutation in ClickHouse; the returned count is the
// number of matching rows at call time.
func (s *ClickHouseStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count() FROM logs WHERE timestamp < ?", before.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	_, err = s.db.ExecContext(ctx, "ALTER TABLE logs DELETE WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	return count, nil
}

// DeleteAll wipes the log table.
func (s *ClickHouseStore) DeleteAll(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count() FROM logs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE logs"); err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}

	return count, nil
}

// buildQuery constructs the SQL query for a filter.
func (s *ClickHouseStore) buildQuery(filter *Filter, countOnly bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	if countOnly {
		sb.WriteString("SELECT count() FROM logs")
	} else {
		sb.WriteString("SELECT " + chLogColumns + " FROM logs")
	}

	var conditions []string

	if !filter.Start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.End.UTC())
	}
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filter.Level))
	}
	if len(filter.Levels) > 0 {
		placeholders := make([]string, len(filter.Levels))
		for i, l := range filter.Levels {
			placeholders[i] = "?"
			args = append(args, string(l))
		}
		conditions = append(conditions, fmt.Sprintf("level IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Application != "" {
		conditions = append(conditions, "application = ?")
		args = append(args, filter.Application)
	}
	if filter.Environment != "" {
		conditions = append(conditions, "environment = ?")
		args = append(args, filter.Environment)
	}
	if filter.Contains != "" {
		conditions = append(conditions, "position(message, ?) > 0")
		args = append(args, filter.Contains)
	}

	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	if countOnly {
		return sb.String(), args
	}

	sb.WriteString(" ORDER BY timestamp DESC")

	limit := filter.Limit
	if limit == 0 {
		limit = defaultQueryLimit
	}
	sb.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	if filter.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
	}

	return sb.String(), args
}

func scanCHLog(row rowScanner) (*models.LogEntry, error) {
	entry := &models.LogEntry{}
	var level string
	var severity int64
	var metadata, tags string
	var processedAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.Timestamp,
		&level,
		&entry.Message,
		&entry.Source,
		&entry.Application,
		&entry.Environment,
		&entry.Host,
		&entry.Category,
		&severity,
		&entry.Logger,
		&entry.Thread,
		&entry.UserID,
		&entry.SessionID,
		&entry.RequestID,
		&metadata,
		&tags,
		&entry.Parsed,
		&entry.Raw,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Timestamp = entry.Timestamp.UTC()
	entry.Level = models.Level(level)
	entry.Severity = int(severity)
	if processedAt.Valid {
		entry.ProcessedAt = processedAt.Time.UTC()
	}
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &entry.Metadata)
	}
	if tags != "" {
		json.Unmarshal([]byte(tags), &entry.Tags)
	}
	return entry, nil
}
