package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/cinderlog/cinder/internal/models"
)

// PostgresStore implements LogStore on Postgres.
type PostgresStore struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	db           *sql.DB
}

// NewPostgresStore creates a Postgres-backed log store.
func NewPostgresStore(dsn string, maxOpenConns, maxIdleConns int) *PostgresStore {
	if maxOpenConns == 0 {
		maxOpenConns = 10
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	return &PostgresStore{
		dsn:          dsn,
		maxOpenConns: maxOpenConns,
		maxIdleConns: maxIdleConns,
	}
}

// Open initializes the database connection.
func (s *PostgresStore) Open() error {
	if s.dsn == "" {
		return fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the logs table if it doesn't exist.
func (s *PostgresStore) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			application TEXT NOT NULL DEFAULT '',
			environment TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			severity INTEGER NOT NULL DEFAULT 0,
			logger TEXT NOT NULL DEFAULT '',
			thread TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			tags JSONB,
			parsed BOOLEAN NOT NULL DEFAULT FALSE,
			raw TEXT NOT NULL DEFAULT '',
			processed_at TIMESTAMPTZ
		)`,
		"CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level)",
		"CREATE INDEX IF NOT EXISTS idx_logs_source ON logs(source)",
		"CREATE INDEX IF NOT EXISTS idx_logs_category ON logs(category)",
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate logs table: %w", err)
		}
	}
	return nil
}

// Ping checks the connection health.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const pgLogColumns = `id, timestamp, level, message, source, application, environment, host,
	category, severity, logger, thread, user_id, session_id, request_id,
	metadata, tags, parsed, raw, processed_at`

const pgInsertLogSQL = `
	INSERT INTO logs (
		id, timestamp, level, message, source, application, environment, host,
		category, severity, logger, thread, user_id, session_id, request_id,
		metadata, tags, parsed, raw, processed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

// Insert persists a single entry, assigning an ID when absent.
func (s *PostgresStore) Insert(ctx context.Context, entry *models.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, pgInsertLogSQL, pgLogArgs(entry)...)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// InsertBatch persists multiple entries in one transaction.
func (s *PostgresStore) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pgInsertLogSQL)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, pgLogArgs(entry)...); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID retrieves one entry, returning nil, nil when absent.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pgLogColumns+" FROM logs WHERE id = $1", id)
	entry, err := scanPGLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get log: %w", err)
	}
	return entry, nil
}

// Query retrieves entries matching the filter, newest first.
func (s *PostgresStore) Query(ctx context.Context, filter *Filter) (*QueryResult, error) {
	query, args := s.buildQuery(filter, false)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry, err := scanPGLog(rows)
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
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// CountByLevel returns the number of entries at exactly the given level.
func (s *PostgresStore) CountByLevel(ctx context.Context, level models.Level) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE level = $1", string(level)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by level: %w", err)
	}
	return count, nil
}

// CountSince returns the number of entries with a timestamp after since.
func (s *PostgresStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE timestamp > $1", since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count since: %w", err)
	}
	return count, nil
}

// CountSinceByLevel combines CountSince and CountByLevel.
func (s *PostgresStore) CountSinceByLevel(ctx context.Context, since time.Time, level models.Level) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM logs WHERE timestamp > $1 AND level = $2",
		since.UTC(), string(level)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count since by level: %w", err)
	}
	return count, nil
}

// DistinctSources lists the distinct non-empty sources seen so far.
func (s *PostgresStore) DistinctSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT source FROM logs WHERE source <> '' ORDER BY source")
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
func (s *PostgresStore) CountBySource(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, COUNT(*) FROM logs WHERE source <> '' GROUP BY source")
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
func (s *PostgresStore) LevelCounts(ctx context.Context) (map[models.Level]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT level, COUNT(*) FROM logs GROUP BY level")
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
func (s *PostgresStore) HourlyVolume(ctx context.Context, since time.Time) ([]VolumeBucket, error) {
	query := fmt.Sprintf(`
		SELECT to_char(date_trunc('hour', timestamp AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24:00:00"Z"') AS hour,
		       COUNT(*),
		       SUM(CASE WHEN level IN (%s) THEN 1 ELSE 0 END)
		FROM logs
		WHERE timestamp > $1
		GROUP BY hour
		ORDER BY hour`, errorLevelList())

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

// DeleteBefore removes entries older than the given time.
func (s *PostgresStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE timestamp < $1", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll wipes the log table.
func (s *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM logs")
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	return res.RowsAffected()
}

// buildQuery constructs the SQL query for a filter using $N placeholders.
func (s *PostgresStore) buildQuery(filter *Filter, countOnly bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	if countOnly {
		sb.WriteString("SELECT COUNT(*) FROM logs")
	} else {
		sb.WriteString("SELECT " + pgLogColumns + " FROM logs")
	}

	var conditions []string
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.Start.IsZero() {
		conditions = append(conditions, "timestamp >= "+arg(filter.Start.UTC()))
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "timestamp <= "+arg(filter.End.UTC()))
	}
	if filter.Level != "" {
		conditions = append(conditions, "level = "+arg(string(filter.Level)))
	}
	if len(filter.Levels) > 0 {
		placeholders := make([]string, len(filter.Levels))
		for i, l := range filter.Levels {
			placeholders[i] = arg(string(l))
		}
		conditions = append(conditions, fmt.Sprintf("level IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = "+arg(filter.Source))
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = "+arg(filter.Category))
	}
	if filter.Application != "" {
		conditions = append(conditions, "application = "+arg(filter.Application))
	}
	if filter.Environment != "" {
		conditions = append(conditions, "environment = "+arg(filter.Environment))
	}
	if filter.Contains != "" {
		conditions = append(conditions, "strpos(message, "+arg(filter.Contains)+") > 0")
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

// pgLogArgs renders an entry in insert-column order.
func pgLogArgs(entry *models.LogEntry) []interface{} {
	return []interface{}{
		entry.ID,
		entry.Timestamp.UTC(),
		string(entry.Level),
		entry.Message,
		entry.Source,
		entry.Application,
		entry.Environment,
		entry.Host,
		entry.Category,
		entry.Severity,
		entry.Logger,
		entry.Thread,
		entry.UserID,
		entry.SessionID,
		entry.RequestID,
		nullString(encodeJSONMap(entry.Metadata)),
		nullString(encodeJSONSlice(entry.Tags)),
		entry.Parsed,
		entry.Raw,
		nullTime(entry.ProcessedAt),
	}
}

func scanPGLog(row rowScanner) (*models.LogEntry, error) {
	entry := &models.LogEntry{}
	var level string
	var metadata, tags sql.NullString
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
		&entry.Severity,
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
	if processedAt.Valid {
		entry.ProcessedAt = processedAt.Time.UTC()
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &entry.Metadata)
	}
	if tags.Valid && tags.String != "" {
		json.Unmarshal([]byte(tags.String), &entry.Tags)
	}
	return entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
