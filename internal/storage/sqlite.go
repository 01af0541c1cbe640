package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cinderlog/cinder/internal/models"
)

// sqliteTimeLayout is fixed-width so that lexicographic comparison of
// stored timestamps matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements LogStore on an embedded SQLite database.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore creates a SQLite-backed log store at the given path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStore) Open() error {
	ctx := context.Background()

	if s.path == "" {
		return fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", "file:"+s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate() error {
	return runMigrations(s.db, sqliteMigrations)
}

// Ping checks the connection health.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteLogColumns = `id, timestamp, level, message, source, application, environment, host,
	category, severity, logger, thread, user_id, session_id, request_id,
	metadata, tags, parsed, raw, processed_at`

const sqliteInsertLogSQL = `
	INSERT INTO logs (
		id, timestamp, level, message, source, application, environment, host,
		category, severity, logger, thread, user_id, session_id, request_id,
		metadata, tags, parsed, raw, processed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert persists a single entry, assigning an ID when absent.
func (s *SQLiteStore) Insert(ctx context.Context, entry *models.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, sqliteInsertLogSQL, sqliteLogArgs(entry)...)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// InsertBatch persists multiple entries in one transaction.
func (s *SQLiteStore) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertLogSQL)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, sqliteLogArgs(entry)...); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID retrieves one entry, returning nil, nil when absent.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteLogColumns+" FROM logs WHERE id = ?", id)
	entry, err := scanSQLiteLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get log: %w", err)
	}
	return entry, nil
}

// Query retrieves entries matching the filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter *Filter) (*QueryResult, error) {
	query, args := s.buildQuery(filter, false)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry, err := scanSQLiteLog(rows)
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
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// CountByLevel returns the number of entries at exactly the given level.
func (s *SQLiteStore) CountByLevel(ctx context.Context, level models.Level) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE level = ?", string(level)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by level: %w", err)
	}
	return count, nil
}

// CountSince returns the number of entries with a timestamp after since.
func (s *SQLiteStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE timestamp > ?", formatSQLiteTime(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count since: %w", err)
	}
	return count, nil
}

// CountSinceByLevel combines CountSince and CountByLevel.
func (s *SQLiteStore) CountSinceByLevel(ctx context.Context, since time.Time, level models.Level) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM logs WHERE timestamp > ? AND level = ?",
		formatSQLiteTime(since), string(level)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count since by level: %w", err)
	}
	return count, nil
}

// DistinctSources lists the distinct non-empty sources seen so far.
func (s *SQLiteStore) DistinctSources(ctx context.Context) ([]string, error) {
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
func (s *SQLiteStore) CountBySource(ctx context.Context) (map[string]int64, error) {
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
func (s *SQLiteStore) LevelCounts(ctx context.Context) (map[models.Level]int64, error) {
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
func (s *SQLiteStore) HourlyVolume(ctx context.Context, since time.Time) ([]VolumeBucket, error) {
	query := fmt.Sprintf(`
		SELECT strftime('%%Y-%%m-%%dT%%H:00:00Z', timestamp) AS hour,
		       COUNT(*),
		       SUM(CASE WHEN level IN (%s) THEN 1 ELSE 0 END)
		FROM logs
		WHERE timestamp > ?
		GROUP BY hour
		ORDER BY hour`, errorLevelList())

	rows, err := s.db.QueryContext(ctx, query, formatSQLiteTime(since))
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
func (s *SQLiteStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE timestamp < ?", formatSQLiteTime(before))
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll wipes the log table.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM logs")
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	return res.RowsAffected()
}

// buildQuery constructs the SQL query for a filter.
func (s *SQLiteStore) buildQuery(filter *Filter, countOnly bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	if countOnly {
		sb.WriteString("SELECT COUNT(*) FROM logs")
	} else {
		sb.WriteString("SELECT " + sqliteLogColumns + " FROM logs")
	}

	var conditions []string

	if !filter.Start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, formatSQLiteTime(filter.Start))
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, formatSQLiteTime(filter.End))
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
		conditions = append(conditions, "instr(message, ?) > 0")
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

// sqliteLogArgs renders an entry in insert-column order.
func sqliteLogArgs(entry *models.LogEntry) []interface{} {
	return []interface{}{
		entry.ID,
		formatSQLiteTime(entry.Timestamp),
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
		encodeJSONMap(entry.Metadata),
		encodeJSONSlice(entry.Tags),
		boolToInt(entry.Parsed),
		entry.Raw,
		formatSQLiteTime(entry.ProcessedAt),
	}
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteLog(row rowScanner) (*models.LogEntry, error) {
	entry := &models.LogEntry{}
	var level, timestamp, metadata, tags, processedAt string
	var parsed int

	err := row.Scan(
		&entry.ID,
		&timestamp,
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
		&parsed,
		&entry.Raw,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Timestamp = parseSQLiteTime(timestamp)
	entry.Level = models.Level(level)
	entry.Parsed = parsed != 0
	entry.ProcessedAt = parseSQLiteTime(processedAt)
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &entry.Metadata)
	}
	if tags != "" {
		json.Unmarshal([]byte(tags), &entry.Tags)
	}
	return entry, nil
}

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeJSONMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func encodeJSONSlice(s []string) string {
	if len(s) == 0 {
		return ""
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// errorLevelList renders the SQL IN-list matching models.LogEntry.IsError.
func errorLevelList() string {
	quoted := make([]string, 0, 3)
	for _, l := range []models.Level{models.LevelError, models.LevelFatal, models.LevelCritical} {
		quoted = append(quoted, "'"+string(l)+"'")
	}
	return strings.Join(quoted, ", ")
}
