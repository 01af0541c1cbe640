package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	// Create temp directory for test database
	tmpDir, err := os.MkdirTemp("", "cinder-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func testEntry(level models.Level, message, source string, ts time.Time) *models.LogEntry {
	e := models.NewLogEntry()
	e.Level = level
	e.Message = message
	e.Source = source
	e.Timestamp = ts
	return e
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if store.db == nil {
		t.Fatal("database should be open")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Verify tables exist by querying them
	tables := []string{"logs", "schema_migrations"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s should exist: %v", table, err)
		}
	}

	// Migrate is idempotent
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLiteStore_InsertAndGetByID(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	entry := testEntry(models.LevelError, "Database connection failed", "api-gateway",
		time.Date(2026, 1, 15, 10, 23, 45, 123456789, time.UTC))
	entry.Application = "billing"
	entry.Environment = "staging"
	entry.Host = "node-7"
	entry.Category = "database"
	entry.Severity = 95
	entry.Logger = "com.example.Repo"
	entry.Thread = "worker-3"
	entry.UserID = "u-42"
	entry.SessionID = "s-17"
	entry.RequestID = "r-99"
	entry.SetMeta("region", "eu-west-1")
	entry.AddTag("billing")
	entry.Parsed = true
	entry.Raw = "raw line"
	entry.ProcessedAt = time.Date(2026, 1, 15, 10, 23, 46, 0, time.UTC)

	if err := store.Insert(ctx, entry); err != nil {
		t.Fatalf("insert log: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("insert should assign an ID")
	}

	got, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get log by id: %v", err)
	}
	if got == nil {
		t.Fatal("entry should exist")
	}

	if got.Level != models.LevelError {
		t.Errorf("level = %v, want ERROR", got.Level)
	}
	if got.Message != entry.Message {
		t.Errorf("message = %v, want %v", got.Message, entry.Message)
	}
	if !got.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, entry.Timestamp)
	}
	if got.Severity != 95 {
		t.Errorf("severity = %d, want 95", got.Severity)
	}
	if got.GetMeta("region") != "eu-west-1" {
		t.Errorf("metadata region = %v, want eu-west-1", got.GetMeta("region"))
	}
	if len(got.Tags) != 1 || got.Tags[0] != "billing" {
		t.Errorf("tags = %v, want [billing]", got.Tags)
	}
	if !got.Parsed {
		t.Error("parsed flag should survive the round trip")
	}
	if !got.ProcessedAt.Equal(entry.ProcessedAt) {
		t.Errorf("processed_at = %v, want %v", got.ProcessedAt, entry.ProcessedAt)
	}
}

func TestSQLiteStore_GetByID_NotFound(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	got, err := store.GetByID(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("get log by id: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil for missing entry", got)
	}
}

func TestSQLiteStore_InsertBatch(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	entries := []*models.LogEntry{
		testEntry(models.LevelInfo, "one", "svc-a", base),
		testEntry(models.LevelWarn, "two", "svc-a", base.Add(time.Second)),
		testEntry(models.LevelError, "three", "svc-b", base.Add(2*time.Second)),
	}

	if err := store.InsertBatch(ctx, entries); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	for i, e := range entries {
		if e.ID == "" {
			t.Errorf("entry %d should have an assigned ID", i)
		}
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	// Empty batch is a no-op
	if err := store.InsertBatch(ctx, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestSQLiteStore_Query(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	seed := []*models.LogEntry{
		testEntry(models.LevelInfo, "Service started", "api", base),
		testEntry(models.LevelError, "Connection refused by upstream", "api", base.Add(1*time.Minute)),
		testEntry(models.LevelError, "Disk almost full", "worker", base.Add(2*time.Minute)),
		testEntry(models.LevelWarn, "Slow response time", "worker", base.Add(3*time.Minute)),
		testEntry(models.LevelFatal, "Out of memory", "api", base.Add(4*time.Minute)),
	}
	seed[2].Category = "performance"
	if err := store.InsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("no filter returns newest first", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Total != 5 {
			t.Errorf("total = %d, want 5", res.Total)
		}
		if len(res.Entries) != 5 {
			t.Fatalf("entries = %d, want 5", len(res.Entries))
		}
		if res.Entries[0].Message != "Out of memory" {
			t.Errorf("first entry = %q, want newest", res.Entries[0].Message)
		}
		if res.HasMore {
			t.Error("HasMore should be false when everything fit")
		}
	})

	t.Run("by level", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{Level: models.LevelError})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Total != 2 {
			t.Errorf("total = %d, want 2", res.Total)
		}
	})

	t.Run("by level set", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{Levels: []models.Level{models.LevelError, models.LevelFatal}})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Total != 3 {
			t.Errorf("total = %d, want 3", res.Total)
		}
	})

	t.Run("by source", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{Source: "worker"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Total != 2 {
			t.Errorf("total = %d, want 2", res.Total)
		}
	})

	t.Run("by category", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{Category: "performance"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Total != 1 {
			t.Errorf("total = %d, want 1", res.Total)
		}
	})

	t.Run("contains is case-sensitive", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{Contains: "Connection"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Total != 1 {
			t.Errorf("total = %d, want 1", res.Total)
		}

		res, err = store.Query(ctx, &Filter{Contains: "connection"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Total != 0 {
			t.Errorf("lowercase total = %d, want 0", res.Total)
		}
	})

	t.Run("time window", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{
			Start: base.Add(1 * time.Minute),
			End:   base.Add(3 * time.Minute),
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		// Window bounds are inclusive
		if res.Total != 3 {
			t.Errorf("total = %d, want 3", res.Total)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		res, err := store.Query(ctx, &Filter{Limit: 2})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(res.Entries) != 2 {
			t.Errorf("entries = %d, want 2", len(res.Entries))
		}
		if !res.HasMore {
			t.Error("HasMore should be true with 3 entries remaining")
		}

		res, err = store.Query(ctx, &Filter{Limit: 2, Offset: 4})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(res.Entries) != 1 {
			t.Errorf("entries = %d, want 1", len(res.Entries))
		}
		if res.HasMore {
			t.Error("HasMore should be false on the last page")
		}
	})
}

func TestSQLiteStore_SubSecondOrdering(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Two entries within the same second must still order by nanos.
	sec := time.Date(2026, 1, 15, 12, 0, 45, 0, time.UTC)
	early := testEntry(models.LevelInfo, "early", "svc", sec.Add(100*time.Millisecond))
	late := testEntry(models.LevelInfo, "late", "svc", sec.Add(900*time.Millisecond))
	if err := store.InsertBatch(ctx, []*models.LogEntry{early, late}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := store.Query(ctx, &Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(res.Entries))
	}
	if res.Entries[0].Message != "late" {
		t.Errorf("first entry = %q, want late", res.Entries[0].Message)
	}
}

func TestSQLiteStore_Counts(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cutoff := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	seed := []*models.LogEntry{
		testEntry(models.LevelInfo, "before", "svc", cutoff.Add(-time.Hour)),
		testEntry(models.LevelError, "at cutoff", "svc", cutoff),
		testEntry(models.LevelError, "after one", "svc", cutoff.Add(time.Minute)),
		testEntry(models.LevelError, "after two", "svc", cutoff.Add(2*time.Minute)),
		testEntry(models.LevelWarn, "after three", "svc", cutoff.Add(3*time.Minute)),
	}
	if err := store.InsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}

	count, err = store.CountByLevel(ctx, models.LevelError)
	if err != nil {
		t.Fatalf("count by level: %v", err)
	}
	if count != 3 {
		t.Errorf("count by level = %d, want 3", count)
	}

	// CountSince is strictly after: the entry exactly at the cutoff is excluded.
	count, err = store.CountSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if count != 3 {
		t.Errorf("count since = %d, want 3", count)
	}

	count, err = store.CountSinceByLevel(ctx, cutoff, models.LevelError)
	if err != nil {
		t.Fatalf("count since by level: %v", err)
	}
	if count != 2 {
		t.Errorf("count since by level = %d, want 2", count)
	}
}

func TestSQLiteStore_DistinctSources(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	seed := []*models.LogEntry{
		testEntry(models.LevelInfo, "a", "zeta", base),
		testEntry(models.LevelInfo, "b", "alpha", base),
		testEntry(models.LevelInfo, "c", "alpha", base),
		testEntry(models.LevelInfo, "d", "", base),
	}
	if err := store.InsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sources, err := store.DistinctSources(ctx)
	if err != nil {
		t.Fatalf("distinct sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %v, want 2 entries", sources)
	}
	if !sort.StringsAreSorted(sources) {
		t.Errorf("sources %v should be sorted", sources)
	}

	counts, err := store.CountBySource(ctx)
	if err != nil {
		t.Fatalf("count by source: %v", err)
	}
	if counts["alpha"] != 2 || counts["zeta"] != 1 {
		t.Errorf("counts = %v, want alpha:2 zeta:1", counts)
	}
	if _, ok := counts[""]; ok {
		t.Error("empty source should be excluded from counts")
	}
}

func TestSQLiteStore_LevelCounts(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	seed := []*models.LogEntry{
		testEntry(models.LevelInfo, "a", "svc", base),
		testEntry(models.LevelInfo, "b", "svc", base),
		testEntry(models.LevelError, "c", "svc", base),
	}
	if err := store.InsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	counts, err := store.LevelCounts(ctx)
	if err != nil {
		t.Fatalf("level counts: %v", err)
	}
	if counts[models.LevelInfo] != 2 {
		t.Errorf("INFO count = %d, want 2", counts[models.LevelInfo])
	}
	if counts[models.LevelError] != 1 {
		t.Errorf("ERROR count = %d, want 1", counts[models.LevelError])
	}
}

func TestSQLiteStore_HourlyVolume(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	h1 := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	h2 := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	seed := []*models.LogEntry{
		testEntry(models.LevelInfo, "a", "svc", h1.Add(5*time.Minute)),
		testEntry(models.LevelError, "b", "svc", h1.Add(15*time.Minute)),
		testEntry(models.LevelFatal, "c", "svc", h1.Add(25*time.Minute)),
		testEntry(models.LevelInfo, "d", "svc", h2.Add(5*time.Minute)),
	}
	if err := store.InsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	buckets, err := store.HourlyVolume(ctx, h1.Add(-time.Hour))
	if err != nil {
		t.Fatalf("hourly volume: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(buckets))
	}

	if buckets[0].Hour != "2026-01-15T10:00:00Z" {
		t.Errorf("bucket hour = %q, want 2026-01-15T10:00:00Z", buckets[0].Hour)
	}
	if buckets[0].Total != 3 {
		t.Errorf("bucket total = %d, want 3", buckets[0].Total)
	}
	if buckets[0].Errors != 2 {
		t.Errorf("bucket errors = %d, want 2", buckets[0].Errors)
	}
	if buckets[1].Hour != "2026-01-15T11:00:00Z" {
		t.Errorf("bucket hour = %q, want 2026-01-15T11:00:00Z", buckets[1].Hour)
	}
	if buckets[1].Errors != 0 {
		t.Errorf("bucket errors = %d, want 0", buckets[1].Errors)
	}
}

func TestSQLiteStore_DeleteBefore(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cutoff := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	seed := []*models.LogEntry{
		testEntry(models.LevelInfo, "old one", "svc", cutoff.Add(-2*time.Hour)),
		testEntry(models.LevelInfo, "old two", "svc", cutoff.Add(-time.Hour)),
		testEntry(models.LevelInfo, "fresh", "svc", cutoff.Add(time.Hour)),
	}
	if err := store.InsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	deleted, err := store.DeleteBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	count, _ := store.Count(ctx)
	if count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
}

func TestSQLiteStore_DeleteAll(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	seed := []*models.LogEntry{
		testEntry(models.LevelInfo, "a", "svc", base),
		testEntry(models.LevelInfo, "b", "svc", base),
	}
	if err := store.InsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	deleted, err := store.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("remaining = %d, want 0", count)
	}
}

func TestSQLiteTimeRoundTrip(t *testing.T) {
	// Stored timestamps compare as strings, so the format must keep
	// lexicographic order aligned with chronological order.
	times := []time.Time{
		time.Date(2026, 1, 15, 12, 0, 45, 0, time.UTC),
		time.Date(2026, 1, 15, 12, 0, 45, 123000000, time.UTC),
		time.Date(2026, 1, 15, 12, 0, 45, 999999999, time.UTC),
		time.Date(2026, 1, 15, 12, 0, 46, 0, time.UTC),
	}

	for i := 1; i < len(times); i++ {
		a := formatSQLiteTime(times[i-1])
		b := formatSQLiteTime(times[i])
		if a >= b {
			t.Errorf("formatted %q should sort before %q", a, b)
		}
	}

	for _, ts := range times {
		if got := parseSQLiteTime(formatSQLiteTime(ts)); !got.Equal(ts) {
			t.Errorf("round trip = %v, want %v", got, ts)
		}
	}

	// Zero time is stored as the empty string.
	if formatSQLiteTime(time.Time{}) != "" {
		t.Error("zero time should format as empty string")
	}
	if zero := parseSQLiteTime(""); !zero.IsZero() {
		t.Errorf("empty string should parse to zero time, got %v", zero)
	}
	// Garbage input falls back to the zero time rather than erroring.
	if got := parseSQLiteTime("not-a-time"); !got.IsZero() {
		t.Errorf("malformed input should parse to zero time, got %v", got)
	}
}
