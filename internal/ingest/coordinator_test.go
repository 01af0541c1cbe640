package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cinderlog/cinder/internal/alerting"
	"github.com/cinderlog/cinder/internal/cache"
	"github.com/cinderlog/cinder/internal/enrich"
	"github.com/cinderlog/cinder/internal/models"
	"github.com/cinderlog/cinder/internal/storage"
)

func setupStore(t *testing.T) (*storage.SQLiteStore, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "cinder-ingest-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store := storage.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	return store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

// flakyStore wraps a real store and fails writes on demand.
type flakyStore struct {
	storage.LogStore
	failWrites bool
}

func (f *flakyStore) Insert(ctx context.Context, entry *models.LogEntry) error {
	if f.failWrites {
		return errors.New("store down")
	}
	return f.LogStore.Insert(ctx, entry)
}

func (f *flakyStore) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if f.failWrites {
		return errors.New("store down")
	}
	return f.LogStore.InsertBatch(ctx, entries)
}

// brokenCache fails every operation.
type brokenCache struct{}

func (brokenCache) Put(ctx context.Context, entry *models.LogEntry) error {
	return errors.New("cache down")
}
func (brokenCache) GetByID(ctx context.Context, id string) (*models.LogEntry, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) Recent(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) RecentErrors(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) CountsBySource(ctx context.Context) (map[string]int64, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) HourlyCounts(ctx context.Context) (map[string]int64, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) Healthy(ctx context.Context) bool { return false }
func (brokenCache) Clear(ctx context.Context) error  { return errors.New("cache down") }
func (brokenCache) Close() error                     { return nil }

type capturingPublisher struct {
	entries []*models.LogEntry
	full    bool
}

func (p *capturingPublisher) Enqueue(entry *models.LogEntry) bool {
	if p.full {
		return false
	}
	p.entries = append(p.entries, entry)
	return true
}

func TestCoordinator_Ingest_Raw(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	mem := cache.NewMemoryCache(100, time.Hour)
	c := New(store, enrich.New(), &Options{Cache: mem})

	entry, err := c.Ingest(ctx, "Database connection failed", "api-gateway")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if entry.ID == "" {
		t.Error("entry should have an assigned ID")
	}
	// Raw lines carry no level; the enricher scores them conservatively.
	if entry.Level != models.LevelUnknown {
		t.Errorf("level = %v, want UNKNOWN", entry.Level)
	}
	if entry.Severity != 45 {
		t.Errorf("severity = %d, want 20 base + 10 failed + 15 connection", entry.Severity)
	}
	if entry.Category != "database" {
		t.Errorf("category = %v, want database", entry.Category)
	}
	if entry.Application != "unknown" || entry.Environment != "production" {
		t.Errorf("application/environment = %v/%v, want defaults", entry.Application, entry.Environment)
	}
	if entry.Parsed {
		t.Error("raw entries should not be marked as parsed")
	}
	if entry.Raw != "Database connection failed" {
		t.Errorf("raw = %q, want the original line", entry.Raw)
	}

	// Persisted in the system of record.
	stored, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get stored entry: %v", err)
	}
	if stored == nil {
		t.Fatal("entry should be persisted")
	}

	// Cached best effort.
	cached, err := mem.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get cached entry: %v", err)
	}
	if cached == nil {
		t.Error("entry should be cached")
	}
}

func TestCoordinator_Ingest_EmptyLine(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	c := New(store, enrich.New(), nil)
	if _, err := c.Ingest(context.Background(), "   ", "api"); !errors.Is(err, ErrEmptyLine) {
		t.Errorf("err = %v, want ErrEmptyLine", err)
	}
}

func TestCoordinator_IngestEntry(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	c := New(store, enrich.New(), nil)

	entry := models.NewLogEntry()
	entry.Level = models.Level("warning")
	entry.Message = "disk usage at 85 percent"
	entry.Source = "node-exporter"

	got, err := c.IngestEntry(ctx, entry)
	if err != nil {
		t.Fatalf("ingest entry: %v", err)
	}

	// WARNING normalizes onto the closed level set.
	if got.Level != models.LevelWarn {
		t.Errorf("level = %v, want WARN", got.Level)
	}
	if got.Severity != 50 {
		t.Errorf("severity = %d, want 50", got.Severity)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should default to ingestion time")
	}
	if !got.Parsed {
		t.Error("structured entries should be marked as parsed")
	}
}

func TestCoordinator_IngestEntry_Validation(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	c := New(store, enrich.New(), nil)

	if _, err := c.IngestEntry(ctx, nil); !errors.Is(err, ErrNilEntry) {
		t.Errorf("nil entry: err = %v, want ErrNilEntry", err)
	}

	entry := models.NewLogEntry()
	entry.Level = ""
	entry.Message = "no level here"
	if _, err := c.IngestEntry(ctx, entry); !errors.Is(err, ErrMissingLevel) {
		t.Errorf("missing level: err = %v, want ErrMissingLevel", err)
	}

	// Nothing reached the store.
	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("store count = %d, want 0 after rejected entries", count)
	}
}

func TestCoordinator_IngestEntry_UnrecognizedLevel(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	c := New(store, enrich.New(), nil)

	entry := models.NewLogEntry()
	entry.Level = models.Level("NOTICE")
	entry.Message = "something configurable happened"

	got, err := c.IngestEntry(context.Background(), entry)
	if err != nil {
		t.Fatalf("ingest entry: %v", err)
	}
	if got.Level != models.LevelUnknown {
		t.Errorf("level = %v, want UNKNOWN for unrecognized input", got.Level)
	}
	if got.Severity != 20 {
		t.Errorf("severity = %d, want the unrecognized base 20", got.Severity)
	}
}

func TestCoordinator_IngestBatch(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	publisher := &capturingPublisher{}
	c := New(store, enrich.New(), &Options{Publisher: publisher})

	lines := []string{
		"service started",
		"",
		"request handled in 12ms",
		"   ",
		"cache warmed",
		"worker pool resized",
		"config reloaded",
		"heartbeat ok",
		"session opened",
		"session closed",
	}

	entries, skipped, err := c.IngestBatch(ctx, lines, "app-server")
	if err != nil {
		t.Fatalf("ingest batch: %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("entries = %d, want 8", len(entries))
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}

	count, _ := store.Count(ctx)
	if count != 8 {
		t.Errorf("store count = %d, want 8", count)
	}
	if len(publisher.entries) != 8 {
		t.Errorf("published = %d, want 8", len(publisher.entries))
	}

	for _, entry := range entries {
		if entry.Source != "app-server" {
			t.Errorf("source = %q, want app-server", entry.Source)
		}
		if entry.ID == "" {
			t.Error("batch entries should have assigned IDs")
		}
	}
}

func TestCoordinator_IngestBatch_AllBlank(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	c := New(store, enrich.New(), nil)
	entries, skipped, err := c.IngestBatch(context.Background(), []string{"", "  ", "\t"}, "app")
	if err != nil {
		t.Fatalf("ingest batch: %v", err)
	}
	if len(entries) != 0 || skipped != 3 {
		t.Errorf("entries = %d skipped = %d, want 0 and 3", len(entries), skipped)
	}
}

func TestCoordinator_IngestBatch_TooLarge(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	c := New(store, enrich.New(), &Options{MaxBatchLines: 3})
	lines := []string{"a", "b", "c", "d"}

	if _, _, err := c.IngestBatch(context.Background(), lines, "app"); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("err = %v, want ErrBatchTooLarge", err)
	}
}

func TestCoordinator_StoreFailureSurfaces(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	flaky := &flakyStore{LogStore: store, failWrites: true}
	mem := cache.NewMemoryCache(100, time.Hour)
	c := New(flaky, enrich.New(), &Options{Cache: mem})

	if _, err := c.Ingest(ctx, "some line", "api"); err == nil {
		t.Fatal("store failure must fail the ingest call")
	}
	if _, _, err := c.IngestBatch(ctx, []string{"a", "b"}, "api"); err == nil {
		t.Fatal("store failure must fail the batch")
	}

	// Nothing leaked into the best-effort paths.
	recent, _ := mem.Recent(ctx, 10)
	if len(recent) != 0 {
		t.Errorf("cached entries = %d, want 0 when persistence failed", len(recent))
	}
}

func TestCoordinator_CacheFailureAbsorbed(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	c := New(store, enrich.New(), &Options{Cache: brokenCache{}})

	entry, err := c.Ingest(ctx, "a line the cache will never see", "api")
	if err != nil {
		t.Fatalf("ingest should absorb cache failures, got %v", err)
	}

	stored, _ := store.GetByID(ctx, entry.ID)
	if stored == nil {
		t.Error("entry should be persisted even when the cache is down")
	}
}

func TestCoordinator_AlertPipeline(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	alerts := alerting.NewStore()
	evaluator := alerting.NewEvaluator(store, alerts, nil)
	c := New(store, enrich.New(), &Options{Evaluator: evaluator})

	// 94 INFO entries, then 6 ERROR entries: a 6.0% error rate.
	for i := 0; i < 94; i++ {
		entry := models.NewLogEntry()
		entry.Level = models.LevelInfo
		entry.Message = fmt.Sprintf("request %d handled", i)
		entry.Source = "api"
		if _, err := c.IngestEntry(ctx, entry); err != nil {
			t.Fatalf("ingest info %d: %v", i, err)
		}
	}
	for i := 0; i < 6; i++ {
		entry := models.NewLogEntry()
		entry.Level = models.LevelError
		entry.Message = fmt.Sprintf("payment validation rejected order %d", i)
		entry.Source = "api"
		if _, err := c.IngestEntry(ctx, entry); err != nil {
			t.Fatalf("ingest error %d: %v", i, err)
		}
	}

	var errorRate *models.Alert
	for _, alert := range alerts.List("", "") {
		if alert.RuleKey == alerting.RuleHighErrorRate {
			errorRate = alert
		}
	}
	if errorRate == nil {
		t.Fatal("HIGH_ERROR_RATE alert should be open")
	}
	if errorRate.Status != models.StatusOpen {
		t.Errorf("status = %v, want OPEN", errorRate.Status)
	}
	if !strings.Contains(errorRate.Description, "6.0%") {
		t.Errorf("description = %q, want the final 6.0%% rate", errorRate.Description)
	}
}

func TestCoordinator_AlertPipeline_NoErrors(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	alerts := alerting.NewStore()
	evaluator := alerting.NewEvaluator(store, alerts, nil)
	c := New(store, enrich.New(), &Options{Evaluator: evaluator})

	for i := 0; i < 100; i++ {
		entry := models.NewLogEntry()
		entry.Level = models.LevelInfo
		entry.Message = fmt.Sprintf("request %d handled", i)
		entry.Source = "api"
		if _, err := c.IngestEntry(ctx, entry); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	for _, alert := range alerts.List("", "") {
		if alert.RuleKey == alerting.RuleHighErrorRate {
			t.Fatal("HIGH_ERROR_RATE must not open without errors")
		}
	}
}

func TestCoordinator_CriticalPatternThroughPipeline(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	alerts := alerting.NewStore()
	evaluator := alerting.NewEvaluator(store, alerts, nil)
	c := New(store, enrich.New(), &Options{Evaluator: evaluator})

	entry := models.NewLogEntry()
	entry.Level = models.LevelError
	entry.Message = "database connection refused by primary"
	entry.Source = "api"
	if _, err := c.IngestEntry(ctx, entry); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	found := false
	for _, alert := range alerts.List("", "") {
		if alert.RuleKey == alerting.RuleDatabaseConnectionFailure {
			found = true
			if alert.Severity != models.SeverityCritical {
				t.Errorf("severity = %v, want critical", alert.Severity)
			}
		}
	}
	if !found {
		t.Error("DATABASE_CONNECTION_FAILURE alert should be open")
	}
}

func TestCoordinator_PublisherDropsAreAbsorbed(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	publisher := &capturingPublisher{full: true}
	c := New(store, enrich.New(), &Options{Publisher: publisher})

	if _, err := c.Ingest(context.Background(), "a line", "api"); err != nil {
		t.Fatalf("ingest should absorb publisher drops, got %v", err)
	}
}
