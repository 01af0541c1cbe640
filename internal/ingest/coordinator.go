// Package ingest turns raw lines and structured payloads into stored,
// enriched, cached, alert-evaluated log entries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cinderlog/cinder/internal/alerting"
	"github.com/cinderlog/cinder/internal/cache"
	"github.com/cinderlog/cinder/internal/enrich"
	"github.com/cinderlog/cinder/internal/metrics"
	"github.com/cinderlog/cinder/internal/models"
	"github.com/cinderlog/cinder/internal/storage"
)

// Validation errors returned at the ingestion boundary.
var (
	// ErrNilEntry is returned when a structured ingest carries no entry.
	ErrNilEntry = errors.New("log entry is required")

	// ErrMissingLevel is returned when a structured entry has no level.
	// Levels are never guessed on the ingest path.
	ErrMissingLevel = errors.New("log entry level is required")

	// ErrEmptyLine is returned when a single raw ingest is blank.
	ErrEmptyLine = errors.New("raw log line is empty")

	// ErrBatchTooLarge is returned when a batch exceeds the line limit.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

const (
	defaultSideCallTimeout = 2 * time.Second
	defaultMaxBatchLines   = 5000
)

// Publisher hands entries to a downstream pipeline. Enqueue must never
// block; it reports false when the entry was dropped.
type Publisher interface {
	Enqueue(entry *models.LogEntry) bool
}

// Options carries the optional collaborators and tuning knobs for a
// Coordinator. The zero value disables every best-effort side path.
type Options struct {
	// Cache receives every persisted entry, best effort.
	Cache cache.Cache

	// Evaluator checks entries and sweeps rules after persistence.
	Evaluator *alerting.Evaluator

	// Publisher receives every persisted entry, best effort.
	Publisher Publisher

	// SideCallTimeout bounds each batch of best-effort side calls.
	// Defaults to 2s.
	SideCallTimeout time.Duration

	// MaxBatchLines caps IngestBatch input. Defaults to 5000.
	MaxBatchLines int
}

// Coordinator is the single entry point of the ingestion pipeline.
//
// Persistence is the only hard dependency: a store failure fails the
// call. Cache writes, publishing, and alert evaluation are bounded
// best-effort side calls that are absorbed, logged, and counted.
type Coordinator struct {
	store    storage.LogStore
	enricher *enrich.Enricher

	cache     cache.Cache
	evaluator *alerting.Evaluator
	publisher Publisher

	sideTimeout time.Duration
	maxBatch    int
	now         func() time.Time
}

// New creates a Coordinator. opts may be nil.
func New(store storage.LogStore, enricher *enrich.Enricher, opts *Options) *Coordinator {
	if opts == nil {
		opts = &Options{}
	}
	c := &Coordinator{
		store:       store,
		enricher:    enricher,
		cache:       opts.Cache,
		evaluator:   opts.Evaluator,
		publisher:   opts.Publisher,
		sideTimeout: opts.SideCallTimeout,
		maxBatch:    opts.MaxBatchLines,
		now:         time.Now,
	}
	if c.sideTimeout <= 0 {
		c.sideTimeout = defaultSideCallTimeout
	}
	if c.maxBatch <= 0 {
		c.maxBatch = defaultMaxBatchLines
	}
	return c
}

// Ingest stores one raw log line. The parse is deliberately trivial:
// the whole line becomes the message, the level stays unknown, and the
// timestamp is the ingestion time.
func (c *Coordinator) Ingest(ctx context.Context, rawText, source string) (*models.LogEntry, error) {
	return c.ingestRaw(ctx, rawText, source, "raw")
}

// IngestTail stores one line read from a followed file. It behaves
// exactly like Ingest apart from the arrival-mode accounting.
func (c *Coordinator) IngestTail(ctx context.Context, rawText, source string) (*models.LogEntry, error) {
	return c.ingestRaw(ctx, rawText, source, "tail")
}

func (c *Coordinator) ingestRaw(ctx context.Context, rawText, source, mode string) (*models.LogEntry, error) {
	if strings.TrimSpace(rawText) == "" {
		metrics.IngestRejectedTotal.Inc()
		return nil, ErrEmptyLine
	}

	entry := c.rawEntry(rawText, source)
	c.enricher.EnrichAt(entry, c.now())

	if err := c.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist entry: %w", err)
	}
	metrics.IngestEntriesTotal.WithLabelValues(mode).Inc()

	c.sideEffects(entry)
	c.sweep()

	return entry, nil
}

// IngestEntry stores one structured entry. The level must be present;
// unrecognized level strings are kept as UNKNOWN rather than guessed.
func (c *Coordinator) IngestEntry(ctx context.Context, entry *models.LogEntry) (*models.LogEntry, error) {
	if entry == nil {
		return nil, ErrNilEntry
	}
	if strings.TrimSpace(string(entry.Level)) == "" {
		metrics.IngestRejectedTotal.Inc()
		return nil, ErrMissingLevel
	}

	if level, ok := models.ParseLevel(string(entry.Level)); ok {
		entry.Level = level
	} else {
		entry.Level = models.LevelUnknown
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now()
	}
	entry.Parsed = true

	c.enricher.EnrichAt(entry, c.now())

	if err := c.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist entry: %w", err)
	}
	metrics.IngestEntriesTotal.WithLabelValues("entry").Inc()

	c.sideEffects(entry)
	c.sweep()

	return entry, nil
}

// IngestBatch stores many raw lines in one persistence round trip.
// Blank lines are skipped and counted, never failing the batch. The
// rule sweep runs once for the whole batch.
func (c *Coordinator) IngestBatch(ctx context.Context, lines []string, source string) ([]*models.LogEntry, int, error) {
	if len(lines) > c.maxBatch {
		return nil, 0, fmt.Errorf("%w: %d lines over limit %d", ErrBatchTooLarge, len(lines), c.maxBatch)
	}

	var entries []*models.LogEntry
	skipped := 0
	enrichedAt := c.now()
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			skipped++
			metrics.IngestSkippedLinesTotal.Inc()
			continue
		}
		entry := c.rawEntry(line, source)
		c.enricher.EnrichAt(entry, enrichedAt)
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, skipped, nil
	}

	if err := c.store.InsertBatch(ctx, entries); err != nil {
		return nil, skipped, fmt.Errorf("persist batch: %w", err)
	}

	for _, entry := range entries {
		metrics.IngestEntriesTotal.WithLabelValues("batch").Inc()
		c.sideEffects(entry)
	}
	c.sweep()

	return entries, skipped, nil
}

func (c *Coordinator) rawEntry(rawText, source string) *models.LogEntry {
	entry := models.NewLogEntry()
	entry.Message = rawText
	entry.Source = source
	entry.Timestamp = c.now()
	entry.Raw = rawText
	return entry
}

// sideEffects runs the per-entry best-effort side calls under a short
// timeout detached from the caller's context. Failures never propagate.
func (c *Coordinator) sideEffects(entry *models.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), c.sideTimeout)
	defer cancel()

	if c.cache != nil {
		if err := c.cache.Put(ctx, entry); err != nil {
			metrics.IngestSideErrors.WithLabelValues("cache").Inc()
			log.Printf("cache put failed for entry %s: %v", entry.ID, err)
		}
	}

	if c.publisher != nil {
		if !c.publisher.Enqueue(entry) {
			metrics.IngestSideErrors.WithLabelValues("publish").Inc()
		}
	}

	if c.evaluator != nil {
		c.evaluator.CheckEntry(ctx, entry)
	}
}

// sweep runs one full rule sweep, best effort.
func (c *Coordinator) sweep() {
	if c.evaluator == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.sideTimeout)
	defer cancel()

	if err := c.evaluator.Sweep(ctx); err != nil {
		metrics.IngestSideErrors.WithLabelValues("alerting").Inc()
		log.Printf("alert sweep failed: %v", err)
	}
}
