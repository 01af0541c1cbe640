package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cinderlog/cinder/internal/metrics"
	"github.com/cinderlog/cinder/internal/models"
)

// StatsSource supplies the aggregate counts a sweep evaluates. The log
// store satisfies it; sweeps always read the system of record, never
// the cache.
type StatsSource interface {
	Count(ctx context.Context) (int64, error)
	CountByLevel(ctx context.Context, level models.Level) (int64, error)
	CountSinceByLevel(ctx context.Context, since time.Time, level models.Level) (int64, error)
	DistinctSources(ctx context.Context) ([]string, error)
}

// Notifier receives newly opened alerts. Implementations must not block
// the caller for long; the evaluator runs inside the ingestion path's
// bounded side-call window.
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert)
}

// Evaluator runs the rule table against store statistics and individual
// entries, recording violations in the alert store.
type Evaluator struct {
	stats    StatsSource
	store    *Store
	notifier Notifier
	now      func() time.Time
}

// NewEvaluator creates an evaluator. The notifier may be nil.
func NewEvaluator(stats StatsSource, store *Store, notifier Notifier) *Evaluator {
	return &Evaluator{
		stats:    stats,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Sweep runs every sweep rule against one snapshot of the aggregate
// statistics. Each violated rule records exactly one occurrence, so a
// sweep over unchanged counts is idempotent apart from that single
// increment per violated rule.
func (e *Evaluator) Sweep(ctx context.Context) error {
	stats, err := e.gather(ctx)
	if err != nil {
		return fmt.Errorf("gather stats: %w", err)
	}

	metrics.SweepsTotal.Inc()

	for _, rule := range sweepRules {
		if !rule.Triggered(stats) {
			continue
		}
		alert, created := e.store.Trigger(rule.Key, rule.Severity, systemCategory, rule.Title, rule.Describe(stats))
		metrics.AlertsTriggeredTotal.WithLabelValues(rule.Key).Inc()
		if created {
			e.notify(ctx, alert)
		}
	}
	return nil
}

// CheckEntry matches one ERROR entry against the critical patterns. An
// entry matching several patterns records a violation for each.
func (e *Evaluator) CheckEntry(ctx context.Context, entry *models.LogEntry) {
	if entry == nil || entry.Level != models.LevelError {
		return
	}

	message := strings.ToLower(entry.Message)
	for _, pattern := range entryPatterns {
		if !pattern.Matches(message) {
			continue
		}
		category := entry.Category
		if category == "" {
			category = systemCategory
		}
		alert, created := e.store.Trigger(pattern.Key, models.SeverityCritical, category, pattern.Title, describeEntryMatch(entry))
		metrics.AlertsTriggeredTotal.WithLabelValues(pattern.Key).Inc()
		if created {
			e.notify(ctx, alert)
		}
	}
}

func (e *Evaluator) gather(ctx context.Context) (Stats, error) {
	var s Stats
	var err error

	if s.Total, err = e.stats.Count(ctx); err != nil {
		return s, err
	}
	if s.Errors, err = e.stats.CountByLevel(ctx, models.LevelError); err != nil {
		return s, err
	}
	if s.Warnings, err = e.stats.CountByLevel(ctx, models.LevelWarn); err != nil {
		return s, err
	}
	since := e.now().Add(-SpikeWindow)
	if s.RecentErrors, err = e.stats.CountSinceByLevel(ctx, since, models.LevelError); err != nil {
		return s, err
	}

	sources, err := e.stats.DistinctSources(ctx)
	if err != nil {
		return s, err
	}
	s.Sources = len(sources)

	return s, nil
}

func (e *Evaluator) notify(ctx context.Context, alert *models.Alert) {
	if e.notifier == nil || alert == nil {
		return
	}
	e.notifier.Notify(ctx, alert)
}
