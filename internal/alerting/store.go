package alerting

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cinderlog/cinder/internal/models"
)

// Store errors surfaced to operator-facing handlers.
var (
	// ErrAlertNotFound is returned when no alert carries the given ID.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrAlertResolved is returned when an operation is not legal on a
	// resolved alert, such as acknowledging it.
	ErrAlertResolved = errors.New("alert already resolved")
)

const shardCount = 16

// Store holds the alert table in process memory, sharded by rule key so
// concurrent triggers of different rules never contend on one lock.
// Alerts do not survive a restart.
type Store struct {
	shards [shardCount]*storeShard
	now    func() time.Time
}

type storeShard struct {
	mu     sync.Mutex
	alerts map[string]*models.Alert // keyed by rule key
}

// NewStore creates an empty alert store.
func NewStore() *Store {
	s := &Store{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &storeShard{alerts: make(map[string]*models.Alert)}
	}
	return s
}

func (s *Store) shardFor(ruleKey string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(ruleKey))
	return s.shards[h.Sum32()%shardCount]
}

// Trigger records a rule violation. The first violation for a rule key
// opens an alert; repeat violations update last-occurrence, increment
// the occurrence count, and refresh the description with the current
// values. A resolved alert is left untouched and never reopened here.
//
// The returned alert is a detached copy; created reports whether this
// call opened a new alert. Both are zero when the rule key is parked on
// a resolved alert.
func (s *Store) Trigger(ruleKey string, severity models.Severity, category, title, description string) (*models.Alert, bool) {
	shard := s.shardFor(ruleKey)
	now := s.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if existing, ok := shard.alerts[ruleKey]; ok {
		if existing.Status == models.StatusResolved {
			return nil, false
		}
		existing.LastOccurrence = now
		existing.OccurrenceCount++
		existing.Description = description
		return existing.Clone(), false
	}

	alert := &models.Alert{
		ID:              uuid.New().String(),
		RuleKey:         ruleKey,
		Title:           title,
		Description:     description,
		Severity:        severity,
		Category:        category,
		Status:          models.StatusOpen,
		FirstSeen:       now,
		LastOccurrence:  now,
		OccurrenceCount: 1,
	}
	shard.alerts[ruleKey] = alert
	return alert.Clone(), true
}

// Get returns a copy of the alert with the given ID.
func (s *Store) Get(id string) (*models.Alert, error) {
	for _, shard := range s.shards {
		shard.mu.Lock()
		for _, alert := range shard.alerts {
			if alert.ID == id {
				clone := alert.Clone()
				shard.mu.Unlock()
				return clone, nil
			}
		}
		shard.mu.Unlock()
	}
	return nil, ErrAlertNotFound
}

// List returns a snapshot of alerts, optionally filtered by status and
// severity, ordered by last occurrence, newest first. The snapshot may
// be stale by the time the caller reads it.
func (s *Store) List(status models.AlertStatus, severity models.Severity) []*models.Alert {
	var out []*models.Alert
	for _, shard := range s.shards {
		shard.mu.Lock()
		for _, alert := range shard.alerts {
			if status != "" && alert.Status != status {
				continue
			}
			if severity != "" && alert.Severity != severity {
				continue
			}
			out = append(out, alert.Clone())
		}
		shard.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastOccurrence.Equal(out[j].LastOccurrence) {
			return out[i].LastOccurrence.After(out[j].LastOccurrence)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Acknowledge marks an open alert as acknowledged by the given
// operator. Acknowledging twice is an idempotent success that keeps the
// original acknowledger; acknowledging a resolved alert is a conflict.
func (s *Store) Acknowledge(id, by string) (*models.Alert, error) {
	return s.mutate(id, func(alert *models.Alert) error {
		switch alert.Status {
		case models.StatusResolved:
			return ErrAlertResolved
		case models.StatusAcknowledged:
			return nil
		}
		now := s.now()
		alert.Status = models.StatusAcknowledged
		alert.AcknowledgedBy = by
		alert.AcknowledgedAt = &now
		return nil
	})
}

// Resolve marks an alert as resolved with free-text notes. Resolving an
// already-resolved alert is an idempotent success that keeps the
// original resolution.
func (s *Store) Resolve(id, by, notes string) (*models.Alert, error) {
	return s.mutate(id, func(alert *models.Alert) error {
		if alert.Status == models.StatusResolved {
			return nil
		}
		now := s.now()
		alert.Status = models.StatusResolved
		alert.ResolvedBy = by
		alert.ResolvedAt = &now
		alert.ResolutionNotes = notes
		return nil
	})
}

// mutate applies fn to the alert with the given ID under its shard lock.
func (s *Store) mutate(id string, fn func(*models.Alert) error) (*models.Alert, error) {
	for _, shard := range s.shards {
		shard.mu.Lock()
		for _, alert := range shard.alerts {
			if alert.ID != id {
				continue
			}
			if err := fn(alert); err != nil {
				shard.mu.Unlock()
				return nil, err
			}
			clone := alert.Clone()
			shard.mu.Unlock()
			return clone, nil
		}
		shard.mu.Unlock()
	}
	return nil, ErrAlertNotFound
}

// CountByStatus returns how many alerts sit in each status.
func (s *Store) CountByStatus() map[models.AlertStatus]int {
	counts := make(map[models.AlertStatus]int, 3)
	for _, shard := range s.shards {
		shard.mu.Lock()
		for _, alert := range shard.alerts {
			counts[alert.Status]++
		}
		shard.mu.Unlock()
	}
	return counts
}

// Len returns the total number of alerts, resolved ones included.
func (s *Store) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += len(shard.alerts)
		shard.mu.Unlock()
	}
	return n
}

// Clear wipes the alert table. After a clear, previously resolved rule
// keys can open fresh alerts again.
func (s *Store) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.alerts = make(map[string]*models.Alert)
		shard.mu.Unlock()
	}
}
