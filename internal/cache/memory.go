package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cinderlog/cinder/internal/metrics"
	"github.com/cinderlog/cinder/internal/models"
)

// MemoryCache implements Cache in process memory. It is the default
// backend for single-node deployments and tests.
type MemoryCache struct {
	mu        sync.RWMutex
	maxRecent int
	ttl       time.Duration
	now       func() time.Time

	byID    map[string]memoryItem
	recent  []*models.LogEntry
	errors  []*models.LogEntry
	sources map[string]int64
	hours   map[string]int64
}

type memoryItem struct {
	entry    *models.LogEntry
	cachedAt time.Time
}

// NewMemoryCache creates an in-process cache.
func NewMemoryCache(maxRecent int, ttl time.Duration) *MemoryCache {
	if maxRecent <= 0 {
		maxRecent = defaultMaxRecent
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryCache{
		maxRecent: maxRecent,
		ttl:       ttl,
		now:       time.Now,
		byID:      make(map[string]memoryItem),
		sources:   make(map[string]int64),
		hours:     make(map[string]int64),
	}
}

// Put records the entry. The stored copy is detached from the caller's
// pointer so later mutations don't leak into the cache.
func (c *MemoryCache) Put(ctx context.Context, entry *models.LogEntry) error {
	stored := *entry

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if stored.ID != "" {
		c.byID[stored.ID] = memoryItem{entry: &stored, cachedAt: now}
	}

	c.recent = prepend(c.recent, &stored, c.maxRecent)
	if stored.IsError() {
		c.errors = prepend(c.errors, &stored, c.maxRecent)
	}

	if stored.Source != "" {
		c.sources[stored.Source]++
	}
	c.hours[hourKey(stored.Timestamp)]++

	// Opportunistic expiry keeps the by-ID index from growing without
	// bound between reads.
	if len(c.byID) > 4*c.maxRecent {
		for id, item := range c.byID {
			if now.Sub(item.cachedAt) > c.ttl {
				delete(c.byID, id)
			}
		}
	}

	return nil
}

func prepend(list []*models.LogEntry, entry *models.LogEntry, max int) []*models.LogEntry {
	list = append(list, nil)
	copy(list[1:], list)
	list[0] = entry
	if len(list) > max {
		list = list[:max]
	}
	return list
}

// GetByID returns the cached entry, or nil, nil on a miss or after expiry.
func (c *MemoryCache) GetByID(ctx context.Context, id string) (*models.LogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.byID[id]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, nil
	}
	if c.now().Sub(item.cachedAt) > c.ttl {
		delete(c.byID, id)
		metrics.CacheMissesTotal.Inc()
		return nil, nil
	}

	metrics.CacheHitsTotal.Inc()
	out := *item.entry
	return &out, nil
}

// Recent returns up to limit entries, newest first.
func (c *MemoryCache) Recent(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyWindow(c.recent, limit, c.maxRecent), nil
}

// RecentErrors returns up to limit error entries, newest first.
func (c *MemoryCache) RecentErrors(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyWindow(c.errors, limit, c.maxRecent), nil
}

func copyWindow(list []*models.LogEntry, limit, max int) []*models.LogEntry {
	if limit <= 0 || limit > max {
		limit = max
	}
	if limit > len(list) {
		limit = len(list)
	}
	out := make([]*models.LogEntry, limit)
	for i := 0; i < limit; i++ {
		entry := *list[i]
		out[i] = &entry
	}
	return out
}

// CountsBySource returns a copy of the per-source counters.
func (c *MemoryCache) CountsBySource(ctx context.Context) (map[string]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyCounts(c.sources), nil
}

// HourlyCounts returns a copy of the per-hour counters.
func (c *MemoryCache) HourlyCounts(ctx context.Context) (map[string]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyCounts(c.hours), nil
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Healthy always reports true for the in-process backend.
func (c *MemoryCache) Healthy(ctx context.Context) bool {
	return true
}

// Clear drops all cached state.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID = make(map[string]memoryItem)
	c.recent = nil
	c.errors = nil
	c.sources = make(map[string]int64)
	c.hours = make(map[string]int64)
	return nil
}

// Close is a no-op for the in-process backend.
func (c *MemoryCache) Close() error {
	return nil
}
