package health

import (
	"context"
	"fmt"
)

// Pinger is satisfied by the log store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker checks log store connectivity.
type StoreChecker struct {
	pinger  Pinger
	backend string
}

// NewStoreChecker creates a health checker for the system of record.
// backend names the configured store, e.g. "sqlite" or "clickhouse".
func NewStoreChecker(p Pinger, backend string) *StoreChecker {
	return &StoreChecker{pinger: p, backend: backend}
}

// Name returns the checker name.
func (c *StoreChecker) Name() string {
	return "store:" + c.backend
}

// Check verifies the store is accessible.
func (c *StoreChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("store not initialized")
	}
	return c.pinger.Ping(ctx)
}

// HealthReporter is satisfied by the read-side cache.
type HealthReporter interface {
	Healthy(ctx context.Context) bool
}

// CacheChecker checks read-side cache reachability. The cache is best
// effort, but an unhealthy one is still worth surfacing on readiness.
type CacheChecker struct {
	reporter HealthReporter
}

// NewCacheChecker creates a health checker for the cache.
func NewCacheChecker(r HealthReporter) *CacheChecker {
	return &CacheChecker{reporter: r}
}

// Name returns the checker name.
func (c *CacheChecker) Name() string {
	return "cache"
}

// Check verifies the cache is reachable.
func (c *CacheChecker) Check(ctx context.Context) error {
	if c.reporter == nil {
		return fmt.Errorf("cache not configured")
	}
	if !c.reporter.Healthy(ctx) {
		return fmt.Errorf("cache unreachable")
	}
	return nil
}
