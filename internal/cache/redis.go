package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cinderlog/cinder/internal/metrics"
	"github.com/cinderlog/cinder/internal/models"
)

// Redis key layout. Everything lives under one prefix so Clear can wipe
// cinder state without touching other tenants of the instance.
const (
	keyPrefix       = "cinder:"
	keyRecent       = keyPrefix + "recent"
	keyRecentErrors = keyPrefix + "recent:errors"
	keySourceCounts = keyPrefix + "counts:source"
	keyHourCounts   = keyPrefix + "counts:hour"
	keyLogPrefix    = keyPrefix + "log:"
)

// RedisCache implements Cache on a Redis instance.
type RedisCache struct {
	client    *redis.Client
	maxRecent int
	ttl       time.Duration
}

// NewRedisCache connects to Redis using a connection URL.
func NewRedisCache(url string, maxRecent int, ttl time.Duration) (*RedisCache, error) {
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if maxRecent <= 0 {
		maxRecent = defaultMaxRecent
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RedisCache{
		client:    redis.NewClient(opts),
		maxRecent: maxRecent,
		ttl:       ttl,
	}, nil
}

// Put records the entry in a single pipeline round trip.
func (c *RedisCache) Put(ctx context.Context, entry *models.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	pipe := c.client.Pipeline()

	if entry.ID != "" {
		pipe.Set(ctx, keyLogPrefix+entry.ID, payload, c.ttl)
	}

	pipe.LPush(ctx, keyRecent, payload)
	pipe.LTrim(ctx, keyRecent, 0, int64(c.maxRecent-1))
	pipe.Expire(ctx, keyRecent, c.ttl)

	if entry.IsError() {
		pipe.LPush(ctx, keyRecentErrors, payload)
		pipe.LTrim(ctx, keyRecentErrors, 0, int64(c.maxRecent-1))
		pipe.Expire(ctx, keyRecentErrors, c.ttl)
	}

	if entry.Source != "" {
		pipe.HIncrBy(ctx, keySourceCounts, entry.Source, 1)
		pipe.Expire(ctx, keySourceCounts, c.ttl)
	}

	pipe.HIncrBy(ctx, keyHourCounts, hourKey(entry.Timestamp), 1)
	pipe.Expire(ctx, keyHourCounts, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// GetByID returns the cached entry, or nil, nil on a miss.
func (c *RedisCache) GetByID(ctx context.Context, id string) (*models.LogEntry, error) {
	payload, err := c.client.Get(ctx, keyLogPrefix+id).Bytes()
	if err == redis.Nil {
		metrics.CacheMissesTotal.Inc()
		return nil, nil
	}
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var entry models.LogEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	metrics.CacheHitsTotal.Inc()
	return &entry, nil
}

// Recent returns up to limit entries, newest first.
func (c *RedisCache) Recent(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	return c.readList(ctx, keyRecent, limit)
}

// RecentErrors returns up to limit error entries, newest first.
func (c *RedisCache) RecentErrors(ctx context.Context, limit int) ([]*models.LogEntry, error) {
	return c.readList(ctx, keyRecentErrors, limit)
}

func (c *RedisCache) readList(ctx context.Context, key string, limit int) ([]*models.LogEntry, error) {
	if limit <= 0 || limit > c.maxRecent {
		limit = c.maxRecent
	}

	payloads, err := c.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("cache range: %w", err)
	}

	entries := make([]*models.LogEntry, 0, len(payloads))
	for _, p := range payloads {
		var entry models.LogEntry
		if err := json.Unmarshal([]byte(p), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// CountsBySource returns the per-source counter hash.
func (c *RedisCache) CountsBySource(ctx context.Context) (map[string]int64, error) {
	return c.readCounts(ctx, keySourceCounts)
}

// HourlyCounts returns the per-hour counter hash.
func (c *RedisCache) HourlyCounts(ctx context.Context) (map[string]int64, error) {
	return c.readCounts(ctx, keyHourCounts)
}

func (c *RedisCache) readCounts(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("counts").Inc()
		return nil, fmt.Errorf("cache counts: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		counts[field] = n
	}
	return counts, nil
}

// Healthy pings the Redis instance.
func (c *RedisCache) Healthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

// Clear removes every cinder key.
func (c *RedisCache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, keyRecent, keyRecentErrors, keySourceCounts, keyHourCounts).Err(); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}

	iter := c.client.Scan(ctx, 0, keyLogPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache clear scan: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	return nil
}

// Close releases the client connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
