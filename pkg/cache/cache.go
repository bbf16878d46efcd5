// Package cache implements the read-through caching used by the
// permission and entitlement resolvers: get from Redis, fall back to a
// loader on miss or cache outage, and write the loaded value back with
// a TTL. Values are stored as JSON. Absent results are never cached.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/storage"
	"github.com/colabrix/colabrix/pkg/storage/postgres"
)

// Cache is a named read-through cache over Redis. The name appears in
// the cache label of the hit/miss/fallback metrics.
type Cache struct {
	name    string
	redis   *postgres.RedisClient
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a named cache. metrics may be nil.
func New(name string, redis *postgres.RedisClient, logger *observability.Logger, metrics *observability.Metrics) *Cache {
	return &Cache{
		name:    name,
		redis:   redis,
		logger:  logger,
		metrics: metrics,
	}
}

// GetOrLoad returns the cached value for key, or runs loader and
// caches its result for ttl.
//
// The loader returns (value, found, error). found=false means the
// entity does not exist; that outcome is returned to the caller but
// never written to the cache, so a later create is visible
// immediately.
//
// When Redis is unavailable the loader still runs and its result is
// returned, so resolvers degrade to direct reads instead of failing.
// Cache writes are best effort and never fail the call.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, bool, error)) (T, bool, error) {
	var zero T

	data, err := c.redis.Get(ctx, key)
	switch {
	case err != nil:
		if !storage.IsCacheUnavailable(err) {
			return zero, false, err
		}
		c.fallback(ctx, key, err)
		return loader(ctx)

	case data != nil:
		var value T
		if jsonErr := json.Unmarshal(data, &value); jsonErr == nil {
			c.hit(key)
			return value, true, nil
		}
		// Corrupt entry, treat as miss and overwrite below.
		c.logger.WithField("key", key).Warn("discarding undecodable cache entry")
	}

	c.miss(key)

	value, found, err := loader(ctx)
	if err != nil || !found {
		return zero, found, err
	}

	if data, err := json.Marshal(value); err == nil {
		if setErr := c.redis.Set(ctx, key, data, ttl); setErr != nil {
			c.logger.WithError(setErr).WithField("key", key).Warn("cache write failed")
		}
	}

	return value, true, nil
}

// Invalidate removes the given keys. Missing keys are not an error.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if err := c.redis.Del(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate %s cache: %w", c.name, err)
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidationsTotal.WithLabelValues(c.name).Add(float64(len(keys)))
	}
	return nil
}

// InvalidatePattern removes every key matching a Redis glob pattern.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	n, err := c.redis.DeleteByPattern(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("invalidate %s cache by pattern: %w", c.name, err)
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidationsTotal.WithLabelValues(c.name).Add(float64(n))
	}
	return n, nil
}

func (c *Cache) hit(key string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	}
}

func (c *Cache) miss(key string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
	}
}

func (c *Cache) fallback(ctx context.Context, key string, err error) {
	if c.metrics != nil {
		c.metrics.CacheFallbacksTotal.WithLabelValues(c.name).Inc()
	}
	c.logger.WithError(err).WithField("key", key).Warn("cache unavailable, loading from store")
}
