package research

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/cache"
	"github.com/prep-agent/backend/internal/metrics"
	"github.com/prep-agent/backend/pkg/logger"
	"github.com/prep-agent/backend/pkg/utils"
)

// UpstreamFunc performs one uncached research call and reports its
// estimated cost alongside the payload.
type UpstreamFunc func(ctx context.Context) (json.RawMessage, float64, error)

// CacheAdapter sits between the reflection loop and the upstream
// research providers. Hits bypass the upstream entirely; failures are
// returned to the caller and never written to the cache, so a transient
// outage cannot poison future sessions.
type CacheAdapter struct {
	cache *cache.ExpiringCache
}

func NewCacheAdapter(c *cache.ExpiringCache) *CacheAdapter {
	return &CacheAdapter{cache: c}
}

// Fingerprint builds the canonical cache key for a query. The same
// logical query must hash identically regardless of field casing,
// ordering, or stray whitespace.
func Fingerprint(category string, parts ...string) string {
	return category + ":" + utils.HashString(utils.NormalizeKey(parts...))
}

// CallCached serves the fingerprinted call from cache when possible and
// falls through to upstream otherwise. A nil adapter or nil cache means
// every call goes straight upstream.
func (a *CacheAdapter) CallCached(ctx context.Context, category, fingerprint string, ttl time.Duration, upstream UpstreamFunc) (json.RawMessage, error) {
	if a == nil || a.cache == nil {
		value, _, err := upstream(ctx)
		return value, err
	}

	if value, ok := a.cache.Get(fingerprint); ok {
		metrics.CacheHits.WithLabelValues(category).Inc()
		logger.Info("Research cache hit",
			zap.String("category", category),
			zap.String("fingerprint", fingerprint),
		)
		return value, nil
	}
	metrics.CacheMisses.WithLabelValues(category).Inc()

	value, cost, err := upstream(ctx)
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues(category, "error").Inc()
		return nil, err
	}
	metrics.UpstreamCalls.WithLabelValues(category, "ok").Inc()
	metrics.UpstreamCost.Add(cost)

	a.cache.Put(fingerprint, value, ttl, cost)
	return value, nil
}

// Stats exposes the underlying cache counters for the ops surface.
func (a *CacheAdapter) Stats() cache.Stats {
	if a == nil || a.cache == nil {
		return cache.Stats{}
	}
	stats := a.cache.Stats()
	metrics.CacheSavings.Set(stats.EstimatedSavings)
	return stats
}

// Clear drops cached entries, optionally only those for one category.
func (a *CacheAdapter) Clear(category string) int {
	if a == nil || a.cache == nil {
		return 0
	}
	if category == "" {
		return a.cache.Clear(nil)
	}
	prefix := category + ":"
	return a.cache.Clear(func(key string) bool {
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	})
}
