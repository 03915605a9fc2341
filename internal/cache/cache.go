package cache

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prep-agent/backend/pkg/logger"
)

// Entry is a single cached upstream response. An entry is valid iff
// now < created_at + ttl; expired entries are treated as absent and
// lazily evicted.
type Entry struct {
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	CreatedAt    time.Time       `json:"created_at"`
	TTLSeconds   int64           `json:"ttl_seconds"`
	CostEstimate float64         `json:"cost_estimate"`
}

func (e Entry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= time.Duration(e.TTLSeconds)*time.Second
}

// Store persists entries one record per key, so individual corruption
// cannot cascade. A corrupted or unreadable record reads as absent.
type Store interface {
	Write(e Entry) error
	Read(key string) (Entry, bool, error)
	Delete(key string) error
	LoadAll() ([]Entry, error)
}

type Stats struct {
	Count            int     `json:"count"`
	SizeBytes        int64   `json:"size_bytes"`
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	EstimatedSavings float64 `json:"estimated_savings"`
}

// ExpiringCache is a TTL key/value cache with hit/miss/cost accounting
// backed by an optional persistence store. The cache is never a single
// point of failure: a nil or failing store degrades to memory-only.
type ExpiringCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	store   Store

	hits    uint64
	misses  uint64
	savings float64

	now func() time.Time
}

// New builds a cache over the given store, loading surviving entries.
// A nil store yields a purely in-memory cache.
func New(store Store) *ExpiringCache {
	c := &ExpiringCache{
		entries: make(map[string]Entry),
		store:   store,
		now:     time.Now,
	}

	if store != nil {
		entries, err := store.LoadAll()
		if err != nil {
			logger.Warn("Cache store unavailable, running in-memory only", zap.Error(err))
			return c
		}
		for _, e := range entries {
			if !e.expired(c.now()) {
				c.entries[e.Key] = e
			}
		}
		logger.Info("Cache loaded", zap.Int("entries", len(c.entries)))
	}

	return c
}

// Get returns the stored value if present and unexpired. A hit
// accumulates the entry's cost estimate into the savings counter;
// expiry counts as a miss and evicts lazily.
func (c *ExpiringCache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if e.expired(c.now()) {
		delete(c.entries, key)
		if c.store != nil {
			if err := c.store.Delete(key); err != nil {
				logger.Warn("Failed to evict expired entry", zap.String("key", key), zap.Error(err))
			}
		}
		c.misses++
		return nil, false
	}

	c.hits++
	c.savings += e.CostEstimate
	return e.Value, true
}

// Put stores or overwrites an entry. It always succeeds from the
// caller's perspective; a store write failure degrades that entry to
// memory-only with a logged warning.
func (c *ExpiringCache) Put(key string, value json.RawMessage, ttl time.Duration, costEstimate float64) {
	e := Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    c.now(),
		TTLSeconds:   int64(ttl / time.Second),
		CostEstimate: costEstimate,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = e
	if c.store != nil {
		if err := c.store.Write(e); err != nil {
			logger.Warn("Cache write failed, entry kept in memory only",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// Stats returns a read-only snapshot. Savings are advisory telemetry.
func (c *ExpiringCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var size int64
	for _, e := range c.entries {
		size += int64(len(e.Value))
	}

	return Stats{
		Count:            len(c.entries),
		SizeBytes:        size,
		Hits:             c.hits,
		Misses:           c.misses,
		EstimatedSavings: c.savings,
	}
}

// Clear removes all entries, or only those whose key matches the
// predicate. Returns the number of entries removed.
func (c *ExpiringCache) Clear(predicate func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if predicate != nil && !predicate(key) {
			continue
		}
		delete(c.entries, key)
		if c.store != nil {
			if err := c.store.Delete(key); err != nil {
				logger.Warn("Failed to delete entry from store", zap.String("key", key), zap.Error(err))
			}
		}
		removed++
	}

	logger.Info("Cache cleared", zap.Int("removed", removed))
	return removed
}
