// Package features implements the freshness-stamped feature layer: a TTL
// cache of provenance-tagged values, feature-set assembly per symbol, and
// the fail-closed freshness gate.
package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Feature value sources, in decreasing order of immediacy.
const (
	SourceStream  = "stream"
	SourceBatch   = "batch"
	SourceRest    = "rest"
	SourceDerived = "derived"
)

// streamConfidenceBoost is applied to live-stream writes, capped at 1.0.
const streamConfidenceBoost = 1.25

// Entry is a cached feature value with provenance.
type Entry struct {
	Value      float64   `msgpack:"v"`
	Source     string    `msgpack:"s"`
	WriteTime  time.Time `msgpack:"t"`
	Confidence float64   `msgpack:"c"`
}

// Age returns the entry age at the given instant.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.WriteTime)
}

// Cache is the process-wide feature cache. Entries live in an in-process
// hot map and, when a Redis client is supplied, are mirrored into the
// shared store as msgpack payloads so sibling processes (the stream
// ingester, workers) see the same values. Reads honor per-feature TTLs;
// expired entries are misses. Writes overwrite unconditionally.
type Cache struct {
	rdb  *redis.Client // optional shared backing store
	log  zerolog.Logger
	ttls map[string]time.Duration

	mu  sync.RWMutex
	hot map[string]Entry
}

// DefaultTTLs are the per-feature freshness budgets of the cache itself.
// Quotes go stale in seconds, bars in tens of seconds, options in a
// minute, short interest in days.
func DefaultTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"quote":          5 * time.Second,
		"bar_1m":         30 * time.Second,
		"vwap":           30 * time.Second,
		"atr_pct":        5 * time.Minute,
		"atm_iv":         time.Minute,
		"iv_percentile":  time.Minute,
		"call_put_ratio": time.Minute,
		"short_interest": 5 * 24 * time.Hour,
		"borrow_rate":    5 * 24 * time.Hour,
		"float_shares":   5 * 24 * time.Hour,
	}
}

// NewCache creates the feature cache. rdb may be nil for a purely local
// cache (tests, offline jobs).
func NewCache(rdb *redis.Client, log zerolog.Logger) *Cache {
	return &Cache{
		rdb:  rdb,
		log:  log.With().Str("component", "feature_cache").Logger(),
		ttls: DefaultTTLs(),
		hot:  make(map[string]Entry),
	}
}

// SetTTL overrides the TTL for one feature name. Call before serving
// reads; TTLs are not synchronized.
func (c *Cache) SetTTL(feature string, d time.Duration) {
	c.ttls[feature] = d
}

func cacheKey(feature, symbol string) string {
	return fmt.Sprintf("feat:%s:%s", feature, symbol)
}

// ttl returns the TTL for a feature, with a conservative default for
// unknown names.
func (c *Cache) ttl(feature string) time.Duration {
	if d, ok := c.ttls[feature]; ok {
		return d
	}
	return 30 * time.Second
}

// Put writes a feature value. Stream-sourced writes get a confidence
// boost, capped at 1.0.
func (c *Cache) Put(ctx context.Context, feature, symbol string, value float64, source string, confidence float64) {
	if source == SourceStream {
		confidence *= streamConfidenceBoost
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	entry := Entry{
		Value:      value,
		Source:     source,
		WriteTime:  time.Now(),
		Confidence: confidence,
	}
	key := cacheKey(feature, symbol)

	c.mu.Lock()
	c.hot[key] = entry
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	payload, err := msgpack.Marshal(entry)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Failed to encode feature entry")
		return
	}
	// Redis-side expiry is a backstop twice the read TTL; the read path
	// is the authority on freshness.
	if err := c.rdb.Set(ctx, key, payload, 2*c.ttl(feature)).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("Feature write to shared store failed")
	}
}

// Get returns a feature entry if it is within its TTL. The boolean is
// false on miss or expiry.
func (c *Cache) Get(ctx context.Context, feature, symbol string) (Entry, bool) {
	now := time.Now()
	key := cacheKey(feature, symbol)
	maxAge := c.ttl(feature)

	c.mu.RLock()
	entry, ok := c.hot[key]
	c.mu.RUnlock()

	if ok && entry.Age(now) <= maxAge {
		return entry, true
	}

	if c.rdb == nil {
		return Entry{}, false
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return Entry{}, false
	}
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("Failed to decode feature entry")
		return Entry{}, false
	}
	if entry.Age(now) > maxAge {
		return Entry{}, false
	}

	c.mu.Lock()
	c.hot[key] = entry
	c.mu.Unlock()
	return entry, true
}

// Peek returns an entry regardless of TTL, for freshness diagnostics.
func (c *Cache) Peek(ctx context.Context, feature, symbol string) (Entry, bool) {
	key := cacheKey(feature, symbol)

	c.mu.RLock()
	entry, ok := c.hot[key]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	if c.rdb == nil {
		return Entry{}, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return Entry{}, false
	}
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

// Invalidate deletes all cached entries for a feature name pattern, local
// and shared. Used by operators after bad upstream data.
func (c *Cache) Invalidate(ctx context.Context, feature string) error {
	prefix := "feat:" + feature + ":"

	c.mu.Lock()
	for k := range c.hot {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.hot, k)
		}
	}
	c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}
	keys, err := c.rdb.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to list feature keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete feature keys: %w", err)
	}
	return nil
}

// Drain clears the in-process map. Called at shutdown; the shared store
// expires on its own.
func (c *Cache) Drain() {
	c.mu.Lock()
	c.hot = make(map[string]Entry)
	c.mu.Unlock()
}
