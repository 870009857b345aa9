// Package lethe is the hybrid cache that fronts node lookups: a bounded
// in-process LRU backed by an optional shared TTL store. Named after the river
// of forgetting, everything it holds may vanish at any time; callers must treat
// it as a performance layer and never as a source of truth.
package lethe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/fogmesh/fogmesh/pkg/hermes"
)

const (
	DefaultTTL         = 300 * time.Second
	DefaultLRUCapacity = 5000
	DefaultKeyPrefix   = "fog:"
)

type Options struct {
	DefaultTTL  time.Duration
	LRUCapacity int
	KeyPrefix   string

	Logger  hermes.Logger
	Metrics hermes.Metrics

	// ErrorLogInterval throttles transport error logs. Counters are always exact.
	ErrorLogInterval time.Duration
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
	LocalSize int     `json:"local_size"`
	External  bool    `json:"external"`
}

// HybridCache never propagates external store failures: they are counted,
// logged and turned into misses.
type HybridCache struct {
	local *lru.Cache[string, []byte]
	store Store // nil: local tier only

	ttl     time.Duration
	prefix  string
	logger  hermes.Logger
	metrics hermes.Metrics

	loads  singleflight.Group
	locks  keyLocks
	errLog *rate.Sometimes

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

// New builds a cache over store, which may be nil.
func New(store Store, opts Options) (*HybridCache, error) {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.LRUCapacity <= 0 {
		opts.LRUCapacity = DefaultLRUCapacity
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Logger == nil {
		opts.Logger = hermes.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = hermes.NewNoopMetrics()
	}
	if opts.ErrorLogInterval <= 0 {
		opts.ErrorLogInterval = 10 * time.Second
	}

	local, err := lru.New[string, []byte](opts.LRUCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create local tier: %w", err)
	}

	return &HybridCache{
		local:   local,
		store:   store,
		ttl:     opts.DefaultTTL,
		prefix:  opts.KeyPrefix,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		errLog:  &rate.Sometimes{Interval: opts.ErrorLogInterval},
	}, nil
}

func (c *HybridCache) key(namespace, key string) string {
	return c.prefix + namespace + ":" + key
}

// GetBytes returns the raw JSON stored under namespace:key.
func (c *HybridCache) GetBytes(ctx context.Context, namespace, key string) ([]byte, bool) {
	full := c.key(namespace, key)

	if val, ok := c.local.Get(full); ok {
		c.hit()
		return val, true
	}

	if c.store != nil {
		val, ok, err := c.store.Get(ctx, full)
		if err != nil {
			c.recordError(ctx, "get", err)
		} else if ok {
			c.local.Add(full, val)
			c.hit()
			return val, true
		}
	}

	c.miss()
	return nil, false
}

// Get decodes the value under namespace:key into dst. Undecodable entries are
// evicted and reported as misses.
func (c *HybridCache) Get(ctx context.Context, namespace, key string, dst any) bool {
	val, ok := c.GetBytes(ctx, namespace, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		c.recordError(ctx, "decode", err)
		c.local.Remove(c.key(namespace, key))
		return false
	}
	return true
}

// Set stores value under namespace:key. A ttl of zero uses the default.
// Only encoding failures are returned; the external write is best effort.
func (c *HybridCache) Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s:%s: %w", namespace, key, err)
	}
	c.SetBytes(ctx, namespace, key, data, ttl)
	return nil
}

// SetBytes stores pre-encoded JSON.
func (c *HybridCache) SetBytes(ctx context.Context, namespace, key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	full := c.key(namespace, key)

	c.local.Add(full, data)
	c.sets.Add(1)

	if c.store != nil {
		if err := c.store.Set(ctx, full, data, ttl); err != nil {
			c.recordError(ctx, "set", err)
		}
	}
}

// Delete removes namespace:key from both tiers.
func (c *HybridCache) Delete(ctx context.Context, namespace, key string) {
	c.BatchDelete(ctx, namespace, []string{key})
}

// BatchGet resolves keys from the local tier first and fetches the rest from
// the external tier in one MGET. Absent keys are missing from the result.
func (c *HybridCache) BatchGet(ctx context.Context, namespace string, keys []string) map[string][]byte {
	found := make(map[string][]byte, len(keys))
	var pending []string

	for _, k := range keys {
		if val, ok := c.local.Get(c.key(namespace, k)); ok {
			found[k] = val
			c.hit()
			continue
		}
		pending = append(pending, k)
	}

	if len(pending) > 0 && c.store != nil {
		full := make([]string, len(pending))
		for i, k := range pending {
			full[i] = c.key(namespace, k)
		}

		vals, err := c.store.MGet(ctx, full)
		if err != nil {
			c.recordError(ctx, "mget", err)
		} else {
			remaining := pending[:0]
			for i, k := range pending {
				if i < len(vals) && vals[i] != nil {
					c.local.Add(full[i], vals[i])
					found[k] = vals[i]
					c.hit()
					continue
				}
				remaining = append(remaining, k)
			}
			pending = remaining
		}
	}

	for range pending {
		c.miss()
	}
	return found
}

// BatchSet encodes every entry, writes them locally and pipelines them to the
// external tier in one round trip.
func (c *HybridCache) BatchSet(ctx context.Context, namespace string, entries map[string]any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	encoded := make(map[string][]byte, len(entries))
	for k, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode cache value %s:%s: %w", namespace, k, err)
		}
		encoded[c.key(namespace, k)] = data
	}

	for full, data := range encoded {
		c.local.Add(full, data)
	}
	c.sets.Add(int64(len(encoded)))

	if c.store != nil && len(encoded) > 0 {
		if err := c.store.MSet(ctx, encoded, ttl); err != nil {
			c.recordError(ctx, "mset", err)
		}
	}
	return nil
}

// BatchDelete removes keys from both tiers with a single DEL.
func (c *HybridCache) BatchDelete(ctx context.Context, namespace string, keys []string) {
	if len(keys) == 0 {
		return
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(namespace, k)
		c.local.Remove(full[i])
	}
	c.deletes.Add(int64(len(keys)))

	if c.store != nil {
		if err := c.store.Del(ctx, full...); err != nil {
			c.recordError(ctx, "del", err)
		}
	}
}

// ClearNamespace drops every entry of namespace from both tiers and returns
// how many external keys were removed.
func (c *HybridCache) ClearNamespace(ctx context.Context, namespace string) int {
	prefix := c.key(namespace, "")
	for _, k := range c.local.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.local.Remove(k)
		}
	}

	if c.store == nil {
		return 0
	}

	keys, err := c.store.Scan(ctx, prefix+"*")
	if err != nil {
		c.recordError(ctx, "scan", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		c.recordError(ctx, "del", err)
		return 0
	}
	c.deletes.Add(int64(len(keys)))
	return len(keys)
}

// Warm bulk-loads keys through load, typically the authoritative node map
// at startup.
func (c *HybridCache) Warm(ctx context.Context, namespace string, keys []string, load KeyLoader) (int, error) {
	n, err := c.RefreshBatch(ctx, namespace, keys, load)
	if err != nil {
		return 0, err
	}
	c.logger.Info(ctx, "Cache warmed", map[string]any{
		"namespace": namespace,
		"entries":   n,
	})
	return n, nil
}

// Loader reads the authoritative value for a cache-aside lookup. found=false
// means the value does not exist and nothing is cached.
type Loader func(ctx context.Context) (value any, found bool, err error)

// GetOrLoad decodes namespace:key into dst, falling back to load on a miss
// and populating the cache with its result. Concurrent misses on the same key
// share a single load, which is serialized with Refresh of that key.
func (c *HybridCache) GetOrLoad(ctx context.Context, namespace, key string, dst any, load Loader) (bool, error) {
	if c.Get(ctx, namespace, key, dst) {
		return true, nil
	}

	full := c.key(namespace, key)
	v, err, _ := c.loads.Do(full, func() (any, error) {
		unlock := c.locks.lock(full)
		defer unlock()

		value, found, err := load(ctx)
		if err != nil || !found {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cache value %s:%s: %w", namespace, key, err)
		}
		c.SetBytes(ctx, namespace, key, data, 0)
		return data, nil
	})
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	if err := json.Unmarshal(v.([]byte), dst); err != nil {
		return false, fmt.Errorf("failed to decode loaded value %s:%s: %w", namespace, key, err)
	}
	return true, nil
}

// Stats returns the counters and hit rate (0 before any lookup).
func (c *HybridCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Errors:    c.errors.Load(),
		HitRate:   hitRate,
		LocalSize: c.local.Len(),
		External:  c.store != nil,
	}
}

// Ping checks the external tier. A local-only cache is always reachable.
func (c *HybridCache) Ping(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Ping(ctx)
}

func (c *HybridCache) Close() error {
	c.local.Purge()
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *HybridCache) hit() {
	c.hits.Add(1)
	c.metrics.IncCounter("fog_cache_requests_total", 1, hermes.Label{Key: "result", Value: "hit"})
}

func (c *HybridCache) miss() {
	c.misses.Add(1)
	c.metrics.IncCounter("fog_cache_requests_total", 1, hermes.Label{Key: "result", Value: "miss"})
}

func (c *HybridCache) recordError(ctx context.Context, op string, err error) {
	c.errors.Add(1)
	c.metrics.IncCounter("fog_cache_errors_total", 1, hermes.Label{Key: "op", Value: op})
	c.errLog.Do(func() {
		c.logger.Error(ctx, "Cache operation failed", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
	})
}
