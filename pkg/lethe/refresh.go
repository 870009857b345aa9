package lethe

import (
	"context"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const keyLockStripes = 64

// keyLocks serializes the authoritative writes of one key. Two refreshes of
// the same key never interleave their read of the source with their write,
// so the last write always carries the newest state.
type keyLocks [keyLockStripes]sync.Mutex

func stripeOf(full string) int {
	return int(xxhash.Sum64String(full) % keyLockStripes)
}

func (l *keyLocks) lock(full string) func() {
	m := &l[stripeOf(full)]
	m.Lock()
	return m.Unlock
}

// lockAll takes every stripe covering fulls in ascending order.
func (l *keyLocks) lockAll(fulls []string) func() {
	idx := make([]int, 0, len(fulls))
	for _, f := range fulls {
		idx = append(idx, stripeOf(f))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		l[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l[idx[j]].Unlock()
		}
	}
}

// KeyLoader reads the authoritative value for key.
type KeyLoader func(ctx context.Context, key string) (value any, found bool, err error)

// Refresh re-reads namespace:key through load and mirrors the result: a found
// value is written, a missing one is deleted from both tiers. Use it instead
// of Set when the caller's copy may already be outdated.
func (c *HybridCache) Refresh(ctx context.Context, namespace, key string, load Loader) (bool, error) {
	unlock := c.locks.lock(c.key(namespace, key))
	defer unlock()

	value, found, err := load(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		c.Delete(ctx, namespace, key)
		return false, nil
	}
	return true, c.Set(ctx, namespace, key, value, 0)
}

// RefreshBatch is Refresh over keys with one pipelined write and one delete.
// It returns how many keys were found.
func (c *HybridCache) RefreshBatch(ctx context.Context, namespace string, keys []string, load KeyLoader) (int, error) {
	fulls := make([]string, len(keys))
	for i, k := range keys {
		fulls[i] = c.key(namespace, k)
	}
	unlock := c.locks.lockAll(fulls)
	defer unlock()

	entries := make(map[string]any, len(keys))
	var gone []string
	for _, k := range keys {
		value, found, err := load(ctx, k)
		if err != nil {
			return 0, err
		}
		if found {
			entries[k] = value
		} else {
			gone = append(gone, k)
		}
	}

	if len(entries) > 0 {
		if err := c.BatchSet(ctx, namespace, entries, 0); err != nil {
			return 0, err
		}
	}
	c.BatchDelete(ctx, namespace, gone)
	return len(entries), nil
}
