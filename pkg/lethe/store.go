package lethe

import (
	"context"
	"time"
)

// Store is the external, shared tier of the hybrid cache. Implementations
// return (nil, false, nil) for absent keys; an error always means transport
// or server trouble.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// MGet returns one slot per key, nil where the key is absent.
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// MSet writes every entry with the same ttl in a single round trip.
	MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
