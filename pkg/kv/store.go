// Package kv wraps the key-value store behind a narrow contract. All
// operations are bounded by a short timeout; callers treat failures as cache
// bypass, never as pipeline errors.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent. Readers tolerate it.
var ErrNotFound = errors.New("kv: key not found")

// Member is one scored member of a sorted set.
type Member struct {
	Score  float64
	Member string
}

// Store is the KV collaborator contract consumed by the caches and quota
// counters.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// ScanPrefix returns all keys matching prefix* using non-blocking SCAN.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	// IncrWithTTL atomically increments a counter, setting ttl on first use.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Sorted-set operations for the result-cache LRU index.
	ZAdd(ctx context.Context, key string, members ...Member) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZPopOldest removes and returns the n lowest-scored members.
	ZPopOldest(ctx context.Context, key string, n int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
}

// OpTimeout bounds every KV operation so a stalled store cannot stall a
// ticket's suspension point.
const OpTimeout = 2 * time.Second
