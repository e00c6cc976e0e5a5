// Package cachemanager provides TTL caches keyed by string-like identifiers.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a TTL cache.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	// Add stores value only if key is absent or expired and reports whether it did.
	Add(ctx context.Context, key K, value V, ttl time.Duration) bool
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
	Count() int
}
