// Package cachemanager provides a typed TTL cache abstraction. Caches are
// owned by the component that fills them; there is no package-level state.
package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultExpiration uses the expiration the cache was created with.
	DefaultExpiration = gocache.DefaultExpiration
	// NoExpiration keeps an entry until it is deleted or flushed.
	NoExpiration = gocache.NoExpiration
	// DefaultCleanupInterval is how often expired entries are purged.
	DefaultCleanupInterval = 10 * time.Minute
)

// CacheManager is a typed key/value cache with per-entry TTLs.
type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	// GetMultiple returns the entries found for keys. The bool is false when
	// none were found.
	GetMultiple(ctx context.Context, keys []K) (map[K]V, bool)
	// GetWithRefresh returns the entry and extends its lifetime to ttl.
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
