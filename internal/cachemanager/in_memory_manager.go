package cachemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/newhook/nextpick/internal/logging"
	gocache "github.com/patrickmn/go-cache"
)

// InMemoryCacheManager is a CacheManager backed by go-cache.
type InMemoryCacheManager[K comparable, V any] struct {
	name  string
	cache *gocache.Cache
}

var _ CacheManager[string, string] = (*InMemoryCacheManager[string, string])(nil)

// NewInMemoryCacheManager creates a cache. defaultExpiration applies to
// entries set with DefaultExpiration; a zero value means they never expire.
func NewInMemoryCacheManager[K comparable, V any](name string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		name:  name,
		cache: gocache.New(defaultExpiration, cleanupInterval),
	}
}

func (m *InMemoryCacheManager[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V
	raw, ok := m.cache.Get(cacheKey(key))
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		logging.Warn("cache entry has unexpected type", "cache", m.name, "key", cacheKey(key), "type", fmt.Sprintf("%T", raw))
		return zero, false
	}
	return v, true
}

func (m *InMemoryCacheManager[K, V]) GetMultiple(ctx context.Context, keys []K) (map[K]V, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	found := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := m.Get(ctx, k); ok {
			found[k] = v
		}
	}
	if len(found) == 0 {
		return nil, false
	}
	return found, true
}

func (m *InMemoryCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, ok := m.Get(ctx, key)
	if !ok {
		return v, false
	}
	m.cache.Set(cacheKey(key), v, ttl)
	return v, true
}

func (m *InMemoryCacheManager[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	m.cache.Set(cacheKey(key), value, ttl)
}

func (m *InMemoryCacheManager[K, V]) Delete(_ context.Context, keys ...K) error {
	for _, k := range keys {
		m.cache.Delete(cacheKey(k))
	}
	return nil
}

func (m *InMemoryCacheManager[K, V]) Flush(_ context.Context) error {
	m.cache.Flush()
	logging.Debug("cache flushed", "cache", m.name)
	return nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (m *InMemoryCacheManager[K, V]) Len() int {
	return m.cache.ItemCount()
}

func cacheKey[K comparable](key K) string {
	if s, ok := any(key).(string); ok {
		return s
	}
	return fmt.Sprint(key)
}
