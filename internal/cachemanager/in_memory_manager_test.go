package cachemanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newImageCache() *InMemoryCacheManager[string, string] {
	return NewInMemoryCacheManager[string, string]("product-images", DefaultExpiration, DefaultCleanupInterval)
}

func TestInMemoryCacheManager_GetSet(t *testing.T) {
	cache := newImageCache()
	ctx := context.Background()

	got, ok := cache.Get(ctx, "SKU-1")
	require.False(t, ok)
	require.Empty(t, got)

	cache.Set(ctx, "SKU-1", "https://cdn.example/sku-1.jpg", DefaultExpiration)
	got, ok = cache.Get(ctx, "SKU-1")
	require.True(t, ok)
	require.Equal(t, "https://cdn.example/sku-1.jpg", got)
}

func TestInMemoryCacheManager_CachesMisses(t *testing.T) {
	cache := newImageCache()
	ctx := context.Background()

	// An empty string records a known miss and is distinguishable from absence.
	cache.Set(ctx, "SKU-404", "", DefaultExpiration)
	got, ok := cache.Get(ctx, "SKU-404")
	require.True(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_Expiry(t *testing.T) {
	cache := newImageCache()
	ctx := context.Background()

	cache.Set(ctx, "SKU-1", "u", 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "SKU-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestInMemoryCacheManager_NonStringKeys(t *testing.T) {
	cache := NewInMemoryCacheManager[int, string]("by-id", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	cache.Set(ctx, 42, "answer", NoExpiration)
	got, ok := cache.Get(ctx, 42)
	require.True(t, ok)
	require.Equal(t, "answer", got)
	require.Equal(t, 1, cache.Len())
}

func TestInMemoryCacheManager_InvalidValueType(t *testing.T) {
	cache := newImageCache()

	cache.cache.Set("SKU-1", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "SKU-1")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetMultiple(t *testing.T) {
	cache := newImageCache()
	ctx := context.Background()

	got, ok := cache.GetMultiple(ctx, nil)
	require.False(t, ok)
	require.Nil(t, got)

	got, ok = cache.GetMultiple(ctx, []string{"a", "b"})
	require.False(t, ok)
	require.Nil(t, got)

	cache.Set(ctx, "a", "ua", DefaultExpiration)
	cache.cache.Set("b", 7, DefaultExpiration)
	got, ok = cache.GetMultiple(ctx, []string{"a", "b", "c"})
	require.True(t, ok)
	require.Equal(t, map[string]string{"a": "ua"}, got)
}

func TestInMemoryCacheManager_GetWithRefresh(t *testing.T) {
	cache := newImageCache()
	ctx := context.Background()

	_, ok := cache.GetWithRefresh(ctx, "a", time.Hour)
	require.False(t, ok)

	cache.Set(ctx, "a", "ua", 30*time.Millisecond)
	got, ok := cache.GetWithRefresh(ctx, "a", time.Hour)
	require.True(t, ok)
	require.Equal(t, "ua", got)

	time.Sleep(60 * time.Millisecond)
	_, ok = cache.Get(ctx, "a")
	require.True(t, ok, "refresh extends the entry lifetime")
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	cache := newImageCache()
	ctx := context.Background()

	require.NoError(t, cache.Delete(ctx))

	for _, k := range []string{"a", "b", "c"} {
		cache.Set(ctx, k, "u-"+k, DefaultExpiration)
	}
	require.NoError(t, cache.Delete(ctx, "a", "b"))
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)
	got, ok := cache.Get(ctx, "c")
	require.True(t, ok)
	require.Equal(t, "u-c", got)

	require.NoError(t, cache.Flush(ctx))
	_, ok = cache.Get(ctx, "c")
	require.False(t, ok)
	require.Zero(t, cache.Len())
}

func TestInMemoryCacheManager_ConcurrentAccess(t *testing.T) {
	cache := newImageCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("SKU-%d", (id*10+j)%50)
				_, _ = cache.Get(ctx, key)
				cache.Set(ctx, key, fmt.Sprintf("u-%d-%d", id, j), DefaultExpiration)
				_, _ = cache.GetMultiple(ctx, []string{key, "SKU-0"})
			}
		}(i)
	}
	wg.Wait()
}
