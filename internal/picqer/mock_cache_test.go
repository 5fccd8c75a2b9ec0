package picqer

import (
	"context"
	"time"

	"github.com/newhook/nextpick/internal/cachemanager"
	"github.com/stretchr/testify/mock"
)

// mockImageCache is a testify mock of the product image cache.
type mockImageCache struct {
	mock.Mock
}

var _ cachemanager.CacheManager[string, string] = (*mockImageCache)(nil)

func (m *mockImageCache) Get(ctx context.Context, key string) (string, bool) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1)
}

func (m *mockImageCache) GetMultiple(ctx context.Context, keys []string) (map[string]string, bool) {
	args := m.Called(ctx, keys)
	return args.Get(0).(map[string]string), args.Bool(1)
}

func (m *mockImageCache) GetWithRefresh(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Bool(1)
}

func (m *mockImageCache) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	m.Called(ctx, key, value, ttl)
}

func (m *mockImageCache) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *mockImageCache) Flush(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
