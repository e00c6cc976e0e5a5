package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type correlationID string

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	})
}

func TestInMemoryCacheManager_GetExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[correlationID, time.Time]("resolved", DefaultExpiration, DefaultCleanupInterval)
	now := time.Now()
	cache.Set(context.Background(), "cid-1", now, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "cid-1")
	require.True(t, ok)
	require.Equal(t, now, got)
}

func TestInMemoryCacheManager_GetWithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("resolved", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "missing")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWithExistingInvalidValueType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("resolved", DefaultExpiration, DefaultCleanupInterval)

	cache.cache.Set("cid", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "cid")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_AddOnlyOnce(t *testing.T) {
	cache := NewInMemoryCacheManager[correlationID, struct{}]("resolved", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	require.True(t, cache.Add(ctx, "cid-1", struct{}{}, time.Minute))
	require.False(t, cache.Add(ctx, "cid-1", struct{}{}, time.Minute))
	require.Equal(t, 1, cache.Count())
}

func TestInMemoryCacheManager_AddAfterExpiry(t *testing.T) {
	cache := NewInMemoryCacheManager[string, struct{}]("resolved", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	require.True(t, cache.Add(ctx, "cid", struct{}{}, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	require.True(t, cache.Add(ctx, "cid", struct{}{}, time.Minute))
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	cache := NewInMemoryCacheManager[string, int]("resolved", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	cache.Set(ctx, "a", 1, DefaultExpiration)
	cache.Set(ctx, "b", 2, DefaultExpiration)
	cache.Set(ctx, "c", 3, DefaultExpiration)

	require.NoError(t, cache.Delete(ctx, "a"))
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)
	require.Equal(t, 2, cache.Count())

	require.NoError(t, cache.Flush(ctx))
	require.Equal(t, 0, cache.Count())
}
