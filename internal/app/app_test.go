package app

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HanTheDev/beneficiary-center/internal/cache"
	"github.com/HanTheDev/beneficiary-center/internal/config"
)

func TestNewLimiterSharesCachePool(t *testing.T) {
	server := miniredis.RunT(t)
	url := "redis://" + server.Addr()
	ctx := context.Background()

	backend, err := cache.Open(ctx, config.CacheConfig{Backend: "redis", MemoryMaxEntries: 10}, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	limiter, owned := newLimiter(ctx, backend, url, zap.NewNop())
	require.NotNil(t, limiter)
	require.Nil(t, owned)

	allowed, count, err := limiter.Allow(ctx, 7, 10)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 1, count)
	require.Len(t, server.Keys(), 1)
}

func TestNewLimiterDialsWhenCacheIsMemory(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()
	mem, err := cache.NewMemory(10)
	require.NoError(t, err)

	limiter, owned := newLimiter(ctx, mem, "redis://"+server.Addr(), zap.NewNop())
	require.NotNil(t, limiter)
	require.NotNil(t, owned)
	t.Cleanup(func() { owned.Close() })

	limiter, owned = newLimiter(ctx, mem, "redis://127.0.0.1:1", zap.NewNop())
	require.Nil(t, limiter)
	require.Nil(t, owned)
}
