package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

func newTestMemory(opts ...MemoryOption) (*MemoryCache, *time.Time) {
	mc := NewMemoryCache(opts...)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	return mc, &now
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	mc, now := newTestMemory()

	require.NoError(t, mc.Set(ctx, "scores:BTC", point{"BTCUSDT", 0.7}, time.Minute))

	var got point
	require.NoError(t, mc.Get(ctx, "scores:BTC", &got))
	assert.Equal(t, point{"BTCUSDT", 0.7}, got)

	*now = now.Add(time.Minute)
	assert.ErrorIs(t, mc.Get(ctx, "scores:BTC", &got), ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc, now := newTestMemory(WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", 1, time.Hour))
	*now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Hour))
	*now = now.Add(time.Second)
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	*now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", 3, time.Hour))

	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, mc.Len())
}

func TestMemoryCache_DeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestMemory()
	for _, k := range []string{"api:scores:1", "api:scores:2", "api:universe"} {
		require.NoError(t, mc.Set(ctx, k, k, time.Hour))
	}
	require.NoError(t, mc.DeleteByPattern(ctx, "api:scores:*"))
	assert.Equal(t, 1, mc.Len())
}

func TestMemoryCache_TryLock(t *testing.T) {
	ctx := context.Background()
	mc, now := newTestMemory()

	ok, err := mc.TryLock(ctx, "pipeline", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = mc.TryLock(ctx, "pipeline", time.Minute)
	assert.False(t, ok)

	*now = now.Add(2 * time.Minute)
	ok, _ = mc.TryLock(ctx, "pipeline", time.Minute)
	assert.True(t, ok)

	require.NoError(t, mc.Unlock(ctx, "pipeline"))
	ok, _ = mc.TryLock(ctx, "pipeline", time.Minute)
	assert.True(t, ok)
}

func TestLayeredCache_ReadsThroughL2(t *testing.T) {
	ctx := context.Background()
	l2, _ := newTestMemory()
	lc := NewLayeredCache(l2, time.Second)

	require.NoError(t, l2.Set(ctx, "k", point{"ETHUSDT", -0.2}, time.Hour))

	var got point
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "ETHUSDT", got.Symbol)
	assert.Equal(t, 1, lc.mem.Len())

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestMemory()
	calls := 0
	load := func(context.Context) ([]point, error) {
		calls++
		return []point{{"SOLUSDT", 1}}, nil
	}

	v, hit, err := Remember(ctx, mc, "k", time.Minute, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, v, 1)

	v, hit, err = Remember(ctx, mc, "k", time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "SOLUSDT", v[0].Symbol)
	assert.Equal(t, 1, calls)

	_, _, err = Remember(ctx, mc, "other", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, mc.Len())
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "api:scores:BTCUSDT:100", GenerateKeyWithParams("api:scores", "BTCUSDT", 100))
	assert.Len(t, HashKey("x"), 32)
}
