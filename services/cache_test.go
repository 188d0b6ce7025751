package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheService_MemoryBackend(t *testing.T) {
	cs := NewCacheService(nil, nil)
	ctx := context.Background()

	_, err := cs.Get(ctx, "missing")
	assert.Equal(t, ErrCacheMiss, err)

	require.NoError(t, cs.Set(ctx, "k", "v", time.Minute))
	v, err := cs.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, cs.Del(ctx, "k"))
	_, err = cs.Get(ctx, "k")
	assert.Equal(t, ErrCacheMiss, err)

	stats := cs.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestCacheService_JSONAndInvalidate(t *testing.T) {
	cs := NewCacheService(nil, nil)
	ctx := context.Background()

	type payload struct {
		Score float64 `json:"score"`
	}
	key := GenerateCacheKey("dashboard", "Asia/Jakarta", "dispatcher")
	assert.Equal(t, "enom:dashboard:Asia/Jakarta:dispatcher", key)

	require.NoError(t, cs.SetJSON(ctx, key, payload{Score: 91.7}, time.Minute))
	require.NoError(t, cs.Set(ctx, GenerateCacheKey("other"), "keep", time.Minute))

	var got payload
	ok, err := cs.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 91.7, got.Score)

	require.NoError(t, cs.InvalidatePrefix(ctx, GenerateCacheKey("dashboard")))
	ok, err = cs.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := cs.Get(ctx, GenerateCacheKey("other"))
	require.NoError(t, err)
	assert.Equal(t, "keep", v)
}

func TestCacheService_CorruptedValue(t *testing.T) {
	cs := NewCacheService(nil, nil)
	ctx := context.Background()
	require.NoError(t, cs.Set(ctx, "broken", "{not json", time.Minute))

	var dest map[string]interface{}
	ok, err := cs.GetJSON(ctx, "broken", &dest)
	assert.Error(t, err)
	assert.False(t, ok)
}
