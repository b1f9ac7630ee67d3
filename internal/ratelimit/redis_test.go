package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreIncrement(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, _, err := store.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	count, _, err := store.Increment(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisStoreWindowStart(t *testing.T) {
	store, _ := newRedisStore(t)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	_, start, err := store.Increment(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	// A fresh key's window starts now: ttl == window.
	assert.WithinDuration(t, now, start, time.Second)
}

func TestRedisStoreExpiryOpensNewWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := store.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	mr.FastForward(time.Minute)

	count, _, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired key restarts the window")
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, _, err := store.Increment(context.Background(), "k", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestRedisStoreKeyExpires(t *testing.T) {
	store, mr := newRedisStore(t)

	_, _, err := store.Increment(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("ratelimit:k"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("ratelimit:k"), "entries reclaim themselves via TTL")
}
