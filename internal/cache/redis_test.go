package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T, ttl time.Duration, maxSize int) (*RedisQueryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c, err := NewRedisQueryCache(client, RedisConfig{Prefix: "test", TTL: ttl, MaxSize: maxSize})
	require.NoError(t, err)
	return c, mr
}

func TestRedisQueryCache_RoundTripAndExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Second, 10)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v")))

	got, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "v", string(got))

	mr.FastForward(2 * time.Second)

	_, hit, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries, "expired member should be dropped from the index")
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisQueryCache_SubMillisecondTTLRoundsUp(t *testing.T) {
	c, mr := newTestRedisCache(t, 1500*time.Microsecond, 10)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v")))

	_, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 2*time.Millisecond, mr.TTL("test:entry:k"))
}

func TestTTLMillis(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want int64
	}{
		{0, 0},
		{time.Microsecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ttlMillis(tc.ttl), tc.ttl.String())
	}
}

func TestRedisQueryCache_EvictsOldest(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Hour, 2)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", []byte("1")))
	require.NoError(t, c.Put(ctx, "b", []byte("2")))
	require.NoError(t, c.Put(ctx, "c", []byte("3")))

	_, hit, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("test:entry:a"))

	for _, k := range []string{"b", "c"} {
		_, hit, err := c.Get(ctx, k)
		require.NoError(t, err)
		assert.True(t, hit, k)
	}

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 100.0, stats.Utilization)
}

func TestRedisQueryCache_OverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestRedisCache(t, time.Hour, 2)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", []byte("1")))
	require.NoError(t, c.Put(ctx, "b", []byte("2")))
	require.NoError(t, c.Put(ctx, "a", []byte("3")))
	require.NoError(t, c.Put(ctx, "c", []byte("4")))

	_, hit, _ := c.Get(ctx, "b")
	assert.False(t, hit, "b is the oldest after a was re-stamped")

	got, hit, _ := c.Get(ctx, "a")
	assert.True(t, hit)
	assert.Equal(t, "3", string(got))
}

func TestRedisQueryCache_ZeroTTLAndZeroSize(t *testing.T) {
	ctx := context.Background()

	zeroTTL, _ := newTestRedisCache(t, 0, 5)
	require.NoError(t, zeroTTL.Put(ctx, "k", []byte("v")))
	_, hit, err := zeroTTL.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)

	noop, mr := newTestRedisCache(t, time.Minute, 0)
	require.NoError(t, noop.Put(ctx, "k", []byte("v")))
	_, hit, err = noop.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, mr.Keys())
}

func TestRedisQueryCache_PurgeExpired(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Second, 10)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", []byte("1")))
	require.NoError(t, c.Put(ctx, "b", []byte("2")))
	mr.FastForward(2 * time.Second)
	require.NoError(t, c.Put(ctx, "c", []byte("3")))

	n, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
}

func TestRedisQueryCache_RedisDown(t *testing.T) {
	c, mr := newTestRedisCache(t, time.Minute, 10)
	mr.Close()

	_, hit, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, hit)
}
