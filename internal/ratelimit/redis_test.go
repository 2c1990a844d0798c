package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, NewRedisStore(rdb)
}

func TestRedisStore_IncrementAndGet(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	now := time.Now()

	_, found, err := s.Get(ctx, "ip:1.2.3.4", now)
	require.NoError(t, err)
	require.False(t, found)

	e, err := s.Increment(ctx, "ip:1.2.3.4", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, e.Attempts)
	e, err = s.Increment(ctx, "ip:1.2.3.4", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, e.Attempts)

	got, found, err := s.Get(ctx, "ip:1.2.3.4", now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, got.Attempts)
	require.True(t, mr.Exists("ratelimit:ip:1.2.3.4"))

	mr.FastForward(61 * time.Second)
	_, found, err = s.Get(ctx, "ip:1.2.3.4", now)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisStore_HitRenewsTTL(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	now := time.Now()

	_, err := s.Increment(ctx, "k", now, time.Minute)
	require.NoError(t, err)
	mr.FastForward(30 * time.Second)
	_, err = s.Increment(ctx, "k", now, time.Minute)
	require.NoError(t, err)

	require.Equal(t, time.Minute, mr.TTL("ratelimit:k"))
}

func TestRedisStore_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	now := time.Now()

	require.NoError(t, mr.Set("unrelated", "keep"))
	for _, k := range []string{"a", "b", "c"} {
		_, err := s.Increment(ctx, k, now, time.Minute)
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, "a"))
	require.False(t, mr.Exists("ratelimit:a"))

	require.NoError(t, s.Clear(ctx))
	require.False(t, mr.Exists("ratelimit:b"))
	require.False(t, mr.Exists("ratelimit:c"))
	require.True(t, mr.Exists("unrelated"))
}

func TestLimiterOverRedis(t *testing.T) {
	ctx := context.Background()
	_, s := newTestRedis(t)
	l := New(s, Options{Logger: discardLogger()})

	for i := 0; i < 3; i++ {
		require.True(t, l.Attempt(ctx, "user:7", 3, 1))
	}
	require.False(t, l.Attempt(ctx, "user:7", 3, 1))
	require.Equal(t, 3, l.Attempts(ctx, "user:7"))
	require.InDelta(t, 60, l.AvailableIn(ctx, "user:7").Seconds(), 1)
}

func TestRedisStore_UnavailableFailsOpen(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	l := New(s, Options{Logger: discardLogger()})
	mr.Close()

	require.True(t, l.Attempt(ctx, "k", 1, 1))
	require.True(t, l.Attempt(ctx, "k", 1, 1))
	require.Equal(t, 0, l.Hit(ctx, "k", 1))
}

func TestRedisStore_IncrementBelowStopsAtMax(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	now := time.Now()

	for i := 1; i <= 3; i++ {
		ok, e, err := s.IncrementBelow(ctx, "user:42", 3, now, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, e.Attempts)
	}

	mr.FastForward(20 * time.Second)
	ok, e, err := s.IncrementBelow(ctx, "user:42", 3, now, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3, e.Attempts)
	require.Equal(t, 40*time.Second, mr.TTL("ratelimit:user:42"), "blocked attempt must not renew the window")

	mr.FastForward(41 * time.Second)
	ok, e, err = s.IncrementBelow(ctx, "user:42", 3, now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, e.Attempts)
}
