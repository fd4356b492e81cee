package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	ok, err := c.SetIfVersion(ctx, "k", 0, []byte("v"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)
}

func TestRedisCache_MissAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = c.SetIfVersion(ctx, "tracking:BE1:view", 0, []byte("{}"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "tracking:BE1:view"))
	_, ok, err = c.Get(ctx, "tracking:BE1:view")
	require.NoError(t, err)
	require.False(t, ok)

	// invalidating an absent key only bumps its version
	require.NoError(t, c.Invalidate(ctx, "tracking:BE1:view"))
	v, err := c.Version(ctx, "tracking:BE1:view")
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
	require.Greater(t, mr.TTL("tracking:BE1:view:ver"), time.Duration(0))
}

func TestRedisCache_StaleFillRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	ctx := context.Background()

	v, err := c.Version(ctx, "k")
	require.NoError(t, err)
	require.Zero(t, v)

	require.NoError(t, c.Invalidate(ctx, "k"))

	ok, err := c.SetIfVersion(ctx, "k", v, []byte("old"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mr.Exists("k"))

	v, err = c.Version(ctx, "k")
	require.NoError(t, err)
	ok, err = c.SetIfVersion(ctx, "k", v, []byte("new"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "new", got)
}

func TestRedisCache_TTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	ctx := context.Background()

	_, err := c.SetIfVersion(ctx, "k", 0, []byte("v"), time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestRateLimiter_WindowNotExtendedByHits(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	ctx := context.Background()

	_, _, err := rl.Allow(ctx, "rl:window", 1, 10*time.Second)
	require.NoError(t, err)
	mr.FastForward(6 * time.Second)

	ok, _, err := rl.Allow(ctx, "rl:window", 1, 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	mr.FastForward(5 * time.Second)

	ok, n, err := rl.Allow(ctx, "rl:window", 1, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestRateLimiter_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	mr.Close()

	_, _, err := rl.Allow(context.Background(), "rl:x", 1, time.Minute)
	require.Error(t, err)
}

func TestLocker_TryLock(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(mr.Addr())
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "lock:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "lock:reconcile", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, release(ctx))

	_, ok, err = l.TryLock(ctx, "lock:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocker_ReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(mr.Addr())
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "lock:job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryLock(ctx, "lock:job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// stale release must not drop the new owner's lease
	require.NoError(t, release(ctx))
	require.True(t, mr.Exists("lock:job"))
}
