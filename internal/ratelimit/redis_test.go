package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, fallback *WindowLimiter) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewRedisLimiter(rdb, testConfig(), fallback), s
}

func TestRedisLimiter_CeilingEnforced(t *testing.T) {
	l, _ := newRedisLimiter(t, nil)
	ctx := context.Background()
	p := freePrincipal("user-1")

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, int64(3), d.Limit)
		assert.Equal(t, int64(3-i-1), d.Remaining)
	}

	d, err := l.Check(ctx, p, ClassAuth)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.False(t, d.ResetAt.IsZero())
}

func TestRedisLimiter_RejectionDoesNotConsume(t *testing.T) {
	l, _ := newRedisLimiter(t, nil)
	ctx := context.Background()
	p := freePrincipal("user-2")

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
		require.False(t, d.Allowed)
		// Remaining stays pinned at zero rather than going negative.
		assert.Equal(t, int64(0), d.Remaining)
	}
}

func TestRedisLimiter_WindowRollover(t *testing.T) {
	l, s := newRedisLimiter(t, nil)
	ctx := context.Background()
	p := freePrincipal("user-3")

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
	}
	d, err := l.Check(ctx, p, ClassAuth)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Expire the stored window; the next check starts a fresh one.
	s.FastForward(6 * time.Minute)
	d, err = l.Check(ctx, p, ClassAuth)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_IndependentPrincipals(t *testing.T) {
	l, _ := newRedisLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, freePrincipal("user-a"), ClassAuth)
		require.NoError(t, err)
	}
	d, err := l.Check(ctx, freePrincipal("user-a"), ClassAuth)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = l.Check(ctx, freePrincipal("user-b"), ClassAuth)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_FallbackOnBackendError(t *testing.T) {
	fallback := NewWindowLimiter(testConfig())
	l, s := newRedisLimiter(t, fallback)
	s.Close()

	ctx := context.Background()
	p := freePrincipal("user-4")

	// Backend is down: the local fallback still enforces the ceiling.
	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, p, ClassAuth)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRedisLimiter_FailOpenAndClosed(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})

	openCfg := testConfig()
	openCfg.FailOpen = true
	open := NewRedisLimiter(rdb, openCfg, nil)

	closedCfg := testConfig()
	closed := NewRedisLimiter(rdb, closedCfg, nil)

	s.Close()
	ctx := context.Background()
	p := freePrincipal("user-5")

	d, err := open.Check(ctx, p, ClassAuth)
	assert.Error(t, err)
	assert.True(t, d.Allowed)

	d, err = closed.Check(ctx, p, ClassAuth)
	assert.Error(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}
