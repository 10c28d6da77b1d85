package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloom/llmgate/pkg/types"
)

func testConfig() Config {
	return Config{
		Windows: map[Class]time.Duration{
			ClassGeneral: time.Minute,
			ClassLLM:     time.Hour,
			ClassAuth:    5 * time.Minute,
		},
		Ceilings: map[types.Tier]map[Class]int64{
			types.TierFree: {ClassGeneral: 5, ClassLLM: 50, ClassAuth: 3},
			types.TierPro:  {ClassGeneral: 100, ClassLLM: 500},
		},
	}
}

func freePrincipal(id string) *types.Principal {
	return &types.Principal{ID: id, Tier: types.TierFree, TokensRemaining: 1000}
}

func TestWindowLimiter_CeilingEnforced(t *testing.T) {
	l := NewWindowLimiter(testConfig())
	ctx := context.Background()
	p := freePrincipal("user-1")

	// A free-tier llm ceiling of 50 admits exactly 50 requests in a window.
	for i := 0; i < 50; i++ {
		d, err := l.Check(ctx, p, ClassLLM)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, int64(50), d.Limit)
		assert.Equal(t, int64(50-i-1), d.Remaining)
	}

	d, err := l.Check(ctx, p, ClassLLM)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.Equal(t, int64(0), d.Remaining)
}

func TestWindowLimiter_RejectionRollsBack(t *testing.T) {
	l := NewWindowLimiter(testConfig())
	ctx := context.Background()
	p := freePrincipal("user-2")

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// Rejections must not advance the counter past the ceiling.
	for i := 0; i < 10; i++ {
		d, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	w := l.getWindow("user-2:" + string(ClassAuth))
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, int64(3), w.count)
}

func TestWindowLimiter_WindowRollover(t *testing.T) {
	l := NewWindowLimiter(testConfig())
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()
	p := freePrincipal("user-3")

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, p, ClassGeneral)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, p, ClassGeneral)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Advance past the window: counter resets and the request is admitted.
	now = now.Add(time.Minute + time.Second)
	d, err = l.Check(ctx, p, ClassGeneral)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(4), d.Remaining)
}

func TestWindowLimiter_ClassesIndependent(t *testing.T) {
	l := NewWindowLimiter(testConfig())
	ctx := context.Background()
	p := freePrincipal("user-4")

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, p, ClassAuth)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Exhausting auth leaves llm untouched.
	d, err = l.Check(ctx, p, ClassLLM)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestWindowLimiter_UnlimitedWhenNoCeiling(t *testing.T) {
	l := NewWindowLimiter(testConfig())
	ctx := context.Background()
	// Pro tier has no auth ceiling configured.
	p := &types.Principal{ID: "user-5", Tier: types.TierPro}

	for i := 0; i < 1000; i++ {
		d, err := l.Check(ctx, p, ClassAuth)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestWindowLimiter_ConcurrentNoOverAdmission(t *testing.T) {
	l := NewWindowLimiter(testConfig())
	ctx := context.Background()
	p := freePrincipal("user-6")

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, p, ClassLLM)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}

func TestNoopLimiterAdmitsEverything(t *testing.T) {
	l := NewNoopLimiter()
	ctx := context.Background()
	p := freePrincipal("user-8")

	for i := 0; i < 100; i++ {
		d, err := l.Check(ctx, p, ClassLLM)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		// No Limit means handlers emit no rate-limit headers.
		assert.Equal(t, int64(0), d.Limit)
	}
}

func TestWindowLimiter_SetCeilings(t *testing.T) {
	l := NewWindowLimiter(testConfig())
	ctx := context.Background()
	p := freePrincipal("user-7")

	l.SetCeilings(map[types.Tier]map[Class]int64{
		types.TierFree: {ClassLLM: 1},
	})

	d, err := l.Check(ctx, p, ClassLLM)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Check(ctx, p, ClassLLM)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
