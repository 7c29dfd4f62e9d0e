package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"notifyhook/modules/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryCounter is a CounterStore whose keys never expire; the sliding window
// only reads the current and previous window so expiry does not matter here.
type memoryCounter struct {
	mu sync.Mutex
	m  map[string]int64
}

func newMemoryCounter() *memoryCounter { return &memoryCounter{m: map[string]int64{}} }

func (c *memoryCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key]++
	return c.m[key], nil
}

func (c *memoryCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key], nil
}

var epoch = time.Unix(1_700_000_000, 0).Truncate(time.Minute)

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	clk := clock.NewFrozen(epoch)
	limiter := SlidingWindowFactory(clk, newMemoryCounter(), "test")(3, time.Minute)
	ctx := context.Background()

	for i := range 3 {
		res, err := limiter.Allow(ctx, "ip")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.EqualValues(t, 2-i, res.Remaining)
	}

	res, err := limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)

	// other keys are independent
	res, err = limiter.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestSlidingWindow_PreviousWindowDecays(t *testing.T) {
	clk := clock.NewFrozen(epoch)
	limiter := SlidingWindowFactory(clk, newMemoryCounter(), "test")(2, time.Minute)
	ctx := context.Background()

	for range 2 {
		_, err := limiter.Allow(ctx, "ip")
		require.NoError(t, err)
	}

	// a quarter into the next window the previous one still weighs 75%
	clk.Advance(time.Minute + 15*time.Second)
	res, err := limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// denied requests are still counted, so the window after next only
	// carries that single request forward
	clk.Advance(time.Minute)
	res, err = limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := clock.NewFrozen(epoch)
	limiter := TokenBucketFactory(clk)(2, 2*time.Second)
	ctx := context.Background()

	for i := range 2 {
		res, err := limiter.Allow(ctx, "ip")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)
	assert.EqualValues(t, 2, res.Limit)

	clk.Advance(time.Second)
	res, err = limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Remaining)
}

func TestTokenBucket_ZeroLimitDeniesAll(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(clock.NewFrozen(epoch), 0, time.Minute)
	res, err := limiter.Allow(context.Background(), "ip")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestTokenBucket_SweepsFullBuckets(t *testing.T) {
	clk := clock.NewFrozen(epoch)
	limiter := NewTokenBucketRateLimiter(clk, 1, time.Second)
	ctx := context.Background()

	for i := range maxIdleBuckets {
		_, err := limiter.Allow(ctx, Key(strconv.Itoa(i)))
		require.NoError(t, err)
	}
	require.Len(t, limiter.buckets, maxIdleBuckets)

	clk.Advance(time.Minute)
	_, err := limiter.Allow(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, limiter.buckets, 1)
}

func TestSlidingWindow_InvalidWindow(t *testing.T) {
	limiter := SlidingWindowFactory(clock.NewFrozen(epoch), newMemoryCounter(), "test")(1, 0)
	_, err := limiter.Allow(context.Background(), "ip")
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestUsage_CeilDiv(t *testing.T) {
	w := uint64(time.Minute)
	assert.EqualValues(t, 0, weightedUsage(0, 0, w, w).ceilDiv(w))
	assert.EqualValues(t, 3, weightedUsage(3, 0, w, 0).ceilDiv(w))
	// 1 current + 1 previous at 25% weight rounds up to 2
	assert.EqualValues(t, 2, weightedUsage(1, 1, w, w/4).ceilDiv(w))
	assert.Equal(t, ^uint64(0), usage{hi: w}.ceilDiv(w))
}

func TestResult_RetryAfterSeconds(t *testing.T) {
	assert.EqualValues(t, 20, Result{RetryAfter: 20 * time.Second}.RetryAfterSeconds())
	assert.EqualValues(t, 2, Result{RetryAfter: 1500 * time.Millisecond}.RetryAfterSeconds())
	assert.EqualValues(t, 1, Result{Allowed: false}.RetryAfterSeconds())
	assert.EqualValues(t, 0, Result{Allowed: true}.RetryAfterSeconds())
}
