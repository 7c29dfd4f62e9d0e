// Copyright 2025 Nhat-Nguyen Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"sync"
	"time"

	"notifyhook/modules/clock"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*TokenBucketRateLimiter)(nil)

// maxIdleBuckets bounds the per-key map before full buckets are swept.
const maxIdleBuckets = 10_000

// TokenBucketRateLimiter is the single-process fallback used when no shared
// counter store is available. "limit per window" becomes a bucket of size
// limit refilled at limit/window tokens per second.
//
// Counts are per replica; with N replicas the effective limit is N*limit.
type TokenBucketRateLimiter struct {
	clock  clock.Clock
	limit  int64
	window time.Duration
	every  rate.Limit

	mu      sync.Mutex
	buckets map[Key]*rate.Limiter
}

func TokenBucketFactory(clk clock.Clock) LimiterFactory {
	return func(l int64, w time.Duration) RateLimiter {
		return NewTokenBucketRateLimiter(clk, l, w)
	}
}

func NewTokenBucketRateLimiter(clk clock.Clock, limit int64, window time.Duration) *TokenBucketRateLimiter {
	if clk == nil {
		clk = clock.RealClockProvider()
	}
	every := rate.Limit(0)
	if window > 0 {
		every = rate.Limit(float64(limit) / window.Seconds())
	}
	return &TokenBucketRateLimiter{
		clock:   clk,
		limit:   limit,
		window:  window,
		every:   every,
		buckets: make(map[Key]*rate.Limiter),
	}
}

func (t *TokenBucketRateLimiter) bucket(key Key, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.buckets[key]; ok {
		return b
	}
	if len(t.buckets) >= maxIdleBuckets {
		// a full bucket behaves exactly like a fresh one, so dropping it is lossless
		for k, b := range t.buckets {
			if b.TokensAt(now) >= float64(t.limit) {
				delete(t.buckets, k)
			}
		}
	}
	b := rate.NewLimiter(t.every, int(t.limit))
	t.buckets[key] = b
	return b
}

// Allow implements RateLimiter.
func (t *TokenBucketRateLimiter) Allow(_ context.Context, key Key) (Result, error) {
	now := t.clock.Now()
	b := t.bucket(key, now)

	result := Result{
		Limit:  t.limit,
		Window: t.window,
	}

	res := b.ReserveN(now, 1)
	if !res.OK() {
		// limit <= 0: nothing is ever allowed
		result.RetryAfter = t.window
		result.WindowResetIn = t.window
		return result, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		result.RetryAfter = delay
		result.WindowResetIn = t.refillIn(b, now)
		return result, nil
	}

	result.Allowed = true
	result.Remaining = max(int64(b.TokensAt(now)), 0)
	result.WindowResetIn = t.refillIn(b, now)
	return result, nil
}

// refillIn is the time until the bucket holds limit tokens again.
func (t *TokenBucketRateLimiter) refillIn(b *rate.Limiter, now time.Time) time.Duration {
	if t.every <= 0 {
		return t.window
	}
	missing := float64(t.limit) - b.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(t.every) * float64(time.Second))
}
