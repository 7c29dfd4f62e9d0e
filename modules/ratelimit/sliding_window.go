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
	"math/bits"
	"strconv"
	"time"

	"notifyhook/modules/clock"
)

var _ RateLimiter = (*SlidingWindowRateLimiter)(nil)

// SlidingWindowRateLimiter approximates a sliding window with two adjacent
// fixed windows kept in a CounterStore: the previous window's count is
// weighted by how much of it still overlaps the sliding window.
//
// Every call is counted, including denied ones.
type SlidingWindowRateLimiter struct {
	clock     clock.Clock
	counter   CounterStore
	keyPrefix string

	limit  uint64
	window time.Duration
}

func SlidingWindowFactory(clk clock.Clock, counter CounterStore, keyPrefix string) LimiterFactory {
	if clk == nil {
		clk = clock.RealClockProvider()
	}
	return func(l int64, w time.Duration) RateLimiter {
		return &SlidingWindowRateLimiter{
			clock:     clk,
			counter:   counter,
			keyPrefix: keyPrefix,
			limit:     uint64(max(l, 0)),
			window:    w,
		}
	}
}

// Allow implements RateLimiter.
func (s *SlidingWindowRateLimiter) Allow(ctx context.Context, key Key) (Result, error) {
	if s.window <= 0 {
		return Result{}, ErrInvalidWindow
	}

	nowNs := s.clock.Now().UnixNano()
	windowNs := s.window.Nanoseconds()
	idx := nowNs / windowNs

	cur, err := s.counter.Incr(ctx, s.buildKey(key, idx), 2*s.window)
	if err != nil {
		return Result{}, err
	}
	prev, err := s.counter.Get(ctx, s.buildKey(key, idx-1))
	if err != nil {
		return Result{}, err
	}

	elapsedNs := min(max(nowNs-idx*windowNs, 0), windowNs)
	resetIn := s.window - time.Duration(elapsedNs)

	u := weightedUsage(uint64(max(cur, 0)), uint64(max(prev, 0)), uint64(windowNs), uint64(windowNs-elapsedNs))
	allowed := !u.exceeds(s.limit, uint64(windowNs))

	var remaining uint64
	if used := u.ceilDiv(uint64(windowNs)); used < s.limit {
		remaining = s.limit - used
	}

	res := Result{
		Allowed:       allowed,
		Remaining:     int64(remaining),
		Limit:         int64(s.limit),
		Window:        s.window,
		WindowResetIn: resetIn,
	}
	if !allowed {
		res.RetryAfter = resetIn
	}
	return res, nil
}

// usage is cur*window + prev*prevWeight as a 128-bit integer, so comparing
// against limit*window needs no floating point and cannot overflow.
type usage struct{ hi, lo uint64 }

func weightedUsage(cur, prev, windowNs, prevWeightNs uint64) usage {
	curHi, curLo := bits.Mul64(cur, windowNs)
	prevHi, prevLo := bits.Mul64(prev, prevWeightNs)
	lo, carry := bits.Add64(curLo, prevLo, 0)
	hi, _ := bits.Add64(curHi, prevHi, carry)
	return usage{hi: hi, lo: lo}
}

func (u usage) exceeds(limit, windowNs uint64) bool {
	hi, lo := bits.Mul64(limit, windowNs)
	return u.hi > hi || (u.hi == hi && u.lo > lo)
}

// ceilDiv returns ceil(u / d) in requests, saturating at MaxUint64.
func (u usage) ceilDiv(d uint64) uint64 {
	if u.hi >= d {
		return ^uint64(0)
	}
	q, r := bits.Div64(u.hi, u.lo, d)
	if r != 0 && q != ^uint64(0) {
		q++
	}
	return q
}

func (s *SlidingWindowRateLimiter) buildKey(key Key, windowIdx int64) string {
	return s.keyPrefix + ":" + string(key) + ":" + strconv.FormatInt(windowIdx, 10)
}
