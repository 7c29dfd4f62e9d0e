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
	"errors"
	"time"
)

var ErrInvalidWindow = errors.New("ratelimit: window must be positive")

type (
	LimiterFactory func(limit int64, window time.Duration) RateLimiter

	// RateLimiter enforces time-based rate limits, e.g. "600 callbacks per minute".
	// It is not meant for count-based "last N events" windows.
	RateLimiter interface {
		// Allow determines if the outcome for the provided Key will be allowed or rate-limited.
		Allow(ctx context.Context, key Key) (Result, error)
	}

	// CounterStore is the shared storage the distributed limiters count in.
	CounterStore interface {
		// Incr increments the counter at key and returns the new value.
		// The store keeps the key alive for at least ttl.
		Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

		// Get returns the current value of a counter, or 0 if missing.
		Get(ctx context.Context, key string) (int64, error)
	}

	// Key identifies who is being limited (remote IP, forwarded IP, ...).
	// Callers pick the format.
	Key string

	// Result represents the outcome of a rate limit decision.
	Result struct {
		Allowed       bool
		Remaining     int64         // how many requests left in current window
		RetryAfter    time.Duration // if not allowed, when client may retry
		Limit         int64         // max allowed in window
		Window        time.Duration // configured window size
		WindowResetIn time.Duration // time until current window ends
	}
)

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, as used by the
// Retry-After header. A denied result never yields 0.
func (r Result) RetryAfterSeconds() int64 {
	s := int64((r.RetryAfter + time.Second - 1) / time.Second)
	if !r.Allowed && s < 1 {
		return 1
	}
	return s
}
