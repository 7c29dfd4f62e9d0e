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

// Package counter keeps expiring integer counters in Redis. The rate limiter
// counts requests per window in it and the replay guard counts sightings of a
// callback.
package counter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"notifyhook/modules/ratelimit"

	"github.com/redis/rueidis"
)

var (
	_ ratelimit.CounterStore = (*RedisCounter)(nil)

	//go:embed incr_expr.lua
	incrExpireLua string

	// KEYS[1] counter key, ARGV[1] TTL in ms applied when INCR creates the key
	incrExpire = rueidis.NewLuaScript(incrExpireLua)
)

var ErrNonPositiveTTL = errors.New("redis counter: ttl must be at least 1ms")

type RedisCounter struct {
	client rueidis.Client
	prefix string
}

// NewRedisCounterStore keeps counters under prefix, which gets a trailing ':'
// when missing. An empty prefix leaves keys as given.
func NewRedisCounterStore(client rueidis.Client, prefix string) *RedisCounter {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

func (r *RedisCounter) key(k string) string {
	return r.prefix + k
}

// Get returns the counter at key, 0 when it does not exist.
func (r *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Do(ctx, r.client.B().Get().Key(r.key(key)).Build()).AsInt64()
	switch {
	case rueidis.IsRedisNil(err):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("redis counter Get: %w", err)
	}
	return n, nil
}

// Incr adds one to the counter at key. The TTL only applies when the
// increment creates the key, so a window never extends itself.
func (r *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return 0, ErrNonPositiveTTL
	}

	// EVALSHA first, rueidis falls back to EVAL on NOSCRIPT
	n, err := incrExpire.Exec(ctx, r.client, []string{r.key(key)}, []string{strconv.FormatInt(ms, 10)}).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redis counter Incr: %w", err)
	}
	return n, nil
}

// Delete removes the counter at key. Deleting a missing key is not an error.
func (r *RedisCounter) Delete(ctx context.Context, key string) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(r.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("redis counter Delete: %w", err)
	}
	return nil
}
