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

package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/rueidishook"
)

var _ rueidishook.Hook = (*slowCommandHook)(nil)

// slowCommandHook logs the command name (never keys or arguments) of
// anything slower than threshold.
type slowCommandHook struct {
	threshold time.Duration
	now       func() time.Time
}

func newSlowCommandHook(threshold time.Duration) *slowCommandHook {
	return &slowCommandHook{threshold: threshold, now: time.Now}
}

func (h *slowCommandHook) observe(ctx context.Context, start time.Time, name string, batch int) {
	elapsed := h.now().Sub(start)
	if elapsed < h.threshold {
		return
	}
	slog.WarnContext(ctx, "slow redis command",
		slog.String("command", name),
		slog.Int("batch", batch),
		slog.Duration("elapsed", elapsed),
		slog.Duration("threshold", h.threshold),
	)
}

func commandName(cmds []string) string {
	if len(cmds) == 0 {
		return ""
	}
	return cmds[0]
}

func (h *slowCommandHook) Do(client rueidis.Client, ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	start := h.now()
	resp := client.Do(ctx, cmd)
	h.observe(ctx, start, commandName(cmd.Commands()), 1)
	return resp
}

func (h *slowCommandHook) DoMulti(client rueidis.Client, ctx context.Context, multi ...rueidis.Completed) []rueidis.RedisResult {
	start := h.now()
	resps := client.DoMulti(ctx, multi...)
	name := ""
	if len(multi) > 0 {
		name = commandName(multi[0].Commands())
	}
	h.observe(ctx, start, name, len(multi))
	return resps
}

func (h *slowCommandHook) DoCache(client rueidis.Client, ctx context.Context, cmd rueidis.Cacheable, ttl time.Duration) rueidis.RedisResult {
	start := h.now()
	resp := client.DoCache(ctx, cmd, ttl)
	h.observe(ctx, start, commandName(cmd.Commands()), 1)
	return resp
}

func (h *slowCommandHook) DoMultiCache(client rueidis.Client, ctx context.Context, multi ...rueidis.CacheableTTL) []rueidis.RedisResult {
	start := h.now()
	resps := client.DoMultiCache(ctx, multi...)
	name := ""
	if len(multi) > 0 {
		name = commandName(multi[0].Cmd.Commands())
	}
	h.observe(ctx, start, name, len(multi))
	return resps
}

// Receive blocks for the lifetime of a subscription, so it is not timed.
func (h *slowCommandHook) Receive(client rueidis.Client, ctx context.Context, subscribe rueidis.Completed, fn func(msg rueidis.PubSubMessage)) error {
	return client.Receive(ctx, subscribe, fn)
}

func (h *slowCommandHook) DoStream(client rueidis.Client, ctx context.Context, cmd rueidis.Completed) rueidis.RedisResultStream {
	return client.DoStream(ctx, cmd)
}

func (h *slowCommandHook) DoMultiStream(client rueidis.Client, ctx context.Context, multi ...rueidis.Completed) rueidis.MultiRedisResultStream {
	return client.DoMultiStream(ctx, multi...)
}
