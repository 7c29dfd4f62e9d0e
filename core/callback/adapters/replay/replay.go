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

// Package replay suppresses notifications that arrive more than once inside
// a time window. Platforms retry on timeouts, so the same signed request can
// legitimately be delivered twice.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"notifyhook/core/callback/domain"
)

var _ domain.ReplayGuard = (*Guard)(nil)

var (
	ErrMissingCounter = errors.New("replay: counter store must not be nil")
	ErrNonPositiveTTL = errors.New("replay: ttl must be positive")
)

// Counter is the subset of the redis counter store the guard needs.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Guard counts sightings of (provider, query, body) in a Counter.
// The first sighting opens the window; later ones inside it are duplicates.
type Guard struct {
	counter Counter
	ttl     time.Duration
}

func NewGuard(counter Counter, ttl time.Duration) (*Guard, error) {
	if counter == nil {
		return nil, ErrMissingCounter
	}
	if ttl <= 0 {
		return nil, ErrNonPositiveTTL
	}
	return &Guard{counter: counter, ttl: ttl}, nil
}

// Key is "replay:<escaped provider>:<hex digest>". The digest covers the
// length-prefixed raw query followed by the body.
func Key(provider domain.ProviderID, rawQuery string, body []byte) string {
	h := sha256.New()
	h.Write(binary.BigEndian.AppendUint64(nil, uint64(len(rawQuery))))
	h.Write([]byte(rawQuery))
	h.Write(body)
	return "replay:" + url.QueryEscape(provider.String()) + ":" + hex.EncodeToString(h.Sum(nil))
}

// Check returns domain.ErrDuplicate for a repeat sighting.
func (g *Guard) Check(ctx context.Context, provider domain.ProviderID, rawQuery string, body []byte) error {
	n, err := g.counter.Incr(ctx, Key(provider, rawQuery, body), g.ttl)
	if err != nil {
		return fmt.Errorf("replay: check: %w", err)
	}
	if n > 1 {
		return domain.ErrDuplicate
	}
	return nil
}

// Forget drops the sighting so the next delivery counts as the first.
func (g *Guard) Forget(ctx context.Context, provider domain.ProviderID, rawQuery string, body []byte) error {
	if err := g.counter.Delete(ctx, Key(provider, rawQuery, body)); err != nil {
		return fmt.Errorf("replay: forget: %w", err)
	}
	return nil
}
