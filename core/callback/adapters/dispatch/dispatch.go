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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notifyhook/core/callback/domain"
	"notifyhook/modules/clock"
	"notifyhook/modules/telemetry"
	"notifyhook/worker"
)

var _ domain.NotificationSink = (*Dispatcher)(nil)

var (
	ErrBadQueueSize = errors.New("dispatch: queue size must be positive")
	ErrHandlerPanic = errors.New("dispatch: handler panicked")
)

type (
	// Handler processes one verified notification. Returning an error only
	// logs it: the platform already got its 202.
	Handler interface {
		Handle(ctx context.Context, n domain.Notification) error
	}

	HandlerFunc func(ctx context.Context, n domain.Notification) error

	// Dispatcher is a bounded in-memory queue drained by a worker pool.
	// Accept never blocks: a full queue is reported so the HTTP layer can ask
	// the platform to retry later.
	Dispatcher struct {
		queue   chan domain.Notification
		workers int

		handlers map[domain.ProviderID]Handler
		fallback Handler
		timeout  time.Duration

		metrics *telemetry.CallbackMetrics
		clock   clock.Clock

		mu     sync.RWMutex
		closed bool
	}

	Option func(*Dispatcher)
)

func (f HandlerFunc) Handle(ctx context.Context, n domain.Notification) error { return f(ctx, n) }

// WithHandler routes notifications of provider to h.
func WithHandler(provider domain.ProviderID, h Handler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.handlers[provider] = h
		}
	}
}

// WithFallback handles providers without a dedicated handler.
// Defaults to LogHandler.
func WithFallback(h Handler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.fallback = h
		}
	}
}

// WithHandlerTimeout bounds each Handle call. Zero means no timeout.
func WithHandlerTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = max(t, 0) }
}

func WithMetrics(m *telemetry.CallbackMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

func NewDispatcher(queueSize, workers int, opts ...Option) (*Dispatcher, error) {
	if queueSize <= 0 {
		return nil, ErrBadQueueSize
	}
	d := &Dispatcher{
		queue:    make(chan domain.Notification, queueSize),
		workers:  max(workers, 1),
		handlers: make(map[domain.ProviderID]Handler),
		fallback: LogHandler(),
		clock:    clock.RealClockProvider(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Accept implements domain.NotificationSink.
func (d *Dispatcher) Accept(ctx context.Context, n domain.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return domain.ErrQueueClosed
	}
	select {
	case d.queue <- n:
		d.metrics.RecordDispatch(ctx, n.Provider.String(), "queued", 0)
		return nil
	default:
		d.metrics.RecordDispatch(ctx, n.Provider.String(), "rejected", 0)
		return domain.ErrQueueFull
	}
}

// Run drains the queue until Close has been called and every queued
// notification is handled, or until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	worker.BlockingPool(ctx, d.workers, d.queue, d.handle)
}

// Close stops accepting notifications. Already queued ones are still handled by Run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Len is the number of queued notifications.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

func (d *Dispatcher) handlerFor(p domain.ProviderID) Handler {
	if h, ok := d.handlers[p]; ok {
		return h
	}
	return d.fallback
}

func (d *Dispatcher) handle(ctx context.Context, n domain.Notification) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := d.clock.Now()
	err := safeHandle(ctx, d.handlerFor(n.Provider), n)
	elapsed := d.clock.Now().Sub(start)

	if err != nil {
		slog.ErrorContext(ctx, "notification handler failed",
			slog.String("id", n.ID.String()),
			slog.String("provider", n.Provider.String()),
			slog.Any("error", err),
		)
		d.metrics.RecordDispatch(ctx, n.Provider.String(), "failed", elapsed)
		return
	}
	d.metrics.RecordDispatch(ctx, n.Provider.String(), "handled", elapsed)
}

// safeHandle keeps a panicking handler from taking its pool worker down.
func safeHandle(ctx context.Context, h Handler, n domain.Notification) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return h.Handle(ctx, n)
}

// LogHandler logs the notification metadata. The body is not logged.
func LogHandler() Handler {
	return HandlerFunc(func(ctx context.Context, n domain.Notification) error {
		slog.InfoContext(ctx, "notification received",
			slog.String("id", n.ID.String()),
			slog.String("provider", n.Provider.String()),
			slog.String("method", n.Method),
			slog.Int("body_bytes", len(n.Body)),
			slog.Time("received_at", n.ReceivedAt),
		)
		return nil
	})
}
