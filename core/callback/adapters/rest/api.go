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

package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"notifyhook/core/callback/domain"
	"notifyhook/modules/clock"
	"notifyhook/modules/telemetry"

	"github.com/gofrs/uuid/v5"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultRetryAfter   = 5 * time.Second
	HealthPath          = "/healthz"
)

var (
	ErrMissingApp  = errors.New("callback http: application must not be nil")
	ErrMissingSink = errors.New("callback http: notification sink must not be nil")
	ErrBadPath     = errors.New("callback http: path must start with '/' and must not be " + HealthPath)
)

type (
	// CallbackAPI is the REST adapter receiving platform callbacks. It
	// verifies the signature, suppresses replays and hands the notification
	// to a sink.
	CallbackAPI struct {
		app     *domain.Application
		sink    domain.NotificationSink
		replay  domain.ReplayGuard
		metrics *telemetry.CallbackMetrics
		clock   clock.Clock
		newID   func() (uuid.UUID, error)

		path       string
		trustProxy bool
		providers  map[domain.ProviderID]struct{}
		maxBody    int64
		retryAfter time.Duration
	}

	Option func(*CallbackAPI)
)

// WithReplayGuard enables duplicate suppression.
func WithReplayGuard(g domain.ReplayGuard) Option {
	return func(a *CallbackAPI) { a.replay = g }
}

func WithMetrics(m *telemetry.CallbackMetrics) Option {
	return func(a *CallbackAPI) { a.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(a *CallbackAPI) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithTrustProxyHeaders rebuilds the request URL from X-Forwarded-Proto and
// X-Forwarded-Host. Only enable it behind a proxy that overwrites them.
func WithTrustProxyHeaders(trust bool) Option {
	return func(a *CallbackAPI) { a.trustProxy = trust }
}

// WithProviders restricts accepted providers. An empty list accepts any.
func WithProviders(providers ...string) Option {
	return func(a *CallbackAPI) {
		for _, p := range providers {
			if p = strings.TrimSpace(p); p != "" {
				a.providers[domain.ProviderID(p)] = struct{}{}
			}
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *CallbackAPI) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithRetryAfter is the hint sent with 503 when the queue is full.
func WithRetryAfter(d time.Duration) Option {
	return func(a *CallbackAPI) { a.retryAfter = d }
}

// NewCallbackAPI creates the adapter for callbacks arriving at path.
func NewCallbackAPI(app *domain.Application, sink domain.NotificationSink, path string, opts ...Option) (*CallbackAPI, error) {
	if app == nil {
		return nil, ErrMissingApp
	}
	if sink == nil {
		return nil, ErrMissingSink
	}
	if !strings.HasPrefix(path, "/") || path == HealthPath {
		return nil, ErrBadPath
	}

	a := &CallbackAPI{
		app:        app,
		sink:       sink,
		clock:      clock.RealClockProvider(),
		newID:      uuid.NewV7,
		path:       path,
		providers:  make(map[domain.ProviderID]struct{}),
		maxBody:    DefaultMaxBodyBytes,
		retryAfter: DefaultRetryAfter,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Path is where the callback handler is mounted.
func (a *CallbackAPI) Path() string { return a.path }

// Routes mounts the callback and health endpoints.
func (a *CallbackAPI) Routes(mux *http.ServeMux) {
	pattern := a.path
	if strings.HasSuffix(pattern, "/") {
		// "/" alone would match every path
		pattern += "{$}"
	}
	mux.HandleFunc(http.MethodGet+" "+pattern, a.Receive)
	mux.HandleFunc(http.MethodPost+" "+pattern, a.Receive)
	mux.HandleFunc(http.MethodGet+" "+HealthPath, a.Healthz)
}

func (a *CallbackAPI) knownProvider(p domain.ProviderID) bool {
	if len(a.providers) == 0 {
		return true
	}
	_, ok := a.providers[p]
	return ok
}
