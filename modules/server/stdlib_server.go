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

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	MAX_TCP_PORT = 1 << 16 // A TCP header uses a 16-bit field for port numbers

	defaultIOTimeout       = 10 * time.Second
	defaultHeaderTimeout   = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	// callbacks carry their payload in the body; headers stay small
	maxHeaderBytes = 64 << 10
)

var ErrBadPort = errors.New("server: port must be within 1..65535")

type (
	Server struct {
		server *http.Server
		mux    *http.ServeMux
		host   string
		port   uint16

		shutdownTimeout time.Duration

		// global middleware chain applied around the mux
		middlewares []func(http.Handler) http.Handler

		// registrable services that mount routes and provide their own middlewares
		services []RegistrableService
	}

	ServerOptions func(*Server)
)

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func WithWriteTimeout(t time.Duration) ServerOptions {
	return func(s *Server) { s.server.WriteTimeout = orDefault(t, defaultIOTimeout) }
}

func WithReadTimeout(t time.Duration) ServerOptions {
	return func(s *Server) { s.server.ReadTimeout = orDefault(t, defaultIOTimeout) }
}

// WithShutdownTimeout bounds how long in-flight callbacks get once Run is cancelled.
func WithShutdownTimeout(t time.Duration) ServerOptions {
	return func(s *Server) { s.shutdownTimeout = orDefault(t, defaultShutdownTimeout) }
}

// WithServices registers a collection of self-contained, registrable services.
func WithServices(svcs ...RegistrableService) ServerOptions {
	return func(s *Server) { s.services = append(s.services, svcs...) }
}

// WithGlobalMiddlewares registers middlewares wrapping the entire mux, in the
// order provided. Service middlewares are appended after them.
func WithGlobalMiddlewares(mw ...func(http.Handler) http.Handler) ServerOptions {
	return func(s *Server) { s.middlewares = append(s.middlewares, mw...) }
}

// Example usage:
//
//	server, _ := New("0.0.0.0", 8080, WithWriteTimeout(10*time.Second))
func New(host string, port int, opts ...ServerOptions) (*Server, error) {
	if host == "" {
		slog.Warn("empty host, binding to all interfaces")
		host = "0.0.0.0"
	}
	if port <= 0 || port >= MAX_TCP_PORT {
		return nil, ErrBadPort
	}

	s := &Server{
		host:            host,
		port:            uint16(port),
		mux:             http.NewServeMux(),
		shutdownTimeout: defaultShutdownTimeout,
		server: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			ReadTimeout:       defaultIOTimeout,
			ReadHeaderTimeout: defaultHeaderTimeout,
			WriteTimeout:      defaultIOTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, svc := range s.services {
		svc.Register(s.mux)
		s.middlewares = append(s.middlewares, svc.Middlewares()...)
		slog.Info("registered service", slog.String("type", fmt.Sprintf("%T", svc)))
	}

	// the first middleware is the outermost
	handler := http.Handler(s.mux)
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		handler = s.middlewares[i](handler)
	}
	s.server.Handler = handler

	return s, nil
}

// Handler returns the composed middleware chain around the mux.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Run listens on Addr and serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then shuts down gracefully.
// Shutdown gets its own deadline since ctx is already done by then.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		slog.InfoContext(ctx, "started server", slog.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "server error", slog.Any("error", err))
		}
		return err
	case <-ctx.Done():
	}

	slog.InfoContext(ctx, "shutting down...", slog.Duration("grace", s.shutdownTimeout))
	sCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(sCtx)
}
