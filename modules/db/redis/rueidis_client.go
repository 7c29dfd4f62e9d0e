// Copyright 2025 Nhat-Nguyen Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/rueidishook"
	"github.com/redis/rueidis/rueidisotel"
)

const pingTimeout = 5 * time.Second

var (
	ErrEmptyURL     = errors.New("rueidis: URL must not be empty")
	ErrPlaintextTLS = errors.New("rueidis: TLS required but URL uses redis:// (plaintext); use rediss://")
)

// NewRueidisClient connects to the Redis behind cfg, optionally wrapped with
// OpenTelemetry and the slow command hook, and PINGs it so that a bad address
// fails at startup instead of on the first callback.
func NewRueidisClient(ctx context.Context, cfg RedisConfig) (rueidis.Client, error) {
	clientOpt, err := buildClientOption(cfg)
	if err != nil {
		return nil, err
	}

	var cli rueidis.Client
	if cfg.EnableOtel {
		cli, err = rueidisotel.NewClient(clientOpt)
	} else {
		cli, err = rueidis.NewClient(clientOpt)
	}
	if err != nil {
		return nil, fmt.Errorf("rueidis: connect: %w", err)
	}

	if cfg.SlowThreshold > 0 {
		cli = rueidishook.WithHook(cli, newSlowCommandHook(cfg.SlowThreshold))
	}

	if err := Ping(ctx, cli); err != nil {
		cli.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "rueidis: connected",
		slog.String("mode", string(cli.Mode())),
		slog.String("client_name", cfg.ClientName),
	)
	return cli, nil
}

// Ping round-trips a PING bounded by a short timeout.
func Ping(ctx context.Context, cli rueidis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := cli.Do(ctx, cli.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("rueidis: ping: %w", err)
	}
	return nil
}

// buildClientOption validates cfg against the URL scheme and maps it onto rueidis options.
func buildClientOption(cfg RedisConfig) (rueidis.ClientOption, error) {
	if cfg.URL == "" {
		return rueidis.ClientOption{}, ErrEmptyURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return rueidis.ClientOption{}, fmt.Errorf("rueidis: parse url: %w", err)
	}

	plaintext := u.Scheme == "redis"
	elastiCache := cfg.AutoDetectAWS && strings.HasSuffix(u.Hostname(), ".cache.amazonaws.com")

	switch {
	case plaintext && (cfg.RequireTLS || elastiCache):
		return rueidis.ClientOption{}, ErrPlaintextTLS
	case plaintext && cfg.SkipTLSVerify:
		slog.Warn("rueidis: SkipTLSVerify has no effect on a redis:// URL", slog.String("host", u.Hostname()))
	}

	if cfg.DisableCache && len(cfg.ClientTrackingPrefixes) > 0 {
		slog.Warn("rueidis: client tracking enabled with the client cache disabled")
	}

	opt, err := rueidis.ParseURL(cfg.URL)
	if err != nil {
		return rueidis.ClientOption{}, fmt.Errorf("rueidis: parse url: %w", err)
	}

	opt.ClientName = cfg.ClientName
	opt.DisableRetry = cfg.DisableRetry
	opt.DisableCache = cfg.DisableCache
	opt.AlwaysPipelining = cfg.AlwaysPipelining
	if cfg.RingScaleEachConn > 0 {
		opt.RingScaleEachConn = cfg.RingScaleEachConn
	}
	if cfg.CacheSizeEachConn > 0 {
		opt.CacheSizeEachConn = cfg.CacheSizeEachConn
	}
	if cfg.ConnWriteTimeout > 0 {
		opt.ConnWriteTimeout = cfg.ConnWriteTimeout
	}

	if cfg.SkipTLSVerify || elastiCache {
		tc := &tls.Config{}
		if opt.TLSConfig != nil {
			tc = opt.TLSConfig.Clone()
		}
		tc.InsecureSkipVerify = true //nolint:gosec
		opt.TLSConfig = tc
	}

	opt.ClientTrackingOptions = trackingOptions(cfg.ClientTrackingPrefixes)
	return opt, nil
}

// trackingOptions builds CLIENT TRACKING arguments. BCAST + OPTIN means
// only DoCache() calls are cached.
func trackingOptions(prefixes []string) []string {
	var out []string
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, "PREFIX", p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return append(out, "BCAST", "OPTIN")
}
