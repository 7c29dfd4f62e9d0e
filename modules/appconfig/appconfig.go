package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"notifyhook/modules/db/redis"
	"notifyhook/modules/hmac"
	"notifyhook/modules/middleware/ratelimit"
	"notifyhook/modules/server"
	"notifyhook/modules/telemetry"
	"notifyhook/modules/urlsign"

	"github.com/caarlos0/env/v11"
)

var (
	ErrNegativeDuration = errors.New("appconfig: durations must not be negative")
	ErrQueueSizing      = errors.New("appconfig: callback queue size and workers must be positive")
	ErrReservedPath     = errors.New("appconfig: callback path collides with the health endpoint")
	ErrReplayNeedsRedis = errors.New("appconfig: CALLBACK_REPLAY_TTL requires REDIS_ENABLED")
)

type Config struct {
	// TODO: on 12-factor apps on env
	Env string `env:"ENV" envDefault:"dev"`

	// --- core ----
	HMAC     hmac.HMACConfig `envPrefix:"HMAC_"`
	Callback CallbackConfig  `envPrefix:"CALLBACK_"`
	HTTP     server.Config   `envPrefix:"HTTP_"`

	// --- core infra ----
	Redis redis.RedisConfig `envPrefix:"REDIS_"`

	// --- middlewares ----
	RateLimit ratelimit.RestHTTPConfig `envPrefix:"RATE_LIMIT_"`

	// --- otel ----
	// since it has special naming conventions, we do not use prefix here
	Otel telemetry.Config
}

type CallbackConfig struct {
	// Absolute URL the platforms call, e.g. https://app.test/notify
	BaseURL string `env:"BASE_URL,notEmpty"`

	// Verify through the URL layer instead of recomputing the digest here.
	// Both give the same answer; the flag exists for parity with older deployments.
	DelegatedVerification bool `env:"DELEGATED_VERIFICATION"`

	// Signed URLs carry an expiry when > 0.
	URLTTL time.Duration `env:"URL_TTL"`

	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS"`

	// Accepted provider ids; empty accepts any. Also bounds metric labels.
	Providers []string `env:"PROVIDERS" envSeparator:","`

	// Duplicate suppression window; 0 disables it.
	ReplayTTL time.Duration `env:"REPLAY_TTL"`

	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"1024"`
	Workers        int           `env:"WORKERS" envDefault:"4"`
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	RetryAfter     time.Duration `env:"RETRY_AFTER" envDefault:"5s"`
}

// Path is the path component of BaseURL. Only valid after Load.
func (c CallbackConfig) Path() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(c *Config) error {
	base, err := urlsign.NormalizeBaseURL(c.Callback.BaseURL)
	if err != nil {
		return fmt.Errorf("appconfig: CALLBACK_BASE_URL: %w", err)
	}
	c.Callback.BaseURL = base

	if c.Callback.Path() == "/healthz" {
		return ErrReservedPath
	}
	if c.Callback.URLTTL < 0 || c.Callback.ReplayTTL < 0 || c.Callback.HandlerTimeout < 0 || c.Callback.RetryAfter < 0 {
		return ErrNegativeDuration
	}
	if c.Callback.QueueSize <= 0 || c.Callback.Workers <= 0 {
		return ErrQueueSizing
	}
	if c.Callback.ReplayTTL > 0 && !c.Redis.Enabled {
		return ErrReplayNeedsRedis
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port >= server.MAX_TCP_PORT {
		return server.ErrBadPort
	}
	return nil
}
