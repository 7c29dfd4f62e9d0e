package appconfig

import (
	"maps"
	"testing"
	"time"

	"notifyhook/modules/urlsign"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func environ(overrides map[string]string) env.Options {
	e := map[string]string{
		"HMAC_SECRET":       "s3cr3t",
		"CALLBACK_BASE_URL": "https://app.test/notify",
	}
	maps.Copy(e, overrides)
	return env.Options{Environment: e}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(environ(nil))
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.HMAC.Secret)
	assert.Equal(t, "https://app.test/notify", cfg.Callback.BaseURL)
	assert.Equal(t, "/notify", cfg.Callback.Path())
	assert.False(t, cfg.Callback.DelegatedVerification)
	assert.Zero(t, cfg.Callback.URLTTL)
	assert.Zero(t, cfg.Callback.ReplayTTL)
	assert.Equal(t, 1024, cfg.Callback.QueueSize)
	assert.Equal(t, 4, cfg.Callback.Workers)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "notifyhook", cfg.Otel.ServiceName)
}

func TestLoad_Callback(t *testing.T) {
	cfg, err := load(environ(map[string]string{
		"CALLBACK_BASE_URL":               "https://app.test/hooks/in?",
		"CALLBACK_DELEGATED_VERIFICATION": "true",
		"CALLBACK_URL_TTL":                "24h",
		"CALLBACK_PROVIDERS":              "google_play,app_store",
		"CALLBACK_REPLAY_TTL":             "10m",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://app.test/hooks/in", cfg.Callback.BaseURL)
	assert.Equal(t, "/hooks/in", cfg.Callback.Path())
	assert.True(t, cfg.Callback.DelegatedVerification)
	assert.Equal(t, 24*time.Hour, cfg.Callback.URLTTL)
	assert.Equal(t, []string{"google_play", "app_store"}, cfg.Callback.Providers)
	assert.Equal(t, 10*time.Minute, cfg.Callback.ReplayTTL)
}

func TestLoad_RootBaseURL(t *testing.T) {
	cfg, err := load(environ(map[string]string{"CALLBACK_BASE_URL": "https://app.test"}))
	require.NoError(t, err)

	assert.Equal(t, "https://app.test/", cfg.Callback.BaseURL)
	assert.Equal(t, "/", cfg.Callback.Path())
}

func TestLoad_RequiredValues(t *testing.T) {
	_, err := load(env.Options{Environment: map[string]string{"CALLBACK_BASE_URL": "https://app.test/notify"}})
	require.Error(t, err)

	_, err = load(env.Options{Environment: map[string]string{"HMAC_SECRET": "s3cr3t"}})
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		want error
	}{
		"relative base url": {map[string]string{"CALLBACK_BASE_URL": "/notify"}, urlsign.ErrInvalidBaseURL},
		"fragment":          {map[string]string{"CALLBACK_BASE_URL": "https://app.test/notify#x"}, urlsign.ErrInvalidBaseURL},
		"health path":       {map[string]string{"CALLBACK_BASE_URL": "https://app.test/healthz"}, ErrReservedPath},
		"negative ttl":      {map[string]string{"CALLBACK_URL_TTL": "-1s"}, ErrNegativeDuration},
		"no workers":        {map[string]string{"CALLBACK_WORKERS": "0"}, ErrQueueSizing},
		"no queue":          {map[string]string{"CALLBACK_QUEUE_SIZE": "0"}, ErrQueueSizing},
		"replay w/o redis":  {map[string]string{"CALLBACK_REPLAY_TTL": "1m", "REDIS_ENABLED": "false"}, ErrReplayNeedsRedis},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(environ(tc.env))
			require.ErrorIs(t, err, tc.want)
		})
	}
}
