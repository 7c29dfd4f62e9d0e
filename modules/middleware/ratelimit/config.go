package ratelimit

import (
	"time"
)

type KeyStrategyId string

const (
	RemoteIpKeyStrategy     KeyStrategyId = "remote_ip"
	ForwardedForKeyStrategy KeyStrategyId = "forwarded_for"
)

// The defaults give every route 600 requests a minute per remote IP and
// leave the health probe alone.
type (
	RestHTTPConfig struct {
		Routes              []Route      `envPrefix:"ROUTE_"`
		Enabled             bool         `env:"ENABLED" envDefault:"true"`
		DefaultPolicy       EndpointRule `envPrefix:"DEFAULT_"`
		ExemptPaths         []string     `env:"EXEMPT_PATHS" envSeparator:"," envDefault:"/healthz"`
		AllowIfNoMatch      bool         `env:"ALLOW_IF_NO_MATCH"`
		AllowIfNoIdentifier bool         `env:"ALLOW_IF_NO_ID"`
	}

	Route struct {
		// ServeMux pattern as registered, e.g. "GET /notify" or the bare path
		Pattern       string         `env:"PATTERN"`
		EndpointRules []EndpointRule `envPrefix:"POLICY_"`
	}

	EndpointRule struct {
		Method      string        `env:"METHOD"`
		Limit       int64         `env:"LIMIT" envDefault:"600"`
		Window      time.Duration `env:"WINDOW" envDefault:"1m"`
		KeyStrategy KeyStrategyId `env:"KEY_STRATEGY" envDefault:"remote_ip"`
	}
)
