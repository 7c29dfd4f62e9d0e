package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"notifyhook/modules/middleware/problem"
	rl "notifyhook/modules/ratelimit"
)

var (
	ErrUnknownKeyStrategy = errors.New("ratelimit: unknown key strategy")
	ErrDuplicateRule      = errors.New("ratelimit: duplicate method rule on the same pattern")
	ErrBadRule            = errors.New("ratelimit: rule needs a non-negative limit and a positive window")
)

type (
	Pattern string
	method  string

	// KeyFunc extracts the identifier a request is counted under (remote IP, forwarded IP, ...).
	KeyFunc func(*http.Request) rl.Key

	// RouteInfoFunc extracts the route information used for pattern matching.
	RouteInfoFunc func(*http.Request) RouteInfo

	// RouteInfo is the router-agnostic view of a request used by this middleware.
	RouteInfo struct {
		ID     Pattern
		Method string
		Path   string
	}

	Policy struct {
		Limiter rl.RateLimiter
		KeyFn   KeyFunc
	}

	// RuntimePolicy is the compiled form of RestHTTPConfig.
	RuntimePolicy struct {
		policyMap map[Pattern]map[method]Policy

		// A method-specific default takes precedence over the catch-all default.
		defaultPolicyByMethod map[method]Policy
		defaultPolicy         *Policy

		// paths that bypass the limiter entirely, e.g. health probes
		exempt map[string]struct{}

		// Pass requests through when no policy matches the route.
		AllowIfNoMatch bool
		// Pass requests through when the key func yields no identifier.
		AllowIfNoIdentifier bool

		RouteInfoFn RouteInfoFunc
	}
)

type policySource string

const (
	policySourceExplicit      policySource = "explicit"
	policySourceDefaultMethod policySource = "default_method"
	policySourceDefaultAll    policySource = "default"
)

func normalizeMethod(m string) method {
	return method(strings.ToUpper(m))
}

func (p *RuntimePolicy) findPolicy(info RouteInfo) (Policy, bool, policySource) {
	m := normalizeMethod(info.Method)
	if px, ok := p.policyMap[info.ID][m]; ok {
		return px, true, policySourceExplicit
	}
	if px, ok := p.defaultPolicyByMethod[m]; ok && m != "" {
		return px, true, policySourceDefaultMethod
	}
	if p.defaultPolicy != nil {
		return *p.defaultPolicy, true, policySourceDefaultAll
	}
	return Policy{}, false, ""
}

func compileRule(factory rl.LimiterFactory, rule EndpointRule, keyStrategies map[KeyStrategyId]KeyFunc) (Policy, error) {
	if rule.Limit < 0 || rule.Window <= 0 {
		return Policy{}, ErrBadRule
	}
	ks, ok := keyStrategies[rule.KeyStrategy]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownKeyStrategy, rule.KeyStrategy)
	}
	return Policy{
		Limiter: factory(rule.Limit, rule.Window),
		KeyFn:   ks,
	}, nil
}

// ParsePolicy compiles cfg. Route patterns must match what the router
// reports through routeFn.
func ParsePolicy(
	factory rl.LimiterFactory,
	cfg *RestHTTPConfig,
	routeFn RouteInfoFunc,
	keyStrategies map[KeyStrategyId]KeyFunc,
) (*RuntimePolicy, error) {
	rtp := &RuntimePolicy{
		policyMap:           make(map[Pattern]map[method]Policy, len(cfg.Routes)),
		exempt:              make(map[string]struct{}, len(cfg.ExemptPaths)),
		AllowIfNoIdentifier: cfg.AllowIfNoIdentifier,
		AllowIfNoMatch:      cfg.AllowIfNoMatch,
		RouteInfoFn:         routeFn,
	}

	for _, p := range cfg.ExemptPaths {
		rtp.exempt[p] = struct{}{}
	}

	// The default only counts as configured when it can be enforced.
	if cfg.DefaultPolicy.Window > 0 && cfg.DefaultPolicy.KeyStrategy != "" {
		p, err := compileRule(factory, cfg.DefaultPolicy, keyStrategies)
		if err != nil {
			return nil, fmt.Errorf("ratelimit default policy: %w", err)
		}
		if cfg.DefaultPolicy.Method != "" {
			rtp.defaultPolicyByMethod = map[method]Policy{
				normalizeMethod(cfg.DefaultPolicy.Method): p,
			}
		} else {
			rtp.defaultPolicy = &p
		}
	}

	for _, r := range cfg.Routes {
		pat := Pattern(r.Pattern)
		if _, ok := rtp.policyMap[pat]; !ok {
			rtp.policyMap[pat] = make(map[method]Policy, len(r.EndpointRules))
		}

		for _, rule := range r.EndpointRules {
			m := normalizeMethod(rule.Method)
			if _, ok := rtp.policyMap[pat][m]; ok {
				return nil, fmt.Errorf("%w: %s %s", ErrDuplicateRule, m, pat)
			}
			p, err := compileRule(factory, rule, keyStrategies)
			if err != nil {
				return nil, fmt.Errorf("ratelimit route %q: %w", pat, err)
			}
			rtp.policyMap[pat][m] = p
		}
	}
	return rtp, nil
}

func logAttrs(r *http.Request, info RouteInfo) []any {
	return []any{
		slog.String("middleware", "rate_limiter"),
		slog.String("url", r.URL.Path),
		slog.Any("route_info", info),
	}
}

func tooMany(w http.ResponseWriter) {
	problem.Write(w, problem.TooManyRequests(http.StatusText(http.StatusTooManyRequests)))
}

func NewRateLimitMiddleware(p *RuntimePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := p.exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			info := p.RouteInfoFn(r)
			if info.Method == "" {
				slog.ErrorContext(ctx, "no method found", logAttrs(r, info)...)
				problem.Write(w, problem.MethodNotAllowed("method not allowed"))
				return
			}

			px, ok, src := p.findPolicy(info)
			switch {
			case !ok && p.AllowIfNoMatch:
				next.ServeHTTP(w, r)
				return
			case !ok:
				slog.WarnContext(ctx, "no rate limit policy found", logAttrs(r, info)...)
				tooMany(w)
				return
			case src != policySourceExplicit:
				slog.DebugContext(ctx, "using default rate limit policy",
					append(logAttrs(r, info), slog.String("policy_source", string(src)))...)
			}

			var key rl.Key
			if px.KeyFn != nil {
				key = px.KeyFn(r)
			}
			if key == "" {
				if p.AllowIfNoIdentifier {
					next.ServeHTTP(w, r)
					return
				}
				slog.WarnContext(ctx, "no rate limit key", logAttrs(r, info)...)
				tooMany(w)
				return
			}

			result, err := px.Limiter.Allow(ctx, key)
			if err != nil {
				// counter store may be down
				slog.ErrorContext(ctx, "rate limit error", append(logAttrs(r, info), slog.Any("error", err))...)
				problem.Write(w, problem.Internal(http.StatusText(http.StatusInternalServerError)))
				return
			}

			// headers are re-applied right before the response is committed so
			// handlers that reset them cannot drop them
			w = &rateLimitHeaderWriter{ResponseWriter: w, result: result}

			if !result.Allowed {
				slog.DebugContext(ctx, "rate limited", logAttrs(r, info)...)
				w.Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds(), 10))
				tooMany(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitHeaders(w http.ResponseWriter, result rl.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	h.Set("X-RateLimit-Window-Seconds", strconv.FormatInt(int64(result.Window.Seconds()), 10))
	h.Set("X-RateLimit-Reset-Seconds", strconv.FormatInt(int64(result.WindowResetIn.Seconds()), 10))
}

type rateLimitHeaderWriter struct {
	http.ResponseWriter
	result  rl.Result
	ensured bool
}

func (w *rateLimitHeaderWriter) ensure() {
	if w.ensured {
		return
	}
	writeRateLimitHeaders(w.ResponseWriter, w.result)
	w.ensured = true
}

func (w *rateLimitHeaderWriter) WriteHeader(statusCode int) {
	w.ensure()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *rateLimitHeaderWriter) Write(p []byte) (int, error) {
	w.ensure()
	return w.ResponseWriter.Write(p)
}

func (w *rateLimitHeaderWriter) Flush() {
	w.ensure()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *rateLimitHeaderWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RemoteIpKeyFunc keys on the peer address of the connection.
func RemoteIpKeyFunc(r *http.Request) rl.Key {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return rl.Key(r.RemoteAddr)
	}
	return rl.Key(host)
}

// ForwardedForKeyFunc keys on the last X-Forwarded-For hop, the one appended
// by the closest proxy. Only use it behind a proxy that sets the header.
func ForwardedForKeyFunc(r *http.Request) rl.Key {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return RemoteIpKeyFunc(r)
	}
	ips := strings.Split(xff, ",")
	return rl.Key(strings.TrimSpace(ips[len(ips)-1]))
}

// DefaultKeyStrategies maps the configurable KEY_STRATEGY values to key funcs.
func DefaultKeyStrategies() map[KeyStrategyId]KeyFunc {
	return map[KeyStrategyId]KeyFunc{
		RemoteIpKeyStrategy:     RemoteIpKeyFunc,
		ForwardedForKeyStrategy: ForwardedForKeyFunc,
	}
}

// ServeMuxRouteInfo reads the pattern ServeMux matched. Middlewares wrapping
// the mux run before routing, so Pattern is empty there and the path is used.
func ServeMuxRouteInfo(r *http.Request) RouteInfo {
	id := Pattern(r.Pattern)
	if r.Pattern == "" {
		id = Pattern(r.URL.Path)
	}
	return RouteInfo{
		ID:     id,
		Method: r.Method,
		Path:   r.URL.Path,
	}
}
