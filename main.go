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

package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifyhook/modules/appconfig"
	"notifyhook/modules/clock"
	"notifyhook/modules/db/redis"
	"notifyhook/modules/db/redis/counter"
	hmac_sign "notifyhook/modules/hmac"
	"notifyhook/modules/middleware"
	"notifyhook/modules/middleware/ratelimit"
	rl "notifyhook/modules/ratelimit"
	"notifyhook/modules/server"
	"notifyhook/modules/services"
	"notifyhook/modules/telemetry"
	"notifyhook/modules/urlsign"

	"notifyhook/core/callback/adapters/dispatch"
	"notifyhook/core/callback/adapters/replay"
	callback_http "notifyhook/core/callback/adapters/rest"
	"notifyhook/core/callback/domain"
)

// OpenAPI specs for request validation at runtime
//
//go:embed modules/oapi/*.yaml
var validationSpecFS embed.FS

const (
	callbackSpecPath = "modules/oapi/openapi-callback.yaml"
	drainTimeout     = 15 * time.Second
)

func main() {
	printURL := flag.String("print-url", "", "print the callback URL for `provider` and exit")
	unsigned := flag.Bool("unsigned", false, "with -print-url, print the URL without a signature")
	flag.Parse()

	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// cancel the context when these signals occur
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	// manual dependency injections, imo there's no need to over-engineer with DI frameworks like Fx or Wire
	slog.SetLogLoggerLevel(slog.LevelDebug)

	clk := clock.RealClockProvider()

	// --- application config ----
	appConfig, err := appconfig.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", slog.Any("error", err))
		exitCode = 1
		return
	}

	// --- core ----
	signer, err := hmac_sign.NewHMACSigner([]byte(appConfig.HMAC.Secret))
	if err != nil {
		slog.ErrorContext(ctx, "hmac signer setup error", slog.Any("error", err))
		exitCode = 1
		return
	}

	routes, err := urlsign.New(appConfig.Callback.BaseURL, signer, clk)
	if err != nil {
		slog.ErrorContext(ctx, "callback url setup error", slog.Any("error", err))
		exitCode = 1
		return
	}

	builder, err := domain.NewURLBuilder(routes, appConfig.Callback.URLTTL)
	if err != nil {
		slog.ErrorContext(ctx, "url builder setup error", slog.Any("error", err))
		exitCode = 1
		return
	}

	mode := domain.ModeFromFlag(appConfig.Callback.DelegatedVerification)
	verifier, err := domain.NewVerifier(domain.VerifierOptions{
		Mode:     mode,
		Signer:   signer,
		Delegate: routes,
		Clock:    clk,
	})
	if err != nil {
		slog.ErrorContext(ctx, "verifier setup error", slog.Any("error", err))
		exitCode = 1
		return
	}

	app := domain.NewApp(builder, verifier, mode)

	if *printURL != "" {
		printCallbackURL(os.Stdout, app, domain.ProviderID(*printURL), *unsigned)
		return
	}

	// --- telemetry ---
	otelShutdown, err := telemetry.Init(ctx, appConfig.Otel)
	if err != nil {
		slog.ErrorContext(ctx, "telemetry not properly configured", slog.Any("error", err))
		exitCode = 1
		return
	}
	defer func() {
		if err := otelShutdown(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "telemetry shutdown error", slog.Any("error", err))
		}
	}()

	// Initialize HTTP metrics for middleware-based instrumentation
	httpMetrics, err := telemetry.NewHTTPMetrics(appConfig.Otel.ServiceName)
	if err != nil {
		slog.WarnContext(ctx, "failed to initialize HTTP metrics, continuing without metrics", slog.Any("error", err))
		httpMetrics = nil
	}

	callbackMetrics, err := telemetry.NewCallbackMetrics(appConfig.Otel.ServiceName, appConfig.Callback.Providers)
	if err != nil {
		slog.WarnContext(ctx, "failed to initialize callback metrics, continuing without metrics", slog.Any("error", err))
		callbackMetrics = nil
	}

	// --- infrastructure ---
	limiterFactory := rl.TokenBucketFactory(clk)
	apiOpts := []callback_http.Option{
		callback_http.WithMetrics(callbackMetrics),
		callback_http.WithClock(clk),
		callback_http.WithTrustProxyHeaders(appConfig.Callback.TrustProxyHeaders),
		callback_http.WithProviders(appConfig.Callback.Providers...),
		callback_http.WithMaxBodyBytes(appConfig.Callback.MaxBodyBytes),
		callback_http.WithRetryAfter(appConfig.Callback.RetryAfter),
	}

	if appConfig.Redis.Enabled {
		redisClient, err := redis.NewRueidisClient(ctx, appConfig.Redis)
		if err != nil {
			slog.ErrorContext(ctx, "redis not properly setup", slog.Any("error", err))
			exitCode = 1
			return
		}
		defer redisClient.Close()

		redisCounter := counter.NewRedisCounterStore(redisClient, "notifyhook:")
		limiterFactory = rl.SlidingWindowFactory(clk, redisCounter, "ratelimit:"+appConfig.Env)

		if appConfig.Callback.ReplayTTL > 0 {
			guard, err := replay.NewGuard(redisCounter, appConfig.Callback.ReplayTTL)
			if err != nil {
				slog.ErrorContext(ctx, "replay guard setup error", slog.Any("error", err))
				exitCode = 1
				return
			}
			apiOpts = append(apiOpts, callback_http.WithReplayGuard(guard))
		}
	} else {
		slog.WarnContext(ctx, "redis disabled, rate limiting per replica and replay suppression off")
	}

	// --- application layer ---
	dispatcher, err := dispatch.NewDispatcher(
		appConfig.Callback.QueueSize,
		appConfig.Callback.Workers,
		dispatch.WithFallback(dispatch.LogHandler()),
		dispatch.WithHandlerTimeout(appConfig.Callback.HandlerTimeout),
		dispatch.WithMetrics(callbackMetrics),
		dispatch.WithClock(clk),
	)
	if err != nil {
		slog.ErrorContext(ctx, "dispatcher setup error", slog.Any("error", err))
		exitCode = 1
		return
	}

	// queued notifications outlive the signal; Close + drain below bounds that
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		dispatcher.Run(context.WithoutCancel(ctx))
	}()
	defer func() {
		dispatcher.Close()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			slog.WarnContext(ctx, "dispatcher drain timed out", slog.Int("pending", dispatcher.Len()))
		}
	}()

	callbackApi, err := callback_http.NewCallbackAPI(app, dispatcher, appConfig.Callback.Path(), apiOpts...)
	if err != nil {
		slog.ErrorContext(ctx, "callback api setup error", slog.Any("error", err))
		exitCode = 1
		return
	}

	callbackSvc := services.NewCallbackAPIService(
		callbackApi,
		validationSpecFS,
		callbackSpecPath,
	)

	globalMiddlewares := []func(http.Handler) http.Handler{
		middleware.Telemetry(appConfig.Otel.ServiceName, httpMetrics),
	}

	if appConfig.RateLimit.Enabled {
		slog.DebugContext(ctx, "app rate limit config", slog.Any("rate_limit_config", appConfig.RateLimit))

		rtp, err := ratelimit.ParsePolicy(
			limiterFactory,
			&appConfig.RateLimit,
			ratelimit.ServeMuxRouteInfo,
			ratelimit.DefaultKeyStrategies(),
		)
		if err != nil {
			slog.ErrorContext(ctx, "ratelimit config not properly parsed", slog.Any("error", err))
			exitCode = 1
			return
		}
		globalMiddlewares = append(globalMiddlewares, ratelimit.NewRateLimitMiddleware(rtp))
	}

	srv, err := server.New(
		appConfig.HTTP.Host, appConfig.HTTP.Port,
		server.WithReadTimeout(appConfig.HTTP.ReadTimeout),
		server.WithWriteTimeout(appConfig.HTTP.WriteTimeout),
		server.WithShutdownTimeout(appConfig.HTTP.ShutdownTimeout),
		server.WithServices(callbackSvc),
		server.WithGlobalMiddlewares(globalMiddlewares...),
	)
	if err != nil {
		slog.ErrorContext(ctx, "init server error", slog.Any("error", err))
		exitCode = 1
		return
	}

	slog.InfoContext(ctx, "callback endpoint ready",
		slog.String("addr", srv.Addr()),
		slog.String("path", callbackApi.Path()),
		slog.String("verification_mode", string(app.Mode())),
	)

	if err := srv.Run(ctx); err != nil {
		slog.ErrorContext(ctx, "running server error", slog.Any("error", err))
		exitCode = 1
		return
	}
}

func printCallbackURL(w io.Writer, app *domain.Application, provider domain.ProviderID, unsigned bool) {
	if unsigned {
		fmt.Fprintln(w, app.BuildUnsignedURL(provider))
		return
	}
	fmt.Fprintln(w, app.Generate(provider))
}
