package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var ErrMissingServiceName = errors.New("telemetry: ServiceName is required")

// ShutdownFunc flushes and stops whatever Init installed.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init wires telemetry according to Config. Call once on startup.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		return nil, ErrMissingServiceName
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 5 * time.Second
	}

	mode, err := resolveMode(cfg.Mode, detectGoAuto())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	switch mode {
	case ModeOff:
		installPropagator()
		return noopShutdown, nil
	case ModeAuto:
		return initAutoMode(ctx, cfg)
	default:
		return initManualMode(ctx, cfg)
	}
}

// resolveMode turns ModeDetect into a concrete mode.
func resolveMode(m Mode, autoDetected bool) (Mode, error) {
	switch m {
	case "", ModeDetect:
		if autoDetected {
			return ModeAuto, nil
		}
		return ModeManual, nil
	case ModeAuto, ModeManual, ModeOff:
		return m, nil
	default:
		return "", fmt.Errorf("telemetry: unknown Mode %q", m)
	}
}

// detectGoAuto checks for the Go auto-instrumentation signals.
// OTEL_GO_AUTO_TARGET_EXE is set by the Operator's Go auto-instrumentation.
func detectGoAuto() bool {
	if os.Getenv("OTEL_GO_AUTO_TARGET_EXE") != "" {
		return true
	}
	switch strings.ToLower(os.Getenv("OTEL_GO_AUTO_ENABLED")) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func installPropagator() {
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
}

// In auto mode the sidecar owns the TracerProvider. eBPF cannot see the
// callback counters though, so the MeterProvider is still ours.
func initAutoMode(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	slog.InfoContext(ctx, "telemetry: go auto-instrumentation detected, exporting metrics only")

	if isNoopPropagator(otel.GetTextMapPropagator()) {
		installPropagator()
	}
	if cfg.DisableMetrics {
		return noopShutdown, nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		slog.WarnContext(ctx, "telemetry: metrics unavailable in auto mode", slog.Any("error", err))
		return noopShutdown, nil
	}
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: meter provider shutdown: %w", err)
		}
		return nil
	}, nil
}

// Manual mode: standard OTel SDK + OTLP exporters
func initManualMode(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(buildSampler(cfg.SamplerRatio)),
	)
	otel.SetTracerProvider(tp)
	installPropagator()

	var mp *sdkmetric.MeterProvider
	if !cfg.DisableMetrics {
		mp, err = newMeterProvider(ctx, cfg, res)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("telemetry: build metric exporter: %w", err)
		}
		otel.SetMeterProvider(mp)
	}

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: tracer provider shutdown: %w", err))
		}
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry: meter provider shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	}, nil
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	for k, v := range cfg.ResourceAttrs {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.New(
		ctx,
		resource.WithFromEnv(),      // OTEL_RESOURCE_ATTRIBUTES, etc.
		resource.WithTelemetrySDK(), // telemetry.sdk.*
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
}

// protocol returns the OTLP protocol for a signal ("traces" or "metrics"),
// preferring the signal specific variable. Anything but grpc means http/protobuf.
func protocol(signal string) string {
	p := os.Getenv("OTEL_EXPORTER_OTLP_" + strings.ToUpper(signal) + "_PROTOCOL")
	if p == "" {
		p = os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
	}
	if p == "grpc" {
		return "grpc"
	}
	return "http/protobuf"
}

// endpoint is a normalized collector address. Either url is set (the
// configured value carried a scheme) or hostPort is.
type endpoint struct {
	url      string
	hostPort string
}

func parseEndpoint(raw string) endpoint {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return endpoint{url: raw}
	}
	return endpoint{hostPort: raw}
}

func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	ep := parseEndpoint(cfg.OTLPEndpoint)

	if protocol("traces") == "grpc" {
		var opts []otlptracegrpc.Option
		switch {
		case ep.url != "":
			opts = append(opts, otlptracegrpc.WithEndpointURL(ep.url))
		case ep.hostPort != "":
			opts = append(opts, otlptracegrpc.WithEndpoint(ep.hostPort))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}

	var opts []otlptracehttp.Option
	switch {
	case ep.url != "":
		opts = append(opts, otlptracehttp.WithEndpointURL(ep.url))
	case ep.hostPort != "":
		opts = append(opts, otlptracehttp.WithEndpoint(ep.hostPort))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	// an empty endpoint leaves OTEL_EXPORTER_OTLP_(TRACES_)ENDPOINT to the exporter
	return otlptracehttp.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	raw := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if raw == "" {
		raw = cfg.OTLPEndpoint
	}
	ep := parseEndpoint(raw)
	insecure := cfg.Insecure || os.Getenv("OTEL_EXPORTER_OTLP_METRICS_INSECURE") == "true"

	if protocol("metrics") == "grpc" {
		var opts []otlpmetricgrpc.Option
		switch {
		case ep.url != "":
			opts = append(opts, otlpmetricgrpc.WithEndpointURL(ep.url))
		case ep.hostPort != "":
			opts = append(opts, otlpmetricgrpc.WithEndpoint(ep.hostPort))
		}
		if insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}

	var opts []otlpmetrichttp.Option
	switch {
	case ep.url != "":
		opts = append(opts, otlpmetrichttp.WithEndpointURL(ep.url))
	case ep.hostPort != "":
		opts = append(opts, otlpmetrichttp.WithEndpoint(ep.hostPort))
	}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := newMetricExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func buildSampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func isNoopPropagator(p propagation.TextMapPropagator) bool {
	return p == nil || len(p.Fields()) == 0
}
