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

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtherProvider is the label used for providers outside the configured list.
// The provider query param is caller controlled, so it never becomes a
// label value on its own.
const OtherProvider = "other"

// CallbackMetrics counts issued callback URLs, verification outcomes and
// notification dispatch. A nil *CallbackMetrics records nothing.
type CallbackMetrics struct {
	generated        metric.Int64Counter
	verifications    metric.Int64Counter
	dispatched       metric.Int64Counter
	dispatchDuration metric.Float64Histogram

	known map[string]struct{}
}

// NewCallbackMetrics uses the global MeterProvider set up by Init.
func NewCallbackMetrics(serviceName string, knownProviders []string) (*CallbackMetrics, error) {
	return NewCallbackMetricsWithProvider(otel.GetMeterProvider(), serviceName, knownProviders)
}

func NewCallbackMetricsWithProvider(mp metric.MeterProvider, serviceName string, knownProviders []string) (*CallbackMetrics, error) {
	meter := mp.Meter(serviceName)

	generated, err := meter.Int64Counter(
		"callback_urls_generated_total",
		metric.WithDescription("Callback URLs issued"),
		metric.WithUnit("{url}"),
	)
	if err != nil {
		return nil, err
	}

	verifications, err := meter.Int64Counter(
		"callback_verifications_total",
		metric.WithDescription("Callback signature checks by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	dispatched, err := meter.Int64Counter(
		"callback_notifications_total",
		metric.WithDescription("Verified notifications by dispatch outcome"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchDuration, err := meter.Float64Histogram(
		"callback_handler_duration",
		metric.WithDescription("Time spent in provider notification handlers"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(knownProviders))
	for _, p := range knownProviders {
		known[p] = struct{}{}
	}

	return &CallbackMetrics{
		generated:        generated,
		verifications:    verifications,
		dispatched:       dispatched,
		dispatchDuration: dispatchDuration,
		known:            known,
	}, nil
}

// ProviderLabel maps a provider to a bounded label value.
func (m *CallbackMetrics) ProviderLabel(provider string) string {
	if m == nil {
		return OtherProvider
	}
	if _, ok := m.known[provider]; ok {
		return provider
	}
	return OtherProvider
}

func (m *CallbackMetrics) RecordGenerated(ctx context.Context, provider string, signed bool) {
	if m == nil {
		return
	}
	m.generated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", m.ProviderLabel(provider)),
		attribute.Bool("signed", signed),
	))
}

func (m *CallbackMetrics) RecordVerification(ctx context.Context, provider, mode string, valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", m.ProviderLabel(provider)),
		attribute.String("mode", mode),
		attribute.String("result", result),
	))
}

// RecordDispatch counts a notification outcome, e.g. "queued", "duplicate",
// "rejected", "handled" or "failed". elapsed <= 0 skips the histogram.
func (m *CallbackMetrics) RecordDispatch(ctx context.Context, provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", m.ProviderLabel(provider)),
		attribute.String("outcome", outcome),
	)
	m.dispatched.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.dispatchDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}
