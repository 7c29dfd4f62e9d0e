package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumByAttr(t *testing.T, agg metricdata.Aggregation, key attribute.Key) map[string]int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", agg)

	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		out[v.Emit()] += dp.Value
	}
	return out
}

func TestCallbackMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewCallbackMetricsWithProvider(mp, "test", []string{"google_play"})
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordGenerated(ctx, "google_play", true)
	m.RecordVerification(ctx, "google_play", "manual", true)
	m.RecordVerification(ctx, "evil\x00provider", "manual", false)
	m.RecordDispatch(ctx, "google_play", "handled", 3*time.Millisecond)
	m.RecordDispatch(ctx, "google_play", "queued", 0)

	data := collect(t, reader)

	assert.Equal(t, map[string]int64{"google_play": 1}, sumByAttr(t, data["callback_urls_generated_total"], "provider"))
	assert.Equal(t, map[string]int64{"google_play": 1, OtherProvider: 1}, sumByAttr(t, data["callback_verifications_total"], "provider"))
	assert.Equal(t, map[string]int64{"valid": 1, "invalid": 1}, sumByAttr(t, data["callback_verifications_total"], "result"))
	assert.Equal(t, map[string]int64{"handled": 1, "queued": 1}, sumByAttr(t, data["callback_notifications_total"], "outcome"))

	hist, ok := data["callback_handler_duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 1, hist.DataPoints[0].Count)
}

func TestCallbackMetrics_NilIsNoop(t *testing.T) {
	var m *CallbackMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordGenerated(ctx, "p", false)
		m.RecordVerification(ctx, "p", "manual", true)
		m.RecordDispatch(ctx, "p", "handled", time.Second)
	})
	assert.Equal(t, OtherProvider, m.ProviderLabel("p"))
}

func TestHTTPMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewHTTPMetricsWithProvider(mp, "test")
	require.NoError(t, err)
	m.RecordRequest(context.Background(), "POST", "POST /notify", 202, 1500*time.Microsecond, 12)
	m.RecordRequest(context.Background(), "GET", "", 404, time.Millisecond, 0)

	data := collect(t, reader)
	assert.Equal(t,
		map[string]int64{"POST /notify": 1, UnmatchedRoute: 1},
		sumByAttr(t, data["http_server_requests_total"], "http_endpoint"),
	)
}
