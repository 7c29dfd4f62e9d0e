package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"notifyhook/modules/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const testSpec = `
openapi: 3.0.3
info: {title: test, version: "1"}
paths:
  /notify:
    post:
      parameters:
        - name: provider
          in: query
          required: true
          schema: {type: string}
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [id]
              properties:
                id: {type: integer}
      responses:
        '202': {description: ok}
`

type capturedStatus struct{ status int }

func (c *capturedStatus) handler(_ context.Context, _ error, w http.ResponseWriter, _ *http.Request, status int) {
	c.status = status
	w.WriteHeader(status)
}

func accepted() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
}

func TestOpenAPIValidation_PathAlias(t *testing.T) {
	fsys := fstest.MapFS{"alias.yaml": {Data: []byte(testSpec)}}
	var got capturedStatus
	h := OpenAPIValidation(fsys, "alias.yaml", got.handler, nil,
		WithPathAlias("/notify", "/hooks/in"),
		WithoutRequestBodyValidation(),
	)(accepted())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/in?provider=google_play", strings.NewReader("not json")))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/in", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, got.status)
}

func TestOpenAPIValidation_AliasDoesNotMutateCachedSpec(t *testing.T) {
	fsys := fstest.MapFS{"shared.yaml": {Data: []byte(testSpec)}}
	var got capturedStatus

	_ = OpenAPIValidation(fsys, "shared.yaml", got.handler, nil, WithPathAlias("/notify", "/elsewhere"))
	h := OpenAPIValidation(fsys, "shared.yaml", got.handler, nil)(accepted())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notify?provider=p", strings.NewReader(`{"id": 1}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

const queryOnlySpec = `
openapi: 3.0.3
info: {title: test, version: "1"}
paths:
  /notify:
    get:
      parameters:
        - name: provider
          in: query
          required: true
          schema: {type: string, maxLength: 4}
        - name: signature
          in: query
          schema: {type: string}
      responses:
        '202': {description: ok}
`

func TestInvalidParams_Query(t *testing.T) {
	fsys := fstest.MapFS{"query.yaml": {Data: []byte(queryOnlySpec)}}
	var got error
	h := OpenAPIValidation(fsys, "query.yaml", func(_ context.Context, err error, w http.ResponseWriter, _ *http.Request, status int) {
		got = err
		w.WriteHeader(status)
	}, nil)(accepted())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notify?signature=deadbeef", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []InvalidParam{{Name: "provider", Reason: "is required"}}, InvalidParams(got))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notify?provider=google_play&signature=deadbeef", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	params := InvalidParams(got)
	require.Len(t, params, 1)
	assert.Equal(t, "provider", params[0].Name)
	assert.NotContains(t, params[0].Reason, "google_play")
}

func TestInvalidParams_NotAParameter(t *testing.T) {
	assert.Equal(t, []InvalidParam{{Name: "request", Reason: "invalid request"}}, InvalidParams(errors.New("boom")))
}

func TestOpenAPIValidation_LoadError(t *testing.T) {
	var loadErr error
	h := OpenAPIValidation(fstest.MapFS{}, "missing.yaml", nil, func(w http.ResponseWriter, r *http.Request, err error) {
		loadErr = err
		w.WriteHeader(http.StatusInternalServerError)
	})(accepted())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Error(t, loadErr)
}

func TestRecovery(t *testing.T) {
	var recovered any
	h := Recovery(func(w http.ResponseWriter, r *http.Request, rec any) {
		recovered = rec
		w.WriteHeader(http.StatusInternalServerError)
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", recovered)
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	h := Recovery(func(http.ResponseWriter, *http.Request, any) {
		t.Fatal("abort must not reach the panic handler")
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithError(t, http.ErrAbortHandler.Error(), func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestTelemetry_RecordsMatchedPattern(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	metrics, err := telemetry.NewHTTPMetricsWithProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), "test")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notify", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	h := Telemetry("test", metrics)(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notify?signature=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	var endpoints []string
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name != "http_server_requests_total" {
			continue
		}
		for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
			v, _ := dp.Attributes.Value("http_endpoint")
			endpoints = append(endpoints, v.AsString())
		}
	}
	assert.Equal(t, []string{"POST /notify"}, endpoints)
}

func TestTelemetry_NilMetrics(t *testing.T) {
	h := Telemetry("", nil)(accepted())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResponseRecorder_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rr := newResponseRecorder(inner)
	assert.Same(t, http.ResponseWriter(inner), rr.Unwrap())

	rr.WriteHeader(http.StatusTeapot)
	rr.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusTeapot, inner.Code)
}
