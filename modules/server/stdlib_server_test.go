package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	mw func(http.Handler) http.Handler
}

func (s stubService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("X-Trail", "handler")
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s stubService) Middlewares() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{s.mw}
}

func trail(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Trail", name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestNew_BadPort(t *testing.T) {
	for _, port := range []int{0, -1, MAX_TCP_PORT} {
		_, err := New("127.0.0.1", port)
		require.ErrorIs(t, err, ErrBadPort, "port %d", port)
	}
}

func TestNew_EmptyHostBindsAll(t *testing.T) {
	s, err := New("", 8080)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", s.Addr())
}

func TestNew_MiddlewareOrder(t *testing.T) {
	s, err := New("127.0.0.1", 8080,
		WithGlobalMiddlewares(trail("global")),
		WithServices(stubService{mw: trail("service")}),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	// global middlewares come first, service middlewares are appended after them
	assert.Equal(t, []string{"global", "service", "handler"}, rec.Header().Values("X-Trail"))
}

func TestTimeoutOptions(t *testing.T) {
	s, err := New("127.0.0.1", 8080, WithReadTimeout(0), WithWriteTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, defaultIOTimeout, s.server.ReadTimeout)
	assert.Equal(t, defaultIOTimeout, s.server.WriteTimeout)
	assert.Equal(t, defaultHeaderTimeout, s.server.ReadHeaderTimeout)
	assert.Equal(t, defaultShutdownTimeout, s.shutdownTimeout)

	s, err = New("127.0.0.1", 8080, WithReadTimeout(time.Second), WithShutdownTimeout(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, s.server.ReadTimeout)
	assert.Equal(t, 3*time.Second, s.shutdownTimeout)
}

func TestServe_StopsOnCancel(t *testing.T) {
	s, err := New("127.0.0.1", 8080, WithServices(stubService{mw: trail("service")}))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
