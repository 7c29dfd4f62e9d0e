package http

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://app.test/notify?provider=x", nil)
	assert.Equal(t, "http://app.test/notify", RequestURL(req, false))

	req.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https://app.test/notify", RequestURL(req, false))

	req = httptest.NewRequest(http.MethodGet, "http://10.0.0.1/a%20b", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	req.Header.Set("X-Forwarded-Host", "app.test, proxy.internal")
	assert.Equal(t, "http://10.0.0.1/a%20b", RequestURL(req, false))
	assert.Equal(t, "https://app.test/a%20b", RequestURL(req, true))

	req.Header.Set("X-Forwarded-Proto", "gopher")
	assert.Equal(t, "http://app.test/a%20b", RequestURL(req, true))
}

func TestLastValue(t *testing.T) {
	q := url.Values{"provider": {"a", "b"}}
	assert.Equal(t, "b", lastValue(q, "provider"))
	assert.Equal(t, "", lastValue(q, "signature"))
}
