package main

import (
	"bytes"
	"strings"
	"testing"

	"notifyhook/core/callback/domain"
	"notifyhook/modules/clock"
	"notifyhook/modules/hmac"
	"notifyhook/modules/urlsign"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) *domain.Application {
	t.Helper()
	clk := clock.RealClockProvider()
	signer, err := hmac.NewHMACSigner([]byte("s3cr3t"))
	require.NoError(t, err)
	routes, err := urlsign.New("https://app.test/notify", signer, clk)
	require.NoError(t, err)
	builder, err := domain.NewURLBuilder(routes, 0)
	require.NoError(t, err)
	verifier, err := domain.NewVerifier(domain.VerifierOptions{Mode: domain.ModeManual, Signer: signer, Clock: clk})
	require.NoError(t, err)
	return domain.NewApp(builder, verifier, domain.ModeManual)
}

func TestPrintCallbackURL(t *testing.T) {
	app := testApp(t)

	var buf bytes.Buffer
	printCallbackURL(&buf, app, "google_play", false)
	assert.Regexp(t, `^https://app\.test/notify\?signature=[0-9a-f]{64}&provider=google_play\n$`, buf.String())

	buf.Reset()
	printCallbackURL(&buf, app, "google_play", true)
	assert.Equal(t, "https://app.test/notify?provider=google_play", strings.TrimSpace(buf.String()))
}
