package replay

import (
	"context"
	"testing"
	"time"

	"notifyhook/core/callback/domain"
	"notifyhook/modules/db/redis/counter"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T, ttl time.Duration) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(cli.Close)

	g, err := NewGuard(counter.NewRedisCounterStore(cli, "test"), ttl)
	require.NoError(t, err)
	return g, mr
}

func TestGuard_DuplicateInsideWindow(t *testing.T) {
	g, mr := newGuard(t, time.Minute)
	ctx := context.Background()
	body := []byte(`{"purchaseToken":"abc"}`)

	require.NoError(t, g.Check(ctx, "google_play", "signature=aa&provider=google_play", body))
	require.ErrorIs(t, g.Check(ctx, "google_play", "signature=aa&provider=google_play", body), domain.ErrDuplicate)

	// different body, provider or query are different notifications
	require.NoError(t, g.Check(ctx, "google_play", "signature=aa&provider=google_play", []byte(`{}`)))
	require.NoError(t, g.Check(ctx, "app_store", "signature=aa&provider=google_play", body))
	require.NoError(t, g.Check(ctx, "google_play", "signature=bb&provider=google_play", body))

	mr.FastForward(time.Minute + time.Second)
	require.NoError(t, g.Check(ctx, "google_play", "signature=aa&provider=google_play", body))
}

func TestGuard_Forget(t *testing.T) {
	g, _ := newGuard(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, g.Check(ctx, "p", "q", nil))
	require.NoError(t, g.Forget(ctx, "p", "q", nil))
	require.NoError(t, g.Check(ctx, "p", "q", nil))
	require.ErrorIs(t, g.Check(ctx, "p", "q", nil), domain.ErrDuplicate)
}

func TestGuard_StoreError(t *testing.T) {
	g, mr := newGuard(t, time.Minute)
	mr.SetError("LOADING")

	err := g.Check(context.Background(), "p", "", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDuplicate)
}

func TestNewGuard_Errors(t *testing.T) {
	_, err := NewGuard(nil, time.Minute)
	require.ErrorIs(t, err, ErrMissingCounter)

	_, err = NewGuard(counter.NewRedisCounterStore(nil, ""), 0)
	require.ErrorIs(t, err, ErrNonPositiveTTL)
}

func TestKey(t *testing.T) {
	k := Key("a:b", "q", []byte("b"))
	assert.Regexp(t, `^replay:a%3Ab:[0-9a-f]{64}$`, k)
	assert.NotEqual(t, Key("p", "ab", []byte("c")), Key("p", "a", []byte("bc")))
}
