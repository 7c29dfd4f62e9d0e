package hmac

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHMACSigner_EmptyKey(t *testing.T) {
	_, err := NewHMACSigner(nil)
	require.ErrorIs(t, err, ErrMissingKey)

	_, err = NewHMACSigner([]byte{})
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	s, err := NewHMACSigner([]byte("Jefe"))
	require.NoError(t, err)

	got := s.Sign("what do ya want for nothing?")
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestSign_LowercaseHex64(t *testing.T) {
	s, err := NewHMACSigner([]byte("s3cr3t"))
	require.NoError(t, err)

	got := s.Sign("https://app.test/notify")
	assert.Regexp(t, `^[0-9a-f]{64}$`, got)
}

func TestSigner_KeyIsCopied(t *testing.T) {
	key := []byte("s3cr3t")
	s, err := NewHMACSigner(key)
	require.NoError(t, err)

	before := s.Sign("payload")
	key[0] = 'x'
	assert.Equal(t, before, s.Sign("payload"))
}

func TestVerify(t *testing.T) {
	s, err := NewHMACSigner([]byte("s3cr3t"))
	require.NoError(t, err)

	sig := s.Sign("payload")
	assert.True(t, s.Verify("payload", sig))
	assert.False(t, s.Verify("payload ", sig))
	assert.False(t, s.Verify("payload", ""))
	assert.False(t, s.Verify("payload", sig[:63]))

	other, err := NewHMACSigner([]byte("other"))
	require.NoError(t, err)
	assert.False(t, other.Verify("payload", sig))
}

func TestSigner_DoesNotFormatKey(t *testing.T) {
	s, err := NewHMACSigner([]byte("s3cr3t"))
	require.NoError(t, err)

	assert.NotContains(t, fmt.Sprintf("%v", s), "s3cr3t")
	assert.NotContains(t, fmt.Sprintf("%+v", s), "s3cr3t")
}
