package rc4

import (
	stdrc4 "crypto/rc4"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesStandardLibrary(t *testing.T) {
	keys := [][]byte{
		{0, 1, 14},
		[]byte("y"),
		[]byte("a longer key used for the comparison"),
	}
	src := []byte("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	for _, key := range keys {
		want := make([]byte, len(src))
		ref, err := stdrc4.NewCipher(key)
		require.NoError(t, err)
		ref.XORKeyStream(want, src)

		got, err := Encrypt(src, key)
		require.NoError(t, err)
		assert.Equal(t, want, got, "key %q", key)
	}
}

func TestInvolution(t *testing.T) {
	src := []byte{0x00, 0xff, 0x10, 0x80, 'a', 'b', 'c'}
	key := []byte("y")

	once, err := Encrypt(src, key)
	require.NoError(t, err)
	twice, err := Encrypt(once, key)
	require.NoError(t, err)
	assert.Equal(t, src, twice)
}

func TestKeystreamContinues(t *testing.T) {
	key := []byte("stream")
	src := []byte("0123456789abcdef")

	whole, err := Encrypt(src, key)
	require.NoError(t, err)

	c, err := New(key)
	require.NoError(t, err)
	parts := make([]byte, len(src))
	c.XORKeyStream(parts[:5], src[:5])
	c.XORKeyStream(parts[5:], src[5:])
	assert.Equal(t, whole, parts)
}

func TestInvalidKey(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.Is(err, ErrKeySize))

	_, err = New(make([]byte, 257))
	assert.True(t, errors.Is(err, ErrKeySize))
}

func TestLatin1RoundTrip(t *testing.T) {
	b := []byte{0, 1, 14, 0x7f, 0x80, 0xe9, 0xff}
	s := String(b)
	assert.Equal(t, b, Latin1(s))

	// scalars above 0xff keep their low byte
	assert.Equal(t, []byte{0x2d}, Latin1("中"))
}

func TestEncryptStringInvolution(t *testing.T) {
	text := String([]byte{0x00, 0x2c, 0xfe, 0x91})
	once, err := EncryptString(text, "y")
	require.NoError(t, err)
	back, err := EncryptString(once, "y")
	require.NoError(t, err)
	assert.Equal(t, text, back)
}
