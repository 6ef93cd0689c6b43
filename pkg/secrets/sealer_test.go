package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_PassThroughWithoutKey(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	assert.False(t, s.Encrypting())

	blob, err := s.SealString("tok-123")
	require.NoError(t, err)
	assert.Equal(t, versionPlain, blob[0])

	got, err := s.OpenString(blob)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", got)
}

func TestSealer_EncryptsWithKey(t *testing.T) {
	s, err := NewSealer("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, s.Encrypting())

	blob, err := s.SealString("tok-123")
	require.NoError(t, err)
	assert.Equal(t, versionGCMv1, blob[0])
	assert.NotContains(t, string(blob), "tok-123")

	got, err := s.OpenString(blob)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", got)
}

func TestSealer_WrongKeyFails(t *testing.T) {
	a, _ := NewSealer("key-a")
	b, _ := NewSealer("key-b")
	blob, err := a.SealString("tok")
	require.NoError(t, err)

	_, err = b.OpenString(blob)
	assert.Error(t, err)
}

func TestSealer_RejectsEncryptedBlobWithoutKey(t *testing.T) {
	enc, _ := NewSealer("key")
	plain, _ := NewSealer("")
	blob, err := enc.SealString("tok")
	require.NoError(t, err)

	_, err = plain.OpenString(blob)
	assert.Error(t, err)
}

func TestSealer_InvalidBlobs(t *testing.T) {
	s, _ := NewSealer("key")
	_, err := s.Open(nil)
	assert.ErrorIs(t, err, ErrInvalidBlob)

	_, err = s.Open([]byte{0x7f, 1, 2})
	assert.Error(t, err)

	_, err = s.Open([]byte{versionGCMv1, 1, 2})
	assert.Error(t, err)
}
