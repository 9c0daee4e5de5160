package signer

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519_SignVerify(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	sig, err := s.Sign([]byte("digest"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(s.PublicKey(), []byte("digest"), sig))
	assert.False(t, ed25519.Verify(s.PublicKey(), []byte("other"), sig))
}

func TestEd25519_KeysDifferPerSession(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey(), b.PublicKey())
}

func TestEd25519_DeterministicEntropy(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	a, err := New(WithRandom(bytes.NewReader(seed)))
	require.NoError(t, err)
	b, err := New(WithRandom(bytes.NewReader(seed)))
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())
}

func TestEd25519_Destroy(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	s.Destroy()
	s.Destroy()

	_, err = s.Sign([]byte("digest"))
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.Equal(t, make([]byte, ed25519.PrivateKeySize), []byte(s.key))
	assert.Len(t, s.PublicKey(), ed25519.PublicKeySize)
}

func TestNew_EntropyFailure(t *testing.T) {
	_, err := New(WithRandom(bytes.NewReader(nil)))
	assert.Error(t, err)
}
