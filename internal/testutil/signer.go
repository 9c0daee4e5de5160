package testutil

import (
	"crypto/ed25519"
	"fmt"
	"sync"
)

// Signer is a deterministic ed25519 signer for tests.
type Signer struct {
	key       ed25519.PrivateKey
	pub       ed25519.PublicKey
	mu        sync.Mutex
	destroyed bool
}

// NewSigner derives a key from a one-byte seed.
func NewSigner(seed byte) *Signer {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	key := ed25519.NewKeyFromSeed(s)
	return &Signer{key: key, pub: key.Public().(ed25519.PublicKey)}
}

// Sign signs msg, failing after Destroy.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, fmt.Errorf("signer destroyed")
	}
	return ed25519.Sign(s.key, msg), nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Destroy zeroes the key.
func (s *Signer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.key)
	s.destroyed = true
}
