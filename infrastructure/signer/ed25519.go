// Package signer provides the per-session manifest signing key.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sentinel-dev/sentinel/domain/ports"
)

// ErrDestroyed is returned by Sign once the key has been zeroed.
var ErrDestroyed = errors.New("signing key destroyed")

type signerConfig struct {
	random io.Reader
}

func defaultSignerConfig() signerConfig {
	return signerConfig{random: rand.Reader}
}

// Option configures an Ed25519 signer.
type Option func(*signerConfig)

// WithRandom sets the key generation entropy source.
func WithRandom(r io.Reader) Option {
	return func(c *signerConfig) {
		c.random = r
	}
}

// Ed25519 holds a key generated at session start. The key lives only in
// memory and is never exported.
type Ed25519 struct {
	key       ed25519.PrivateKey
	pub       ed25519.PublicKey
	mu        sync.RWMutex
	destroyed bool
}

var _ ports.Signer = (*Ed25519)(nil)

// New generates a fresh key pair.
func New(opts ...Option) (*Ed25519, error) {
	cfg := defaultSignerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	pub, key, err := ed25519.GenerateKey(cfg.random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &Ed25519{key: key, pub: pub}, nil
}

// Sign returns a detached signature over msg.
func (s *Ed25519) Sign(msg []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	return ed25519.Sign(s.key, msg), nil
}

// PublicKey returns the verification key.
func (s *Ed25519) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Destroy zeroes the private key. It is idempotent.
func (s *Ed25519) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.key)
	s.destroyed = true
}
