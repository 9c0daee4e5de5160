package ports

import "crypto/ed25519"

// Signer holds the session's private signing key. Nothing else may
// read the key.
type Signer interface {
	// Sign returns a detached signature over msg.
	Sign(msg []byte) ([]byte, error)

	// PublicKey returns the verification key.
	PublicKey() ed25519.PublicKey

	// Destroy zeroes the private key. Sign fails afterwards.
	Destroy()
}
