package hitl

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/internal/codec"
	"github.com/zeebo/blake3"
)

// signingPayload is the exact tuple a decision signature covers. The
// decision source is part of it, so an auto-approval cannot be passed
// off as a human one.
type signingPayload struct {
	ID         string             `cbor:"1,keyasint"`
	Nonce      []byte             `cbor:"2,keyasint"`
	ParamsHash []byte             `cbor:"3,keyasint"`
	Decision   string             `cbor:"4,keyasint"`
	Source     string             `cbor:"5,keyasint"`
	RiskLevel  entities.RiskLevel `cbor:"6,keyasint"`
}

// HashParameters returns the BLAKE3 digest of the parameter bytes.
func HashParameters(params []byte) []byte {
	sum := blake3.Sum256(params)
	return sum[:]
}

// SigningDigest returns the digest that is signed for a decision on m.
func SigningDigest(m *entities.ExecutionManifest, decision entities.ManifestState, source entities.DecisionSource) ([]byte, error) {
	encoded, err := codec.Marshal(signingPayload{
		ID:         m.ID,
		Nonce:      m.Nonce,
		ParamsHash: m.ParametersHash,
		Decision:   string(decision),
		Source:     string(source),
		RiskLevel:  m.RiskLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("encode signing payload: %w", err)
	}
	sum := blake3.Sum256(encoded)
	return sum[:], nil
}

// VerifyManifest checks that m is approved, that its parameters still
// hash to the signed value and that the signature was made by pub.
func VerifyManifest(pub ed25519.PublicKey, m *entities.ExecutionManifest) error {
	if len(m.Nonce) != entities.NonceSize {
		return fmt.Errorf("nonce must be %d bytes, got %d", entities.NonceSize, len(m.Nonce))
	}
	if !bytes.Equal(HashParameters(m.Parameters), m.ParametersHash) {
		return fmt.Errorf("parameters do not match the signed hash")
	}
	if len(m.Signature) == 0 {
		return fmt.Errorf("manifest is not signed")
	}
	// Consumed manifests were signed while approved.
	decision := m.State
	if decision == entities.ManifestConsumed {
		decision = entities.ManifestApproved
	}
	digest, err := SigningDigest(m, decision, m.Source)
	if err != nil {
		return err
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, digest, m.Signature) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}
