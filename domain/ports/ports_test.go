package ports

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink is an in-memory EventSink for testing.
type recordingSink struct {
	events []entities.AuditEvent
}

func (s *recordingSink) Record(_ context.Context, e entities.AuditEvent) {
	s.events = append(s.events, e)
}

// funcChannel is an ApprovalChannel backed by a function field.
type funcChannel struct {
	NotifyFunc func(ctx context.Context, req entities.ApprovalRequest, decide DecisionFunc) error
}

func (c *funcChannel) Notify(ctx context.Context, req entities.ApprovalRequest, decide DecisionFunc) error {
	if c.NotifyFunc != nil {
		return c.NotifyFunc(ctx, req, decide)
	}
	return nil
}

// staticSigner signs with a fixed key.
type staticSigner struct {
	key ed25519.PrivateKey
}

func (s *staticSigner) Sign(msg []byte) ([]byte, error) { return ed25519.Sign(s.key, msg), nil }
func (s *staticSigner) PublicKey() ed25519.PublicKey   { return s.key.Public().(ed25519.PublicKey) }
func (s *staticSigner) Destroy()                       { clear(s.key) }

// Compile-time interface checks
var (
	_ EventSink       = (*recordingSink)(nil)
	_ ApprovalChannel = (*funcChannel)(nil)
	_ Signer          = (*staticSigner)(nil)
)

func TestFuncChannel_DeliversDecision(t *testing.T) {
	var got struct {
		id       string
		approved bool
	}
	decide := func(_ context.Context, id string, approved bool) error {
		got.id, got.approved = id, approved
		return nil
	}

	ch := &funcChannel{NotifyFunc: func(ctx context.Context, req entities.ApprovalRequest, decide DecisionFunc) error {
		return decide(ctx, req.ManifestID, req.RiskLevel < entities.RiskLevelCritical)
	}}

	require.NoError(t, ch.Notify(context.Background(), entities.ApprovalRequest{ManifestID: "m1", RiskLevel: entities.RiskLevelHigh}, decide))
	assert.Equal(t, "m1", got.id)
	assert.True(t, got.approved)
}

func TestRecordingSink_PreservesOrder(t *testing.T) {
	sink := &recordingSink{}
	sink.Record(context.Background(), entities.AuditEvent{Type: entities.EventTokenMinted})
	sink.Record(context.Background(), entities.AuditEvent{Type: entities.EventTokenRevoked})

	require.Len(t, sink.events, 2)
	assert.Equal(t, entities.EventTokenMinted, sink.events[0].Type)
	assert.Equal(t, entities.EventTokenRevoked, sink.events[1].Type)
}

func TestStaticSigner_DestroyInvalidatesKey(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	s := &staticSigner{key: ed25519.NewKeyFromSeed(seed)}

	sig, err := s.Sign([]byte("digest"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(s.PublicKey(), []byte("digest"), sig))

	s.Destroy()
	assert.Equal(t, make([]byte, ed25519.PrivateKeySize), []byte(s.key))
}
