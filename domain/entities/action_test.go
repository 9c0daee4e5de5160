package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionKind(t *testing.T) {
	k, err := ParseActionKind("File-Read")
	require.NoError(t, err)
	assert.Equal(t, KindFileRead, k)

	_, err = ParseActionKind("format_disk")
	assert.Error(t, err)
}

func TestActionKind_Class(t *testing.T) {
	for _, k := range AllActionKinds() {
		assert.True(t, k.IsValid(), k)
	}
	assert.Equal(t, ResourcePath, KindFileWrite.Class())
	assert.Equal(t, ResourceURL, KindNetworkRequest.Class())
	assert.Equal(t, ResourceCommand, KindShellExec.Class())
	assert.Equal(t, ResourceName, KindFinancialOp.Class())
	assert.Equal(t, ResourceInvalid, ActionKind("").Class())
	assert.Equal(t, "url", ResourceURL.String())
}

func TestApprovalThreshold_RequiresHuman(t *testing.T) {
	tests := []struct {
		threshold ApprovalThreshold
		level     RiskLevel
		want      bool
	}{
		{ThresholdNone, RiskLevelCritical, false},
		{ThresholdAll, RiskLevelLow, true},
		{ThresholdHigh, RiskLevelMedium, false},
		{ThresholdHigh, RiskLevelHigh, true},
		{ThresholdHigh, RiskLevelCritical, true},
		{ThresholdCritical, RiskLevelHigh, false},
		{ThresholdCritical, RiskLevelCritical, true},
		{ThresholdMedium, RiskLevelMedium, true},
		{ApprovalThreshold("bogus"), RiskLevelLow, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.threshold)+"/"+tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.threshold.RequiresHuman(tt.level))
		})
	}

	th, err := ParseApprovalThreshold(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, ThresholdHigh, th)
	_, err = ParseApprovalThreshold("sometimes")
	assert.Error(t, err)
}

func TestCapabilityToken_Validity(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := &CapabilityToken{
		ID:       "t1",
		Scope:    Scope{Kind: KindFileRead, Pattern: "/w/a.txt", Exact: true},
		IssuedAt: issued,
		TTL:      time.Minute,
	}

	assert.True(t, tok.IsValid(issued))
	assert.True(t, tok.IsValid(issued.Add(59*time.Second)))
	assert.False(t, tok.IsValid(issued.Add(time.Minute)), "expiry is exclusive")

	tok.Revoked = true
	assert.False(t, tok.IsValid(issued))

	s := tok.Summary(issued)
	assert.Equal(t, "file_read:/w/a.txt", s.Scope)
	assert.False(t, s.IsValid)
}

func TestExecutionManifest_CloneIsDeep(t *testing.T) {
	m := &ExecutionManifest{ID: "m", Nonce: []byte{1}, Parameters: []byte(`{}`), State: ManifestApproved}
	c := m.Clone()
	c.Nonce[0] = 9

	assert.Equal(t, byte(1), m.Nonce[0])
	assert.False(t, m.Consumed())
	assert.True(t, ManifestExpired.IsTerminal())
	assert.False(t, ManifestApproved.IsTerminal())
}
