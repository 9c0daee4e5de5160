package entities

import (
	"encoding/json"
	"time"
)

// NonceSize is the length of a manifest nonce in bytes.
const NonceSize = 32

// ManifestState is the position of a manifest in its one-way lifecycle:
// pending -> approved | rejected | expired, approved -> consumed.
type ManifestState string

const (
	ManifestPending  ManifestState = "pending"
	ManifestApproved ManifestState = "approved"
	ManifestRejected ManifestState = "rejected"
	ManifestExpired  ManifestState = "expired"
	ManifestConsumed ManifestState = "consumed"
)

// IsTerminal reports whether no further transition is possible.
func (s ManifestState) IsTerminal() bool {
	return s == ManifestRejected || s == ManifestExpired || s == ManifestConsumed
}

// DecisionSource records who moved a manifest out of pending.
type DecisionSource string

const (
	SourceNone  DecisionSource = ""
	SourceAuto  DecisionSource = "auto"  // below the approval threshold
	SourceHuman DecisionSource = "human" // operator decision
	SourceHost  DecisionSource = "host"  // timeout or teardown
)

// ExecutionManifest is a proposed high-risk action awaiting a single,
// signed decision.
type ExecutionManifest struct {
	CreatedAt         time.Time       `json:"created_at"`
	DecidedAt         time.Time       `json:"decided_at,omitzero"`
	ID                string          `json:"id"`
	ActionDescription string          `json:"action_description"`
	State             ManifestState   `json:"state"`
	Source            DecisionSource  `json:"source,omitempty"`
	Parameters        json.RawMessage `json:"parameters"`
	Nonce             []byte          `json:"nonce"`
	ParametersHash    []byte          `json:"parameters_hash"`
	Signature         []byte          `json:"signature,omitempty"`
	RiskLevel         RiskLevel       `json:"risk_level"`
}

// Consumed reports whether the approved action has been executed.
func (m *ExecutionManifest) Consumed() bool {
	return m.State == ManifestConsumed
}

// Status returns the side-effect free view used by status queries.
func (m *ExecutionManifest) Status() ManifestStatus {
	return ManifestStatus{
		ID:        m.ID,
		State:     m.State,
		Source:    m.Source,
		RiskLevel: m.RiskLevel,
		CreatedAt: m.CreatedAt,
		DecidedAt: m.DecidedAt,
		Signed:    len(m.Signature) > 0,
	}
}

// Clone returns a deep copy safe to hand outside the store.
func (m *ExecutionManifest) Clone() *ExecutionManifest {
	c := *m
	c.Parameters = append(json.RawMessage(nil), m.Parameters...)
	c.Nonce = append([]byte(nil), m.Nonce...)
	c.ParametersHash = append([]byte(nil), m.ParametersHash...)
	c.Signature = append([]byte(nil), m.Signature...)
	return &c
}

// ManifestStatus is the observer view of a manifest.
type ManifestStatus struct {
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt time.Time      `json:"decided_at,omitzero"`
	ID        string         `json:"id"`
	State     ManifestState  `json:"state"`
	Source    DecisionSource `json:"source,omitempty"`
	RiskLevel RiskLevel      `json:"risk_level"`
	Signed    bool           `json:"signed"`
}

// ApprovalRequest is the event surfaced to the approval channel. The
// only legal answer is a single decide call on ManifestID.
type ApprovalRequest struct {
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	ManifestID        string    `json:"id"`
	ActionDescription string    `json:"action_description"`
	ParametersJSON    string    `json:"parameters_json"`
	RiskLevel         RiskLevel `json:"risk_level"`
}
