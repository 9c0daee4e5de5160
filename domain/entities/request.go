package entities

import "encoding/json"

// ActionRequest is what the tool layer hands to the authorization core
// before performing a privileged operation.
type ActionRequest struct {
	// Parameters are the serialized action arguments, shown to the
	// approver and hashed into the manifest signature.
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Kind is the action kind.
	Kind ActionKind `json:"kind"`

	// Resource is the raw resource identifier as supplied by the agent.
	Resource string `json:"resource"`

	// TokenID optionally names a token obtained earlier. When empty the
	// core requests (or reuses) one.
	TokenID string `json:"token_id,omitempty"`

	// Description is the human-readable summary for the approver.
	Description string `json:"description,omitempty"`

	// Method is the HTTP method for network requests.
	Method string `json:"method,omitempty"`

	// Cost is the compute charge for the action. Zero uses the
	// configured per-kind cost.
	Cost uint64 `json:"cost,omitempty"`
}

// Authorization is the proof that an action passed every gate.
type Authorization struct {
	TokenID    string     `json:"token_id"`
	ManifestID string     `json:"manifest_id,omitempty"`
	Canonical  string     `json:"canonical"`
	Kind       ActionKind `json:"kind"`
	RiskLevel  RiskLevel  `json:"risk_level"`
	Gated      bool       `json:"gated"`
}
