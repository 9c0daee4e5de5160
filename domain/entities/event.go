package entities

import "time"

// EventType names an audit event.
type EventType string

const (
	EventTokenMinted       EventType = "token.minted"
	EventTokenReused       EventType = "token.reused"
	EventTokenDenied       EventType = "token.denied"
	EventTokenInvalid      EventType = "token.validate_failed"
	EventTokenRevoked      EventType = "token.revoked"
	EventTokenExpired      EventType = "token.expired"
	EventBudgetCharged     EventType = "budget.charged"
	EventBudgetExhausted   EventType = "budget.exhausted"
	EventManifestSubmitted EventType = "manifest.submitted"
	EventManifestApproved  EventType = "manifest.approved"
	EventManifestRejected  EventType = "manifest.rejected"
	EventManifestExpired   EventType = "manifest.expired"
	EventManifestConsumed  EventType = "manifest.consumed"
	EventManifestReplay    EventType = "manifest.replay_blocked"
	EventSessionClosed     EventType = "session.closed"
)

// AuditEvent is one entry of the append-only audit record.
type AuditEvent struct {
	Time       time.Time      `json:"time"`
	Details    map[string]any `json:"details,omitempty"`
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Kind       ActionKind     `json:"kind,omitempty"`
	Resource   string         `json:"resource,omitempty"`
	TokenID    string         `json:"token_id,omitempty"`
	ManifestID string         `json:"manifest_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Seq        uint64         `json:"seq"`
}

// Target returns the log target the event is reported under.
func (e AuditEvent) Target() string {
	switch e.Type {
	case EventBudgetCharged, EventBudgetExhausted:
		return "sentinel::budget"
	case EventManifestSubmitted, EventManifestApproved, EventManifestRejected,
		EventManifestExpired, EventManifestConsumed, EventManifestReplay:
		return "sentinel::hitl"
	case EventSessionClosed:
		return "sentinel::session"
	default:
		return "sentinel::capabilities"
	}
}

// IsFailure reports whether the event records a denial or a trap.
func (e AuditEvent) IsFailure() bool {
	switch e.Type {
	case EventTokenDenied, EventTokenInvalid, EventBudgetExhausted,
		EventManifestRejected, EventManifestExpired, EventManifestReplay:
		return true
	}
	return false
}

// LogEntry is one line of the UI log stream.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Target  string    `json:"target"`
	Message string    `json:"message"`
	Attrs   []LogAttr `json:"attrs,omitempty"`
}

// LogAttr is a flattened structured attribute.
type LogAttr struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}
