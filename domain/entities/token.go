package entities

import "time"

// CapabilityToken is a scoped, time-bounded grant of one kind of access.
// Tokens are owned by the session's token store; agents only ever hold
// the ID.
type CapabilityToken struct {
	IssuedAt time.Time     `json:"issued_at"`
	ID       string        `json:"id"`
	Scope    Scope         `json:"scope"`
	TTL      time.Duration `json:"ttl"`
	Revoked  bool          `json:"revoked"`
}

// ExpiresAt returns the instant the token stops being valid.
func (t *CapabilityToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// IsValid reports whether the token authorizes anything at now.
func (t *CapabilityToken) IsValid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt())
}

// Summary returns the observer view of the token.
func (t *CapabilityToken) Summary(now time.Time) TokenSummary {
	return TokenSummary{
		ID:        t.ID,
		Kind:      t.Scope.Kind,
		Scope:     t.Scope.String(),
		IsValid:   t.IsValid(now),
		ExpiresAt: t.ExpiresAt(),
	}
}

// TokenSummary is what the UI token panel sees: identity, scope and
// validity, never the decision logic.
type TokenSummary struct {
	ExpiresAt time.Time  `json:"expires_at"`
	ID        string     `json:"id"`
	Kind      ActionKind `json:"kind"`
	Scope     string     `json:"scope"`
	IsValid   bool       `json:"is_valid"`
}
