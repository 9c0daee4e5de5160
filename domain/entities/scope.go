package entities

// Scope is the resource pattern a capability token authorizes.
type Scope struct {
	// Kind is the action kind the scope applies to.
	Kind ActionKind `json:"kind"`

	// Pattern is the canonical pattern. For exact scopes it is the
	// canonical resource itself.
	Pattern string `json:"pattern"`

	// Rule is the policy allow pattern that admitted the scope.
	Rule string `json:"rule"`

	// Exact is true when Pattern names a single resource.
	Exact bool `json:"exact"`
}

// String renders the scope as "kind:pattern".
func (s Scope) String() string {
	return string(s.Kind) + ":" + s.Pattern
}

// ScopeMode selects how narrow minted scopes are.
type ScopeMode string

const (
	// ScopeModeExact mints a scope naming only the requested resource.
	ScopeModeExact ScopeMode = "exact"
	// ScopeModePattern mints the most specific matching policy pattern,
	// so one token covers sibling resources.
	ScopeModePattern ScopeMode = "pattern"
)
