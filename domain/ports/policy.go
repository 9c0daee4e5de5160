package ports

import "github.com/sentinel-dev/sentinel/domain/entities"

// Policy is the session's immutable policy store. All methods are safe
// for concurrent use.
type Policy interface {
	// Classify returns the risk level of an action.
	Classify(kind entities.ActionKind, resource string) entities.RiskLevel

	// NarrowestScope returns the most specific scope covering resource,
	// or false when no allow rule covers it (default-deny).
	NarrowestScope(kind entities.ActionKind, resource string) (entities.Scope, bool)

	// Canonicalize resolves a raw resource identifier into the form all
	// matching is done on. Filesystem canonicalization may touch disk.
	Canonicalize(kind entities.ActionKind, resource string) (string, error)

	// ScopeFor is NarrowestScope for an already canonical resource. It
	// performs no I/O.
	ScopeFor(kind entities.ActionKind, canonical string) (entities.Scope, bool)

	// Covers reports whether scope still authorizes a canonical resource.
	Covers(scope entities.Scope, canonical string) bool

	// ClassifyCanonical is Classify for an already canonical resource.
	ClassifyCanonical(kind entities.ActionKind, canonical string) entities.RiskLevel

	// AllowsMethod reports whether an HTTP method is allowed.
	AllowsMethod(method string) bool
}
