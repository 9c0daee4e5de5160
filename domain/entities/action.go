package entities

import (
	"fmt"
	"strings"
)

// ActionKind is the closed set of privileged operations an agent can
// request.
type ActionKind string

const (
	KindFileRead         ActionKind = "file_read"
	KindFileWrite        ActionKind = "file_write"
	KindNetworkRequest   ActionKind = "network_request"
	KindShellExec        ActionKind = "shell_exec"
	KindCredentialAccess ActionKind = "credential_access"
	KindFinancialOp      ActionKind = "financial_op"
	KindUIObserve        ActionKind = "ui_observe"
	KindUIDispatch       ActionKind = "ui_dispatch"
)

// ResourceClass determines how a resource identifier is canonicalized
// and matched.
type ResourceClass int

const (
	ResourceInvalid ResourceClass = iota
	ResourcePath                  // filesystem path
	ResourceURL                   // network endpoint
	ResourceCommand               // command line, matched on argv[0]
	ResourceName                  // opaque name (credential id, account, event type)
)

// String returns the class name used in logs.
func (c ResourceClass) String() string {
	switch c {
	case ResourcePath:
		return "path"
	case ResourceURL:
		return "url"
	case ResourceCommand:
		return "command"
	case ResourceName:
		return "name"
	default:
		return "invalid"
	}
}

var allKinds = []ActionKind{
	KindFileRead,
	KindFileWrite,
	KindNetworkRequest,
	KindShellExec,
	KindCredentialAccess,
	KindFinancialOp,
	KindUIObserve,
	KindUIDispatch,
}

// AllActionKinds returns every known kind in declaration order.
func AllActionKinds() []ActionKind {
	out := make([]ActionKind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseActionKind parses a kind name. Matching is case-insensitive and
// accepts '-' in place of '_'.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// IsValid reports whether k is one of the declared kinds.
func (k ActionKind) IsValid() bool {
	return k.Class() != ResourceInvalid
}

// Class returns the resource class of k.
func (k ActionKind) Class() ResourceClass {
	switch k {
	case KindFileRead, KindFileWrite:
		return ResourcePath
	case KindNetworkRequest:
		return ResourceURL
	case KindShellExec:
		return ResourceCommand
	case KindCredentialAccess, KindFinancialOp, KindUIObserve, KindUIDispatch:
		return ResourceName
	default:
		return ResourceInvalid
	}
}

// String implements fmt.Stringer.
func (k ActionKind) String() string { return string(k) }
