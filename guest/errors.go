package guest

import (
	"fmt"

	"github.com/sentinel-dev/sentinel/wireformat"
)

// Error is a structured refusal from the host.
type Error struct {
	Details map[string]any `json:"details,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Kind    string         `json:"error"`
	Message string         `json:"message"`
	Reason  string         `json:"reason,omitempty"`
	Code    int            `json:"code"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Tool, e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Kind, e.Message)
}

// Is matches on Kind, and on Reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrPolicyViolation = &Error{Kind: wireformat.CodePolicyViolation}
	ErrCapability      = &Error{Kind: wireformat.CodeCapability}
	ErrBudgetExhausted = &Error{Kind: wireformat.CodeBudgetExhausted}
	ErrManifest        = &Error{Kind: wireformat.CodeManifest}
	ErrValidation      = &Error{Kind: wireformat.CodeValidation}
	ErrNotFound        = &Error{Kind: wireformat.CodeNotFound}
	ErrSSRFBlocked     = &Error{Kind: wireformat.CodeSSRFBlocked}
	ErrTimeout         = &Error{Kind: wireformat.CodeTimeout}
)
