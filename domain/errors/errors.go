// Package errors provides the typed error taxonomy of the authorization
// core. All error types support errors.As, and errors.Is against the
// exported sentinel values.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// Sentinel values for errors.Is.
var (
	ErrPolicyViolation  = stdErrors.New("policy violation")
	ErrTokenExpired     = stdErrors.New("capability token expired")
	ErrTokenRevoked     = stdErrors.New("capability token revoked")
	ErrOutOfScope       = stdErrors.New("resource out of token scope")
	ErrUnknownToken     = stdErrors.New("unknown capability token")
	ErrKindMismatch     = stdErrors.New("capability token kind mismatch")
	ErrBudgetExhausted  = stdErrors.New("session budget exhausted")
	ErrAlreadyDecided   = stdErrors.New("manifest already decided")
	ErrNotApproved      = stdErrors.New("manifest not approved")
	ErrManifestExpired  = stdErrors.New("manifest expired")
	ErrReplayDetected   = stdErrors.New("manifest replay detected")
	ErrSignatureInvalid = stdErrors.New("manifest signature invalid")
	ErrManifestNotFound = stdErrors.New("manifest not found")
	ErrCancelled        = stdErrors.New("session cancelled")
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// DetailedError is implemented by errors that can describe themselves
// as a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to a structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	detail := &entities.ErrorDetail{Message: err.Error(), Type: "internal"}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		detail.Type = "timeout"
		detail.IsTimeout = true
	}
	return detail
}

// IsAuthorizationFailure reports whether err is one of the typed
// authorization outcomes (as opposed to an I/O or internal error).
func IsAuthorizationFailure(err error) bool {
	var (
		pv *PolicyViolationError
		ce *CapabilityError
		be *BudgetExhaustedError
		me *ManifestError
	)
	return stdErrors.As(err, &pv) || stdErrors.As(err, &ce) || stdErrors.As(err, &be) || stdErrors.As(err, &me)
}

// PolicyViolationError means no policy pattern covers the resource, or
// a deny rule wins. It is permanent until the policy changes.
type PolicyViolationError struct {
	Kind     entities.ActionKind
	Resource string
	Reason   string
}

func (e *PolicyViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("policy violation: %s %s: %s", e.Kind, e.Resource, e.Reason)
	}
	return fmt.Sprintf("policy violation: %s %s", e.Kind, e.Resource)
}

// Is matches ErrPolicyViolation.
func (e *PolicyViolationError) Is(target error) bool { return target == ErrPolicyViolation }

// ToErrorDetail implements DetailedError.
func (e *PolicyViolationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Error(),
		Type:    "policy",
		Code:    "policy_violation",
		Details: map[string]any{"kind": string(e.Kind), "resource": e.Resource, "reason": e.Reason},
	}
}

// CapabilityReason says why a token no longer authorizes a use.
type CapabilityReason string

const (
	ReasonExpired      CapabilityReason = "expired"
	ReasonRevoked      CapabilityReason = "revoked"
	ReasonOutOfScope   CapabilityReason = "out_of_scope"
	ReasonUnknownToken CapabilityReason = "unknown_token"
	ReasonKindMismatch CapabilityReason = "kind_mismatch"
)

// CapabilityError means the token does not authorize this use. The
// caller must request a new token.
type CapabilityError struct {
	Reason   CapabilityReason
	TokenID  string
	Kind     entities.ActionKind
	Resource string
}

func (e *CapabilityError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("capability %s: token %s for %s %s", e.Reason, e.TokenID, e.Kind, e.Resource)
	}
	return fmt.Sprintf("capability %s: token %s", e.Reason, e.TokenID)
}

// Is matches the sentinel for the reason.
func (e *CapabilityError) Is(target error) bool {
	switch e.Reason {
	case ReasonExpired:
		return target == ErrTokenExpired
	case ReasonRevoked:
		return target == ErrTokenRevoked
	case ReasonOutOfScope:
		return target == ErrOutOfScope
	case ReasonUnknownToken:
		return target == ErrUnknownToken
	case ReasonKindMismatch:
		return target == ErrKindMismatch
	}
	return false
}

// ToErrorDetail implements DetailedError.
func (e *CapabilityError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message:    e.Error(),
		Type:       "capability",
		Code:       string(e.Reason),
		IsNotFound: e.Reason == ReasonUnknownToken,
		Details:    map[string]any{"token_id": e.TokenID, "kind": string(e.Kind), "resource": e.Resource},
	}
}

// BudgetExhaustedError means a session ceiling was crossed. The session
// stays exhausted; it is never retried automatically.
type BudgetExhaustedError struct {
	Dimension entities.BudgetDimension
	Requested uint64
	Limit     uint64
	Reason    string
}

func (e *BudgetExhaustedError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("budget exhausted (%s): %s", e.Dimension, e.Reason)
	case e.Limit > 0:
		return fmt.Sprintf("budget exhausted (%s): requested %d, limit %d", e.Dimension, e.Requested, e.Limit)
	default:
		return fmt.Sprintf("budget exhausted (%s)", e.Dimension)
	}
}

// Is matches ErrBudgetExhausted.
func (e *BudgetExhaustedError) Is(target error) bool { return target == ErrBudgetExhausted }

// ToErrorDetail implements DetailedError.
func (e *BudgetExhaustedError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message:   e.Error(),
		Type:      "budget",
		Code:      string(e.Dimension),
		IsTimeout: e.Dimension == entities.DimensionTimeout,
		Details:   map[string]any{"requested": e.Requested, "limit": e.Limit},
	}
}

// ManifestReason says why a manifest cannot (or can no longer) authorize
// execution.
type ManifestReason string

const (
	ReasonAlreadyDecided   ManifestReason = "already_decided"
	ReasonNotApproved      ManifestReason = "not_approved"
	ReasonManifestExpired  ManifestReason = "expired"
	ReasonReplayDetected   ManifestReason = "replay_detected"
	ReasonSignatureInvalid ManifestReason = "signature_invalid"
	ReasonNotFound         ManifestReason = "not_found"
	ReasonCancelled        ManifestReason = "cancelled"
)

// ManifestError is terminal for the manifest; callers resubmit a new
// manifest instead of retrying.
type ManifestError struct {
	Reason     ManifestReason
	ManifestID string
	Detail     string
}

func (e *ManifestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("manifest %s: %s: %s", e.ManifestID, e.Reason, e.Detail)
	}
	return fmt.Sprintf("manifest %s: %s", e.ManifestID, e.Reason)
}

// Is matches the sentinel for the reason. Cancelled also matches
// context.Canceled.
func (e *ManifestError) Is(target error) bool {
	switch e.Reason {
	case ReasonAlreadyDecided:
		return target == ErrAlreadyDecided
	case ReasonNotApproved:
		return target == ErrNotApproved
	case ReasonManifestExpired:
		return target == ErrManifestExpired
	case ReasonReplayDetected:
		return target == ErrReplayDetected
	case ReasonSignatureInvalid:
		return target == ErrSignatureInvalid
	case ReasonNotFound:
		return target == ErrManifestNotFound
	case ReasonCancelled:
		return target == ErrCancelled || target == context.Canceled
	}
	return false
}

// ToErrorDetail implements DetailedError.
func (e *ManifestError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message:    e.Error(),
		Type:       "manifest",
		Code:       string(e.Reason),
		IsTimeout:  e.Reason == ReasonManifestExpired,
		IsNotFound: e.Reason == ReasonNotFound,
		Details:    map[string]any{"manifest_id": e.ManifestID},
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "config", Code: e.Field}
}

// SchemaError represents a schema generation or validation error.
type SchemaError struct {
	Err  error
	Type string
}

func (e *SchemaError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("schema error for %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("schema error: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *SchemaError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "validation", Code: "schema"}
}

// NetworkError represents a failed outbound request performed by a tool.
type NetworkError struct {
	Err       error
	Operation string
	Target    string
}

func (e *NetworkError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("network %s failed for %s: %v", e.Operation, e.Target, e.Err)
	}
	return fmt.Sprintf("network %s failed: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *NetworkError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "network", Code: e.Operation}
}

// TimeoutError represents a tool operation that ran out of time.
type TimeoutError struct {
	Operation string
	Target    string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s timeout after %v (target: %s)", e.Operation, e.Duration, e.Target)
	}
	return fmt.Sprintf("%s timeout after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// ToErrorDetail implements DetailedError.
func (e *TimeoutError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "timeout", Code: e.Operation, IsTimeout: true}
}
