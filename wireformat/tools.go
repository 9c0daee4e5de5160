// Package wireformat defines the JSON contract between the sentinel host
// tools and wasm guests. Every tool takes one request object and returns
// either its response object or an ErrorResponse.
package wireformat

import (
	"encoding/json"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// Tool names exposed to the guest.
const (
	ToolRequestCapability = "request_capability"
	ToolReleaseCapability = "release_capability"
	ToolFSRead            = "fs_read"
	ToolFSWrite           = "fs_write"
	ToolFSList            = "fs_list"
	ToolHTTPRequest       = "http_request"
	ToolExecCommand       = "exec_command"
	ToolSubmitManifest    = "submit_manifest"
	ToolAwaitApproval     = "await_approval"
	ToolCheckApproval     = "check_approval"
	ToolLogMessage        = "log_message"
)

// CapabilityRequest asks for a token covering one resource.
type CapabilityRequest struct {
	Kind     entities.ActionKind `json:"kind"`
	Resource string              `json:"resource"`
}

type CapabilityResponse struct {
	TokenID string `json:"token_id"`
}

type ReleaseRequest struct {
	TokenID string `json:"token_id"`
}

type ReleaseResponse struct {
	Released bool `json:"released"`
}

// FSReadRequest reads a whole file. Files larger than the policy's
// max_read_bytes are refused, not truncated.
type FSReadRequest struct {
	Path    string `json:"path"`
	TokenID string `json:"token_id,omitempty"`
}

type FSReadResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

type FSWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	TokenID string `json:"token_id,omitempty"`
	Append  bool   `json:"append,omitempty"`
}

type FSWriteResponse struct {
	BytesWritten int `json:"bytes_written"`
}

type FSListRequest struct {
	Path    string `json:"path"`
	TokenID string `json:"token_id,omitempty"`
}

type FSListEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Dir  bool   `json:"dir"`
}

type FSListResponse struct {
	Path    string        `json:"path"`
	Entries []FSListEntry `json:"entries"`
}

// ExecRequest runs one program without a shell. Env entries are
// filtered before the program sees them.
type ExecRequest struct {
	Command string   `json:"command"`
	Dir     string   `json:"dir,omitempty"`
	TokenID string   `json:"token_id,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	Timeout int      `json:"timeout_ms,omitempty"`
}

type ExecResponse struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExecutionType string `json:"execution_type"`
	ExitCode      int    `json:"exit_code"`
	DurationMs    int64  `json:"duration_ms"`
	TimedOut      bool   `json:"timed_out,omitempty"`
	Truncated     bool   `json:"truncated,omitempty"`
}

// SubmitManifestRequest proposes an action for human approval.
type SubmitManifestRequest struct {
	Parameters  map[string]any     `json:"parameters,omitempty"`
	Description string             `json:"description"`
	RiskLevel   entities.RiskLevel `json:"risk_level"`
}

type SubmitManifestResponse struct {
	ManifestID string `json:"manifest_id"`
}

type ManifestRequest struct {
	ManifestID string `json:"manifest_id"`
}

type AwaitApprovalResponse struct {
	ManifestID string `json:"manifest_id"`
	Approved   bool   `json:"approved"`
}

// LogMessageRequest is a guest log line forwarded to the UI stream.
type LogMessageRequest struct {
	Attrs   map[string]any `json:"attrs,omitempty"`
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Target  string         `json:"target,omitempty"`
}

type LogMessageResponse struct{}

// HTTPRequest contains parameters for an HTTP request.
type HTTPRequest struct {
	// Headers contains request headers.
	Headers map[string]string `json:"headers,omitempty"`

	// FollowRedirects controls whether to follow redirects. Default is true.
	FollowRedirects *bool `json:"follow_redirects,omitempty"`

	// Method is the HTTP method. Default is GET.
	Method string `json:"method,omitempty"`

	// URL is the target URL.
	URL string `json:"url"`

	// TokenID optionally names a token from request_capability.
	TokenID string `json:"token_id,omitempty"`

	// Body is the request body (for POST, PUT, etc.).
	Body []byte `json:"body,omitempty"`

	// Timeout is the request timeout in milliseconds. It can only shorten
	// the configured timeout.
	Timeout int `json:"timeout_ms,omitempty"`
}

// HTTPResponse contains the result of an HTTP request.
type HTTPResponse struct {
	// Headers contains response headers.
	Headers map[string][]string `json:"headers,omitempty"`

	// Body is the response body.
	Body []byte `json:"body,omitempty"`

	// StatusCode is the HTTP status code.
	StatusCode int `json:"status_code"`

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64 `json:"latency_ms,omitempty"`

	// BodyTruncated indicates if the body was truncated due to size limits.
	BodyTruncated bool `json:"body_truncated,omitempty"`
}

// Error identifiers returned to the guest.
const (
	CodePolicyViolation = "POLICY_VIOLATION"
	CodeCapability      = "CAPABILITY_ERROR"
	CodeBudgetExhausted = "BUDGET_EXHAUSTED"
	CodeManifest        = "MANIFEST_ERROR"
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeSSRFBlocked     = "SSRF_BLOCKED"
	CodeNetwork         = "NETWORK_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse represents a structured error that can be returned as JSON to the guest.
// The guest always receives a parseable answer instead of a trap.
type ErrorResponse struct {
	// Details carries the typed error's fields (kind, resource, token id...).
	Details map[string]any `json:"details,omitempty"`

	// Error is a machine-readable error type identifier (e.g. "POLICY_VIOLATION").
	Error string `json:"error"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Reason refines Error (e.g. "expired" for a CAPABILITY_ERROR).
	Reason string `json:"reason,omitempty"`

	// Code is an HTTP-like status (403, 429, 500...).
	Code int `json:"code"`
}

// ToJSON serializes the ErrorResponse to JSON bytes.
// Returns nil if serialization fails (which should never happen for this simple type).
func (e ErrorResponse) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

