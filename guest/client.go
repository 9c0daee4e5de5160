// Package guest is the SDK linked into wasm programs that run under
// sentinel. Every method is one round trip to a host tool; denials come
// back as *Error values and never trap the guest.
package guest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/wireformat"
)

// ErrNoHost is returned when the program was not built for wasip1 and no
// transport was configured.
var ErrNoHost = stderrors.New("guest: no sentinel host available")

// Transport sends one encoded request to the named host tool and returns
// the encoded answer.
type Transport func(ctx context.Context, tool string, request []byte) ([]byte, error)

type clientConfig struct {
	transport Transport
}

func defaultClientConfig() clientConfig {
	return clientConfig{transport: hostTransport}
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithTransport replaces the wasm import transport. Tests and native
// embeddings use it to talk to an in-process registry.
func WithTransport(t Transport) ClientOption {
	return func(c *clientConfig) {
		if t != nil {
			c.transport = t
		}
	}
}

// Client calls sentinel host tools.
type Client struct {
	config clientConfig
}

// New creates a Client.
func New(opts ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{config: cfg}
}

// envelope picks the error fields out of any tool answer.
type envelope struct {
	Error string `json:"error"`
}

func call[Req any, Resp any](ctx context.Context, c *Client, tool string, req Req) (*Resp, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("guest: encode %s request: %w", tool, err)
	}
	raw, err := c.config.transport(ctx, tool, payload)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("guest: empty answer from %s", tool)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		var wire wireformat.ErrorResponse
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("guest: decode %s error: %w", tool, err)
		}
		return nil, &Error{
			Tool:    tool,
			Kind:    wire.Error,
			Message: wire.Message,
			Reason:  wire.Reason,
			Code:    wire.Code,
			Details: wire.Details,
		}
	}

	out := new(Resp)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("guest: decode %s response: %w", tool, err)
	}
	return out, nil
}

// RequestCapability obtains a token for one resource. Passing the token
// to later calls skips the per-call policy lookup.
func (c *Client) RequestCapability(ctx context.Context, kind entities.ActionKind, resource string) (string, error) {
	resp, err := call[wireformat.CapabilityRequest, wireformat.CapabilityResponse](ctx, c, wireformat.ToolRequestCapability,
		wireformat.CapabilityRequest{Kind: kind, Resource: resource})
	if err != nil {
		return "", err
	}
	return resp.TokenID, nil
}

// ReleaseCapability revokes a token early.
func (c *Client) ReleaseCapability(ctx context.Context, tokenID string) error {
	_, err := call[wireformat.ReleaseRequest, wireformat.ReleaseResponse](ctx, c, wireformat.ToolReleaseCapability,
		wireformat.ReleaseRequest{TokenID: tokenID})
	return err
}

// ReadFile returns the content of path. tokenID may be empty.
func (c *Client) ReadFile(ctx context.Context, path, tokenID string) (string, error) {
	resp, err := call[wireformat.FSReadRequest, wireformat.FSReadResponse](ctx, c, wireformat.ToolFSRead,
		wireformat.FSReadRequest{Path: path, TokenID: tokenID})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// WriteFile replaces path with content.
func (c *Client) WriteFile(ctx context.Context, path, content, tokenID string) (int, error) {
	return c.write(ctx, wireformat.FSWriteRequest{Path: path, Content: content, TokenID: tokenID})
}

// AppendFile appends content to path, creating it if needed.
func (c *Client) AppendFile(ctx context.Context, path, content, tokenID string) (int, error) {
	return c.write(ctx, wireformat.FSWriteRequest{Path: path, Content: content, TokenID: tokenID, Append: true})
}

func (c *Client) write(ctx context.Context, req wireformat.FSWriteRequest) (int, error) {
	resp, err := call[wireformat.FSWriteRequest, wireformat.FSWriteResponse](ctx, c, wireformat.ToolFSWrite, req)
	if err != nil {
		return 0, err
	}
	return resp.BytesWritten, nil
}

// ListDir lists the entries of a directory.
func (c *Client) ListDir(ctx context.Context, path, tokenID string) ([]wireformat.FSListEntry, error) {
	resp, err := call[wireformat.FSListRequest, wireformat.FSListResponse](ctx, c, wireformat.ToolFSList,
		wireformat.FSListRequest{Path: path, TokenID: tokenID})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// HTTP performs an outbound request through the host.
func (c *Client) HTTP(ctx context.Context, req wireformat.HTTPRequest) (*wireformat.HTTPResponse, error) {
	return call[wireformat.HTTPRequest, wireformat.HTTPResponse](ctx, c, wireformat.ToolHTTPRequest, req)
}

// Exec runs a command through the host. A non-zero exit status is not an
// error; check ExitCode.
func (c *Client) Exec(ctx context.Context, req wireformat.ExecRequest) (*wireformat.ExecResponse, error) {
	return call[wireformat.ExecRequest, wireformat.ExecResponse](ctx, c, wireformat.ToolExecCommand, req)
}

// SubmitManifest proposes an action for approval and returns its id.
// Actions below the policy's approval threshold are approved at once.
func (c *Client) SubmitManifest(ctx context.Context, description string, risk entities.RiskLevel, params map[string]any) (string, error) {
	resp, err := call[wireformat.SubmitManifestRequest, wireformat.SubmitManifestResponse](ctx, c, wireformat.ToolSubmitManifest,
		wireformat.SubmitManifestRequest{Description: description, RiskLevel: risk, Parameters: params})
	if err != nil {
		return "", err
	}
	return resp.ManifestID, nil
}

// AwaitApproval blocks until the manifest is decided. A rejection, an
// expiry or a tampered signature is returned as an *Error with kind
// MANIFEST_ERROR.
func (c *Client) AwaitApproval(ctx context.Context, manifestID string) error {
	resp, err := call[wireformat.ManifestRequest, wireformat.AwaitApprovalResponse](ctx, c, wireformat.ToolAwaitApproval,
		wireformat.ManifestRequest{ManifestID: manifestID})
	if err != nil {
		return err
	}
	if !resp.Approved {
		return &Error{Tool: wireformat.ToolAwaitApproval, Kind: wireformat.CodeManifest, Message: "manifest not approved"}
	}
	return nil
}

// CheckApproval reports the manifest state without blocking.
func (c *Client) CheckApproval(ctx context.Context, manifestID string) (*entities.ManifestStatus, error) {
	return call[wireformat.ManifestRequest, entities.ManifestStatus](ctx, c, wireformat.ToolCheckApproval,
		wireformat.ManifestRequest{ManifestID: manifestID})
}

// Log forwards one line to the host log stream.
func (c *Client) Log(ctx context.Context, msg wireformat.LogMessageRequest) error {
	_, err := call[wireformat.LogMessageRequest, wireformat.LogMessageResponse](ctx, c, wireformat.ToolLogMessage, msg)
	return err
}
