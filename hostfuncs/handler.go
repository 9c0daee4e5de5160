package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
)

// HostFunc is an infallible typed host function.
type HostFunc[Req any, Resp any] func(context.Context, Req) Resp

// ToolFunc is a typed host function that can fail. Errors are rendered
// as ErrorResponse JSON.
type ToolFunc[Req any, Resp any] func(context.Context, Req) (Resp, error)

// ByteHandler is a function that accepts raw bytes (JSON) and returns raw bytes (JSON).
// This is the common interface that WASM runtimes can easily use.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewJSONHandler wraps a typed HostFunc into a ByteHandler. Malformed
// requests produce a VALIDATION_ERROR response.
func NewJSONHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return NewToolHandler(func(ctx context.Context, req Req) (Resp, error) {
		return fn(ctx, req), nil
	})
}

// NewToolHandler wraps a typed ToolFunc into a ByteHandler.
//
// Usage:
//
//	read := hostfuncs.NewToolHandler(func(ctx context.Context, req hostfuncs.FSReadRequest) (*hostfuncs.FSReadResponse, error) {
//	    return tools.ReadFile(ctx, req)
//	})
//	respBytes, err := read(ctx, reqBytes)
func NewToolHandler[Req any, Resp any](fn ToolFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return NewValidationError("malformed request: " + err.Error()).ToJSON(), nil
			}
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return FromError(err).ToJSON(), nil
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return respBytes, nil
	}
}
