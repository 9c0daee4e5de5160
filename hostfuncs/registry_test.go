package hostfuncs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sentinel-dev/sentinel/application/schema"
	"github.com/sentinel-dev/sentinel/wireformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopHandler(context.Context, []byte) ([]byte, error) { return nil, nil }

func TestNewRegistry_Construction(t *testing.T) {
	tests := []struct {
		name    string
		opts    []RegistryOption
		want    []string
		wantErr string
	}{
		{name: "empty", want: []string{}},
		{
			name: "names are sorted",
			opts: []RegistryOption{
				WithByteHandler(wireformat.ToolLogMessage, nopHandler),
				WithByteHandler(wireformat.ToolFSRead, nopHandler),
				WithByteHandler(wireformat.ToolCheckApproval, nopHandler),
			},
			want: []string{wireformat.ToolCheckApproval, wireformat.ToolFSRead, wireformat.ToolLogMessage},
		},
		{
			name: "duplicate name",
			opts: []RegistryOption{
				WithByteHandler(wireformat.ToolFSRead, nopHandler),
				WithByteHandler(wireformat.ToolFSRead, nopHandler),
			},
			wantErr: `duplicate tool name: "fs_read"`,
		},
		{
			name:    "empty name",
			opts:    []RegistryOption{WithByteHandler("", nopHandler)},
			wantErr: "tool name cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, reg.Names())
			for _, name := range tt.want {
				assert.True(t, reg.Has(name))
			}
			assert.False(t, reg.Has("fs_delete"))
		})
	}
}

func TestHandlerRegistry_Invoke(t *testing.T) {
	var seen string
	reg, err := NewRegistry(
		WithByteHandler("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
			seen = functionName(ctx)
			return append([]byte("echo:"), payload...), nil
		}),
	)
	require.NoError(t, err)

	resp, err := reg.Invoke(context.Background(), "echo", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(resp))
	assert.Equal(t, "echo", seen, "handlers see their own name through the host context")

	resp, err = reg.Invoke(context.Background(), "fs_delete", nil)
	require.NoError(t, err)
	var errResp wireformat.ErrorResponse
	require.NoError(t, json.Unmarshal(resp, &errResp))
	assert.Equal(t, wireformat.CodeNotFound, errResp.Error)
	assert.Equal(t, 404, errResp.Code)
	assert.Contains(t, errResp.Message, "fs_delete")
}

func TestHandlerRegistry_Calls(t *testing.T) {
	reg, err := NewRegistry(
		WithByteHandler(wireformat.ToolFSRead, nopHandler),
		WithByteHandler(wireformat.ToolFSWrite, nopHandler),
	)
	require.NoError(t, err)
	assert.Empty(t, reg.Calls())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Invoke(context.Background(), wireformat.ToolFSRead, nil)
		}()
	}
	wg.Wait()
	_, _ = reg.Invoke(context.Background(), "unknown", nil)

	assert.Equal(t, map[string]uint64{wireformat.ToolFSRead: 20}, reg.Calls())
}

func TestHandlerRegistry_MiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next ByteHandler) ByteHandler {
			return func(ctx context.Context, payload []byte) ([]byte, error) {
				order = append(order, name)
				return next(ctx, payload)
			}
		}
	}
	reg, err := NewRegistry(
		WithMiddleware(tag("outer"), tag("middle")),
		WithMiddleware(tag("inner")),
		WithByteHandler("t", func(context.Context, []byte) ([]byte, error) {
			order = append(order, "handler")
			return nil, nil
		}),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "middle", "inner", "handler"}, order)
}

func TestWithTool_PublishesRequestSchema(t *testing.T) {
	schemas := schema.NewRegistry()
	reg, err := NewRegistry(
		WithSchemaRegistry(schemas),
		WithTool(wireformat.ToolFSRead, func(_ context.Context, req wireformat.FSReadRequest) (*wireformat.FSReadResponse, error) {
			return &wireformat.FSReadResponse{Path: req.Path}, nil
		}),
		WithHandler("echo", func(_ context.Context, req echoReq) echoResp {
			return echoResp{Output: req.Input}
		}),
		WithByteHandler("raw", nopHandler),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"echo", wireformat.ToolFSRead}, schemas.List())
	assert.True(t, reg.Typed(wireformat.ToolFSRead))
	assert.False(t, reg.Typed("raw"))
	assert.False(t, reg.Typed("missing"))

	raw, ok := schemas.GetSchema(wireformat.ToolFSRead)
	require.True(t, ok)
	var doc struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, []string{"path"}, doc.Required)
	assert.Contains(t, doc.Properties, "token_id")

	resp, err := reg.Invoke(context.Background(), wireformat.ToolFSRead, []byte(`{"path":"/tmp/x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/tmp/x","content":"","size":0}`, string(resp))
}

func TestWithTool_SchemaConflictFailsConstruction(t *testing.T) {
	schemas := schema.NewRegistry(schema.WithStrictMode(true))
	require.NoError(t, schemas.Register(wireformat.ToolFSRead, wireformat.FSReadRequest{}))

	_, err := NewRegistry(
		WithSchemaRegistry(schemas),
		WithTool(wireformat.ToolFSRead, func(context.Context, wireformat.FSReadRequest) (*wireformat.FSReadResponse, error) {
			return nil, nil
		}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `request schema for "fs_read"`)
}
