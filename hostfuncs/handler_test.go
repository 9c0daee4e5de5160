package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sentinel-dev/sentinel/wireformat"
)

type echoReq struct {
	Input string `json:"input"`
}

type echoResp struct {
	Output string `json:"output"`
}

func TestNewJSONHandler(t *testing.T) {
	handler := NewJSONHandler(func(_ context.Context, req echoReq) echoResp {
		return echoResp{Output: "echo: " + req.Input}
	})

	t.Run("success", func(t *testing.T) {
		respBytes, err := handler(context.Background(), []byte(`{"input":"hello"}`))
		require.NoError(t, err)

		var resp echoResp
		require.NoError(t, json.Unmarshal(respBytes, &resp))
		assert.Equal(t, "echo: hello", resp.Output)
	})

	t.Run("empty payload decodes as zero request", func(t *testing.T) {
		respBytes, err := handler(context.Background(), nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"output":"echo: "}`, string(respBytes))
	})

	t.Run("invalid JSON returns ErrorResponse", func(t *testing.T) {
		respBytes, err := handler(context.Background(), []byte("{invalid-json"))
		require.NoError(t, err)

		var errResp wireformat.ErrorResponse
		require.NoError(t, json.Unmarshal(respBytes, &errResp))
		assert.Equal(t, wireformat.CodeValidation, errResp.Error)
		assert.Equal(t, 400, errResp.Code)
		assert.Contains(t, errResp.Message, "malformed request")
	})
}

func TestNewToolHandler_MapsErrors(t *testing.T) {
	handler := NewToolHandler(func(_ context.Context, req wireformat.FSReadRequest) (*wireformat.FSReadResponse, error) {
		if req.Path == "/etc/shadow" {
			return nil, &errors.PolicyViolationError{Kind: entities.KindFileRead, Resource: req.Path, Reason: "no allow rule covers resource"}
		}
		if req.Path == "" {
			return nil, fmt.Errorf("boom")
		}
		return &wireformat.FSReadResponse{Path: req.Path, Content: "ok", Size: 2}, nil
	})

	respBytes, err := handler(context.Background(), []byte(`{"path":"/etc/shadow"}`))
	require.NoError(t, err)
	var errResp wireformat.ErrorResponse
	require.NoError(t, json.Unmarshal(respBytes, &errResp))
	assert.Equal(t, wireformat.CodePolicyViolation, errResp.Error)
	assert.Equal(t, 403, errResp.Code)
	assert.Equal(t, "/etc/shadow", errResp.Details["resource"])

	respBytes, err = handler(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(respBytes, &errResp))
	assert.Equal(t, wireformat.CodeInternal, errResp.Error)

	respBytes, err = handler(context.Background(), []byte(`{"path":"/tmp/a"}`))
	require.NoError(t, err)
	var resp wireformat.FSReadResponse
	require.NoError(t, json.Unmarshal(respBytes, &resp))
	assert.Equal(t, "ok", resp.Content)
}
