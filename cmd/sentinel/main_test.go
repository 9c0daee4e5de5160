package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-dev/sentinel/infrastructure/audit"
	"github.com/sentinel-dev/sentinel/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// workspace returns a resolved temp dir holding notes.txt and a policy
// that allows reading inside it.
func workspace(t *testing.T) (dir, policyPath string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))

	policyPath = filepath.Join(dir, "policy.yaml")
	doc := "filesystem:\n  read:\n    allow: [\"" + dir + "/**\"]\n" +
		"network:\n  urls:\n    allow: [\"https://api.example.com/**\"]\n" +
		"hitl:\n  threshold: high\n"
	require.NoError(t, os.WriteFile(policyPath, []byte(doc), 0o600))
	return dir, policyPath
}

func TestSchemaCmd(t *testing.T) {
	t.Run("policy", func(t *testing.T) {
		out, _, err := execute(t, "schema")
		require.NoError(t, err)
		assert.Contains(t, out, "filesystem")
		assert.True(t, json.Valid([]byte(out)))
	})

	t.Run("list tools", func(t *testing.T) {
		out, _, err := execute(t, "schema", "--list-tools", "-o", "json")
		require.NoError(t, err)
		var names []string
		require.NoError(t, json.Unmarshal([]byte(out), &names))
		assert.Contains(t, names, "fs_read")
		assert.Contains(t, names, "exec_command")
	})

	t.Run("one tool", func(t *testing.T) {
		out, _, err := execute(t, "schema", "--tool", "fs_read")
		require.NoError(t, err)
		assert.Contains(t, out, `"path"`)
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, _, err := execute(t, "schema", "--tool", "teleport")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown tool")
	})
}

func TestValidateCmd(t *testing.T) {
	_, policyPath := workspace(t)

	t.Run("valid", func(t *testing.T) {
		out, _, err := execute(t, "validate", policyPath)
		require.NoError(t, err)
		assert.Contains(t, out, "valid")
		assert.NotContains(t, out, "invalid")
	})

	t.Run("invalid threshold", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("hitl:\n  threshold: sometimes\n"), 0o600))

		out, _, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Contains(t, out, "invalid")
	})

	t.Run("broad rule fails strict", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("filesystem:\n  read:\n    allow: [\"/**\"]\n"), 0o600))

		out, _, err := execute(t, "validate", path, "-o", "json")
		require.NoError(t, err)
		assert.Contains(t, out, "overly broad")

		_, _, err = execute(t, "validate", path, "--strict")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestClassifyCmd(t *testing.T) {
	dir, policyPath := workspace(t)

	classify := func(t *testing.T, args ...string) classification {
		t.Helper()
		out, _, err := execute(t, append([]string{"classify", "-p", policyPath, "-o", "json", "--log-level", "error"}, args...)...)
		require.NoError(t, err)
		var c classification
		require.NoError(t, json.Unmarshal([]byte(out), &c))
		return c
	}

	t.Run("allowed read", func(t *testing.T) {
		c := classify(t, "file_read", filepath.Join(dir, "notes.txt"))
		assert.True(t, c.Allowed)
		assert.Equal(t, filepath.Join(dir, "notes.txt"), c.Canonical)
		assert.NotEmpty(t, c.Scope)
	})

	t.Run("traversal is canonicalized", func(t *testing.T) {
		c := classify(t, "file_read", dir+"/sub/../notes.txt")
		assert.True(t, c.Allowed)
		assert.Equal(t, filepath.Join(dir, "notes.txt"), c.Canonical)
	})

	t.Run("write denied", func(t *testing.T) {
		c := classify(t, "file_write", filepath.Join(dir, "notes.txt"))
		assert.False(t, c.Allowed)
		assert.NotEmpty(t, c.Reason)
	})

	t.Run("method not allowed", func(t *testing.T) {
		c := classify(t, "network_request", "https://api.example.com/v1", "--method", "TRACE")
		assert.False(t, c.Allowed)
		assert.Contains(t, c.Reason, "TRACE")
	})

	t.Run("credential needs approval", func(t *testing.T) {
		c := classify(t, "credential_access", "AWS_SECRET_ACCESS_KEY")
		assert.False(t, c.Allowed)
		assert.True(t, c.RequiresApproval)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, _, err := execute(t, "classify", "-p", policyPath, "teleport", "x")
		assert.Error(t, err)
	})

	t.Run("text output", func(t *testing.T) {
		out, _, err := execute(t, "classify", "-p", policyPath, "--log-level", "error", "file_read", filepath.Join(dir, "notes.txt"))
		require.NoError(t, err)
		assert.Contains(t, out, "allowed (risk")
	})
}

func TestRunCmd(t *testing.T) {
	dir, policyPath := workspace(t)

	guestPath := filepath.Join(dir, "agent.wasm")
	wasm := testutil.WasmModule{Funcs: []testutil.WasmFunc{{Export: "_start"}}}.Encode()
	require.NoError(t, os.WriteFile(guestPath, wasm, 0o600))

	journal := filepath.Join(dir, "audit", "journal.jsonl")
	stream := filepath.Join(dir, "stream.jsonl")
	_, stderr, err := execute(t, "run", guestPath,
		"-p", policyPath,
		"--journal", journal,
		"--log-stream", stream,
		"--summary", "-o", "json",
		"--log-level", "error",
	)
	require.NoError(t, err)

	var summary runSummary
	require.NoError(t, json.Unmarshal([]byte(stderr), &summary))
	assert.NotEmpty(t, summary.SessionID)
	assert.Equal(t, "agent", summary.Guest)
	assert.Empty(t, summary.Error)

	f, err := os.Open(journal)
	require.NoError(t, err)
	defer f.Close()
	events, err := audit.ReadJournal(f)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "session.closed", string(events[len(events)-1].Type))

	data, err := os.ReadFile(stream)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session.closed")
}

func TestRunCmd_MissingEntrypoint(t *testing.T) {
	dir, policyPath := workspace(t)

	guestPath := filepath.Join(dir, "lib.wasm")
	require.NoError(t, os.WriteFile(guestPath, testutil.WasmModule{}.Encode(), 0o600))

	_, _, err := execute(t, "run", guestPath, "-p", policyPath, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not export")
}

func TestRunCmd_BadPromptTemplate(t *testing.T) {
	dir, policyPath := workspace(t)

	guestPath := filepath.Join(dir, "lib.wasm")
	require.NoError(t, os.WriteFile(guestPath, testutil.WasmModule{}.Encode(), 0o600))
	tmplPath := filepath.Join(dir, "prompt.tmpl")
	require.NoError(t, os.WriteFile(tmplPath, []byte("{{.action"), 0o600))

	_, _, err := execute(t, "run", guestPath, "-p", policyPath, "--prompt-template", tmplPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt.tmpl")

	_, _, err = execute(t, "run", guestPath, "-p", policyPath, "--prompt-template", filepath.Join(dir, "missing.tmpl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt template")
}

func TestRootCmd_InvalidFlags(t *testing.T) {
	_, _, err := execute(t, "classify", "--log-level", "loud", "file_read", "/x")
	assert.Error(t, err)

	_, _, err = execute(t, "classify", "--scope-mode", "wide", "file_read", "/x")
	assert.Error(t, err)

	_, _, err = execute(t, "schema", "--list-tools", "-o", "xml")
	assert.Error(t, err)
}
