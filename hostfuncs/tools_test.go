package hostfuncs

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
	domainerrors "github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/internal/clock"
	"github.com/sentinel-dev/sentinel/wireformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// fakeAuthorizer allows every action whose resource starts with one of
// allow and records every request.
type fakeAuthorizer struct {
	mu        sync.Mutex
	policy    *entities.PolicyConfig
	allow     []string
	requests  []entities.ActionRequest
	released  []string
	memory    []uint64
	submitted []string
	memErr    error
}

var _ ports.Authorizer = (*fakeAuthorizer)(nil)

func newFakeAuthorizer(allow ...string) *fakeAuthorizer {
	return &fakeAuthorizer{policy: entities.DefaultPolicyConfig(), allow: allow}
}

func (f *fakeAuthorizer) Authorize(_ context.Context, req entities.ActionRequest) (*entities.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	for _, prefix := range f.allow {
		if strings.HasPrefix(req.Resource, prefix) {
			return &entities.Authorization{TokenID: "tok-1", Canonical: req.Resource, Kind: req.Kind}, nil
		}
	}
	return nil, &domainerrors.PolicyViolationError{Kind: req.Kind, Resource: req.Resource, Reason: "no allow rule covers resource"}
}

func (f *fakeAuthorizer) RequestCapability(_ context.Context, kind entities.ActionKind, resource string) (string, error) {
	return string(kind) + ":" + resource, nil
}

func (f *fakeAuthorizer) ReleaseCapability(_ context.Context, tokenID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, tokenID)
}

func (f *fakeAuthorizer) SubmitForApproval(_ context.Context, description, parametersJSON string, _ entities.RiskLevel) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, description+" "+parametersJSON)
	return "m-1", nil
}

func (f *fakeAuthorizer) AwaitApproval(_ context.Context, manifestID string) error {
	if manifestID != "m-1" {
		return &domainerrors.ManifestError{Reason: domainerrors.ReasonNotApproved, ManifestID: manifestID}
	}
	return nil
}

func (f *fakeAuthorizer) ApprovalStatus(manifestID string) (entities.ManifestStatus, error) {
	if manifestID != "m-1" {
		return entities.ManifestStatus{}, &domainerrors.ManifestError{Reason: domainerrors.ReasonNotFound, ManifestID: manifestID}
	}
	return entities.ManifestStatus{ID: manifestID, State: entities.ManifestPending, RiskLevel: entities.RiskLevelHigh}, nil
}

func (f *fakeAuthorizer) CheckBudget(context.Context) error { return nil }

func (f *fakeAuthorizer) CheckMemory(_ context.Context, n uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memory = append(f.memory, n)
	return f.memErr
}

func (f *fakeAuthorizer) Policy() *entities.PolicyConfig { return f.policy }

func (f *fakeAuthorizer) kinds() []entities.ActionKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.ActionKind, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Kind)
	}
	return out
}

type recordingRunner struct {
	req ports.CommandRequest
}

func (r *recordingRunner) Run(_ context.Context, req ports.CommandRequest) (*ports.CommandResult, error) {
	r.req = req
	return &ports.CommandResult{Stdout: "ran", Duration: 5 * time.Millisecond}, nil
}

type sliceSink struct {
	entries []entities.LogEntry
}

func (s *sliceSink) Publish(e entities.LogEntry) { s.entries = append(s.entries, e) }

type ToolsetSuite struct {
	suite.Suite
	dir    string
	auth   *fakeAuthorizer
	runner *recordingRunner
	sink   *sliceSink
	clk    *clock.FakeClock
	reg    *HandlerRegistry
}

func TestToolsetSuite(t *testing.T) {
	suite.Run(t, new(ToolsetSuite))
}

func (s *ToolsetSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.auth = newFakeAuthorizer(s.dir, "/usr/bin/git", "https://api.example.com/", "env:HOME")
	s.runner = &recordingRunner{}
	s.sink = &sliceSink{}
	s.clk = clock.Fake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	tools := NewToolset(s.auth,
		WithCommandRunner(s.runner),
		WithLogSink(s.sink),
		WithToolLogger(discardLogger()),
		WithToolClock(s.clk),
	)
	reg, err := NewRegistry(tools.Register())
	s.Require().NoError(err)
	s.reg = reg
}

func (s *ToolsetSuite) invoke(name string, req any, out any) wireformat.ErrorResponse {
	payload, err := json.Marshal(req)
	s.Require().NoError(err)
	resp, err := s.reg.Invoke(context.Background(), name, payload)
	s.Require().NoError(err)

	var errResp wireformat.ErrorResponse
	_ = json.Unmarshal(resp, &errResp)
	if errResp.Error == "" && out != nil {
		s.Require().NoError(json.Unmarshal(resp, out))
	}
	return errResp
}

func (s *ToolsetSuite) TestRegistersEveryTool() {
	s.Equal([]string{
		wireformat.ToolAwaitApproval, wireformat.ToolCheckApproval, wireformat.ToolExecCommand, wireformat.ToolFSList, wireformat.ToolFSRead, wireformat.ToolFSWrite,
		wireformat.ToolHTTPRequest, wireformat.ToolLogMessage, wireformat.ToolReleaseCapability, wireformat.ToolRequestCapability, wireformat.ToolSubmitManifest,
	}, s.reg.Names())
}

func (s *ToolsetSuite) TestCapabilityLifecycle() {
	var got wireformat.CapabilityResponse
	s.Empty(s.invoke(wireformat.ToolRequestCapability, wireformat.CapabilityRequest{Kind: entities.KindFileRead, Resource: "/tmp/a"}, &got).Error)
	s.Equal("file_read:/tmp/a", got.TokenID)

	errResp := s.invoke(wireformat.ToolRequestCapability, map[string]string{"kind": "teleport", "resource": "x"}, nil)
	s.Equal(wireformat.CodeValidation, errResp.Error)

	var rel wireformat.ReleaseResponse
	s.Empty(s.invoke(wireformat.ToolReleaseCapability, wireformat.ReleaseRequest{TokenID: "tok-9"}, &rel).Error)
	s.True(rel.Released)
	s.Equal([]string{"tok-9"}, s.auth.released)
}

func (s *ToolsetSuite) TestWriteThenRead() {
	path := filepath.Join(s.dir, "notes.txt")

	var w wireformat.FSWriteResponse
	s.Empty(s.invoke(wireformat.ToolFSWrite, wireformat.FSWriteRequest{Path: path, Content: "hello"}, &w).Error)
	s.Equal(5, w.BytesWritten)
	s.Empty(s.invoke(wireformat.ToolFSWrite, wireformat.FSWriteRequest{Path: path, Content: " world", Append: true}, &w).Error)

	var r wireformat.FSReadResponse
	s.Empty(s.invoke(wireformat.ToolFSRead, wireformat.FSReadRequest{Path: path}, &r).Error)
	s.Equal("hello world", r.Content)
	s.Equal(int64(11), r.Size)
	s.Contains(s.auth.memory, uint64(11))
	s.Equal([]entities.ActionKind{entities.KindFileWrite, entities.KindFileWrite, entities.KindFileRead}, s.auth.kinds())
}

func (s *ToolsetSuite) TestWriteRefusesFinalSymlink() {
	if runtime.GOOS == "windows" {
		s.T().Skip("no O_NOFOLLOW on windows")
	}
	target := filepath.Join(s.dir, "target.txt")
	s.Require().NoError(os.WriteFile(target, []byte("original"), 0o600))
	link := filepath.Join(s.dir, "swapped")
	s.Require().NoError(os.Symlink(target, link))

	// The fake authorizer hands back the path unresolved, like a link
	// swapped in after canonicalization.
	errResp := s.invoke(wireformat.ToolFSWrite, wireformat.FSWriteRequest{Path: link, Content: "changed"}, nil)
	s.NotEmpty(errResp.Error)
	errResp = s.invoke(wireformat.ToolFSRead, wireformat.FSReadRequest{Path: link}, nil)
	s.NotEmpty(errResp.Error)

	data, err := os.ReadFile(target)
	s.Require().NoError(err)
	s.Equal("original", string(data))
}

func (s *ToolsetSuite) TestExecQuotesArguments() {
	s.invoke(wireformat.ToolExecCommand, wireformat.ExecRequest{Command: "/usr/bin/git", Args: []string{"commit", "-m", "a b"}}, nil)
	s.Require().NotEmpty(s.auth.requests)
	s.Equal(`/usr/bin/git commit -m "a b"`, s.auth.requests[0].Resource)
	s.Equal([]string{"commit", "-m", "a b"}, s.runner.req.Args)
}

func (s *ToolsetSuite) TestReadDeniedOutsidePolicy() {
	errResp := s.invoke(wireformat.ToolFSRead, wireformat.FSReadRequest{Path: "/etc/passwd"}, nil)
	s.Equal(wireformat.CodePolicyViolation, errResp.Error)
	s.Equal(403, errResp.Code)
}

func (s *ToolsetSuite) TestReadRefusesOversizedFile() {
	s.auth.policy.Filesystem.MaxReadBytes = 4
	path := filepath.Join(s.dir, "big.txt")
	s.Require().NoError(os.WriteFile(path, []byte("0123456789"), 0o600))

	errResp := s.invoke(wireformat.ToolFSRead, wireformat.FSReadRequest{Path: path}, nil)
	s.Equal(wireformat.CodeBudgetExhausted, errResp.Error)
	s.Equal("memory", errResp.Reason)
	s.Empty(s.auth.memory, "memory must not be reserved for a refused read")
}

func (s *ToolsetSuite) TestReadMissingFile() {
	errResp := s.invoke(wireformat.ToolFSRead, wireformat.FSReadRequest{Path: filepath.Join(s.dir, "nope")}, nil)
	s.Equal(wireformat.CodeNotFound, errResp.Error)
}

func (s *ToolsetSuite) TestList() {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "a.txt"), []byte("abc"), 0o600))
	s.Require().NoError(os.Mkdir(filepath.Join(s.dir, "sub"), 0o755))

	var out wireformat.FSListResponse
	s.Empty(s.invoke(wireformat.ToolFSList, wireformat.FSListRequest{Path: s.dir}, &out).Error)
	s.Equal([]wireformat.FSListEntry{{Name: "a.txt", Size: 3}, {Name: "sub", Dir: true}}, out.Entries)
}

func (s *ToolsetSuite) TestExecSanitizesEnv() {
	var out wireformat.ExecResponse
	errResp := s.invoke(wireformat.ToolExecCommand, wireformat.ExecRequest{
		Command: "/usr/bin/git",
		Args:    []string{"status"},
		Env:     []string{"LD_PRELOAD=/tmp/x.so", "HOME=/home/agent", "PATH=/bin", "GIT_PAGER=cat"},
	}, &out)
	s.Require().Empty(errResp.Error, errResp.Message)

	s.Equal("ran", out.Stdout)
	s.Equal(string(ExecSafe), out.ExecutionType)
	s.Equal("/usr/bin/git", s.runner.req.Command)
	s.Equal([]string{"HOME=/home/agent", "GIT_PAGER=cat"}, s.runner.req.Env)

	s.Require().NotEmpty(s.auth.requests)
	first := s.auth.requests[0]
	s.Equal(entities.KindShellExec, first.Kind)
	s.Equal("/usr/bin/git status", first.Resource)
}

func (s *ToolsetSuite) TestExecDescribesInterpreterCode() {
	s.invoke(wireformat.ToolExecCommand, wireformat.ExecRequest{Command: "python3", Args: []string{"-c", "print(1)"}}, nil)
	s.Require().NotEmpty(s.auth.requests)
	s.Contains(s.auth.requests[0].Description, string(ExecInterpreter))
}

func (s *ToolsetSuite) TestHTTPRequestDenied() {
	errResp := s.invoke(wireformat.ToolHTTPRequest, wireformat.HTTPRequest{URL: "https://evil.example.net/"}, nil)
	s.Equal(wireformat.CodePolicyViolation, errResp.Error)
	s.Require().Len(s.auth.requests, 1)
	s.Equal(http.MethodGet, s.auth.requests[0].Method)
}

func (s *ToolsetSuite) TestManifestTools() {
	var sub wireformat.SubmitManifestResponse
	s.Empty(s.invoke(wireformat.ToolSubmitManifest, map[string]any{
		"description": "wire funds",
		"parameters":  map[string]any{"amount": 10},
		"risk_level":  "critical",
	}, &sub).Error)
	s.Equal("m-1", sub.ManifestID)
	s.Equal([]string{`wire funds {"amount":10}`}, s.auth.submitted)

	var status entities.ManifestStatus
	s.Empty(s.invoke(wireformat.ToolCheckApproval, wireformat.ManifestRequest{ManifestID: "m-1"}, &status).Error)
	s.Equal(entities.ManifestPending, status.State)

	errResp := s.invoke(wireformat.ToolCheckApproval, wireformat.ManifestRequest{ManifestID: "m-404"}, nil)
	s.Equal(404, errResp.Code)

	var awaited wireformat.AwaitApprovalResponse
	s.Empty(s.invoke(wireformat.ToolAwaitApproval, wireformat.ManifestRequest{ManifestID: "m-1"}, &awaited).Error)
	s.True(awaited.Approved)
	s.Equal(wireformat.CodeManifest, s.invoke(wireformat.ToolAwaitApproval, wireformat.ManifestRequest{ManifestID: "m-2"}, nil).Error)

	s.Equal(wireformat.CodeValidation, s.invoke(wireformat.ToolSubmitManifest, wireformat.SubmitManifestRequest{Description: " "}, nil).Error)
}

func (s *ToolsetSuite) TestLogMessage() {
	s.Empty(s.invoke(wireformat.ToolLogMessage, wireformat.LogMessageRequest{
		Level:   "warn",
		Message: "disk almost full",
		Attrs:   map[string]any{"pct": 97, "mount": "/", "ok": false, "tags": []string{"a"}},
	}, nil).Error)

	s.Require().Len(s.sink.entries, 1)
	entry := s.sink.entries[0]
	s.Equal("WARN", entry.Level)
	s.Equal("sentinel::guest", entry.Target)
	s.Equal(s.clk.Now(), entry.Time)
	s.Equal([]entities.LogAttr{
		{Key: "mount", Type: "string", Value: "/"},
		{Key: "ok", Type: "bool", Value: "false"},
		{Key: "pct", Type: "number", Value: "97"},
		{Key: "tags", Type: "json", Value: `["a"]`},
	}, entry.Attrs)

	s.Equal(wireformat.CodeValidation, s.invoke(wireformat.ToolLogMessage, wireformat.LogMessageRequest{Level: "loud", Message: "x"}, nil).Error)
}

func TestToolset_DefaultsToLocalRunner(t *testing.T) {
	tools := NewToolset(newFakeAuthorizer())
	_, ok := tools.config.runner.(*LocalRunner)
	assert.True(t, ok)
}

func TestToolset_HTTPClientUsesPolicy(t *testing.T) {
	auth := newFakeAuthorizer()
	auth.policy.Network.AllowPrivate = true
	auth.policy.Filesystem.MaxReadBytes = 7
	tools := NewToolset(auth)

	client := tools.client()
	require.Same(t, client, tools.client())
	assert.True(t, client.config.netfilter != nil)
	assert.Equal(t, int64(7), client.config.maxBodySize)
	assert.Equal(t, entities.DefaultRequestTimeout, client.config.timeout)
	require.NotNil(t, client.config.redirectCheck)

	err := client.config.redirectCheck(context.Background(), http.MethodGet, "https://elsewhere/")
	assert.ErrorIs(t, err, domainerrors.ErrPolicyViolation)
}
