package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/internal/clock"
	"github.com/sentinel-dev/sentinel/wireformat"
)

// ToolsetOption configures a Toolset.
type ToolsetOption func(*toolsetConfig)

type toolsetConfig struct {
	runner ports.CommandRunner
	sink   ports.LogSink
	logger *slog.Logger
	clock  clock.Clock
	http   []HTTPOption
}

func defaultToolsetConfig() toolsetConfig {
	return toolsetConfig{
		logger: slog.Default(),
		clock:  clock.Real(),
	}
}

// WithCommandRunner replaces the LocalRunner used by exec_command.
func WithCommandRunner(r ports.CommandRunner) ToolsetOption {
	return func(c *toolsetConfig) {
		c.runner = r
	}
}

// WithLogSink forwards log_message entries to sink.
func WithLogSink(sink ports.LogSink) ToolsetOption {
	return func(c *toolsetConfig) {
		c.sink = sink
	}
}

// WithToolLogger sets the logger.
func WithToolLogger(logger *slog.Logger) ToolsetOption {
	return func(c *toolsetConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithToolClock sets the clock that stamps log entries.
func WithToolClock(clk clock.Clock) ToolsetOption {
	return func(c *toolsetConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithHTTPOptions appends options to the http_request client. They are
// applied after the policy-derived ones.
func WithHTTPOptions(opts ...HTTPOption) ToolsetOption {
	return func(c *toolsetConfig) {
		c.http = append(c.http, opts...)
	}
}

// Toolset holds the privileged tools. Every tool calls Authorize before
// it touches the host.
type Toolset struct {
	auth   ports.Authorizer
	client func() *HTTPClient
	config toolsetConfig
}

// NewToolset creates a Toolset gated by auth.
func NewToolset(auth ports.Authorizer, opts ...ToolsetOption) *Toolset {
	cfg := defaultToolsetConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runner == nil {
		cfg.runner = NewLocalRunner()
	}
	t := &Toolset{auth: auth, config: cfg}
	t.client = sync.OnceValue(t.newHTTPClient)
	return t
}

// Register returns the option that adds every tool to a registry.
func (t *Toolset) Register() RegistryOption {
	opts := []RegistryOption{
		WithTool(wireformat.ToolRequestCapability, t.requestCapability),
		WithTool(wireformat.ToolReleaseCapability, t.releaseCapability),
		WithTool(wireformat.ToolFSRead, t.readFile),
		WithTool(wireformat.ToolFSWrite, t.writeFile),
		WithTool(wireformat.ToolFSList, t.listDir),
		WithTool(wireformat.ToolHTTPRequest, t.httpRequest),
		WithTool(wireformat.ToolExecCommand, t.execCommand),
		WithTool(wireformat.ToolSubmitManifest, t.submitManifest),
		WithTool(wireformat.ToolAwaitApproval, t.awaitApproval),
		WithTool(wireformat.ToolCheckApproval, t.checkApproval),
		WithTool(wireformat.ToolLogMessage, t.logMessage),
	}
	return func(b *registryBuilder) {
		for _, opt := range opts {
			opt(b)
		}
	}
}

func (t *Toolset) requestCapability(ctx context.Context, req wireformat.CapabilityRequest) (*wireformat.CapabilityResponse, error) {
	if !req.Kind.IsValid() {
		return nil, &errors.ConfigError{Field: "kind", Err: fmt.Errorf("unknown action kind %q", req.Kind)}
	}
	id, err := t.auth.RequestCapability(ctx, req.Kind, req.Resource)
	if err != nil {
		return nil, err
	}
	return &wireformat.CapabilityResponse{TokenID: id}, nil
}

func (t *Toolset) releaseCapability(ctx context.Context, req wireformat.ReleaseRequest) (*wireformat.ReleaseResponse, error) {
	if req.TokenID == "" {
		return nil, &errors.ConfigError{Field: "token_id", Err: fmt.Errorf("token_id is required")}
	}
	t.auth.ReleaseCapability(ctx, req.TokenID)
	return &wireformat.ReleaseResponse{Released: true}, nil
}

func (t *Toolset) readFile(ctx context.Context, req wireformat.FSReadRequest) (*wireformat.FSReadResponse, error) {
	auth, err := t.auth.Authorize(ctx, entities.ActionRequest{
		Kind:        entities.KindFileRead,
		Resource:    req.Path,
		TokenID:     req.TokenID,
		Description: "read file " + req.Path,
		Parameters:  parameters(req),
	})
	if err != nil {
		return nil, err
	}

	//nolint:gosec // G304: path was authorized and canonicalized
	f, err := os.OpenFile(auth.Canonical, os.O_RDONLY|noFollow, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &errors.ConfigError{Field: "path", Err: fmt.Errorf("%s is a directory", auth.Canonical)}
	}

	limit := t.auth.Policy().Filesystem.MaxReadBytes
	if info.Size() > limit {
		return nil, &errors.BudgetExhaustedError{
			Dimension: entities.DimensionMemory,
			Requested: uint64(info.Size()),
			Limit:     uint64(limit),
			Reason:    fmt.Sprintf("%s is %d bytes, max_read_bytes is %d", auth.Canonical, info.Size(), limit),
		}
	}
	if err := t.auth.CheckMemory(ctx, uint64(info.Size())); err != nil {
		return nil, err
	}

	// The file may grow between Stat and Read.
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, err
	}
	return &wireformat.FSReadResponse{Path: auth.Canonical, Content: string(data), Size: int64(len(data))}, nil
}

func (t *Toolset) writeFile(ctx context.Context, req wireformat.FSWriteRequest) (*wireformat.FSWriteResponse, error) {
	auth, err := t.auth.Authorize(ctx, entities.ActionRequest{
		Kind:        entities.KindFileWrite,
		Resource:    req.Path,
		TokenID:     req.TokenID,
		Description: fmt.Sprintf("write %d bytes to %s", len(req.Content), req.Path),
		Parameters:  parameters(req),
	})
	if err != nil {
		return nil, err
	}

	// The canonical path has every link resolved, so a symlink in its
	// place appeared after authorization.
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC | noFollow
	if req.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND | noFollow
	}
	//nolint:gosec // G304: path was authorized and canonicalized
	f, err := os.OpenFile(auth.Canonical, flags, 0o644)
	if err != nil {
		return nil, err
	}
	n, err := f.WriteString(req.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return &wireformat.FSWriteResponse{BytesWritten: n}, nil
}

func (t *Toolset) listDir(ctx context.Context, req wireformat.FSListRequest) (*wireformat.FSListResponse, error) {
	auth, err := t.auth.Authorize(ctx, entities.ActionRequest{
		Kind:        entities.KindFileRead,
		Resource:    req.Path,
		TokenID:     req.TokenID,
		Description: "list directory " + req.Path,
		Parameters:  parameters(req),
	})
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(auth.Canonical)
	if err != nil {
		return nil, err
	}
	entries := make([]wireformat.FSListEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := wireformat.FSListEntry{Name: de.Name(), Dir: de.IsDir()}
		if info, err := de.Info(); err == nil && !de.IsDir() {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	return &wireformat.FSListResponse{Path: auth.Canonical, Entries: entries}, nil
}

func (t *Toolset) httpRequest(ctx context.Context, req wireformat.HTTPRequest) (*wireformat.HTTPResponse, error) {
	req.Method = strings.ToUpper(req.Method)
	if req.Method == "" {
		req.Method = "GET"
	}
	if _, err := t.auth.Authorize(ctx, entities.ActionRequest{
		Kind:        entities.KindNetworkRequest,
		Resource:    req.URL,
		TokenID:     req.TokenID,
		Method:      req.Method,
		Description: req.Method + " " + req.URL,
		Parameters:  parameters(req),
	}); err != nil {
		return nil, err
	}

	resp, err := t.client().Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := t.auth.CheckMemory(ctx, uint64(len(resp.Body))); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Toolset) newHTTPClient() *HTTPClient {
	policy := t.auth.Policy()
	opts := []HTTPOption{
		WithHTTPRequestTimeout(policy.Network.RequestTimeout.Std()),
		WithHTTPMaxBodySize(policy.Filesystem.MaxReadBytes),
		WithHTTPNetfilter(WithAllowPrivate(policy.Network.AllowPrivate)),
		WithHTTPRedirectCheck(func(ctx context.Context, method, target string) error {
			_, err := t.auth.Authorize(ctx, entities.ActionRequest{
				Kind:        entities.KindNetworkRequest,
				Resource:    target,
				Method:      method,
				Description: "follow redirect to " + target,
			})
			return err
		}),
	}
	return NewHTTPClient(append(opts, t.config.http...)...)
}

// programPath anchors a relative, path-qualified program at the
// directory it will run in. Bare names are left for PATH lookup.
func (t *Toolset) programPath(req wireformat.ExecRequest) string {
	if !strings.ContainsRune(req.Command, '/') || filepath.IsAbs(req.Command) {
		return req.Command
	}
	cwd := t.auth.Policy().WorkingDirectory
	dir := req.Dir
	switch {
	case dir == "":
		dir = cwd
	case !filepath.IsAbs(dir) && cwd != "":
		dir = filepath.Join(cwd, dir)
	}
	if dir == "" || !filepath.IsAbs(dir) {
		return req.Command
	}
	return filepath.Join(dir, req.Command)
}

func (t *Toolset) execCommand(ctx context.Context, req wireformat.ExecRequest) (*wireformat.ExecResponse, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, &errors.ConfigError{Field: "command", Err: fmt.Errorf("command is required")}
	}
	commandLine := entities.JoinCommandLine(append([]string{t.programPath(req)}, req.Args...))
	execType := DetectExecutionType(req.Command, req.Args)
	auth, err := t.auth.Authorize(ctx, entities.ActionRequest{
		Kind:        entities.KindShellExec,
		Resource:    commandLine,
		TokenID:     req.TokenID,
		Description: fmt.Sprintf("run %s (%s)", commandLine, execType),
		Parameters:  parameters(req),
	})
	if err != nil {
		return nil, err
	}
	// Run exactly what was authorized.
	argv, err := entities.SplitCommandLine(auth.Canonical)
	if err != nil || len(argv) == 0 {
		return nil, fmt.Errorf("authorized command %q: %w", auth.Canonical, err)
	}
	program := argv[0]
	if execType != ExecSafe {
		t.config.logger.WarnContext(ctx, "authorized command executes code",
			"target", "sentinel::exec", "command", req.Command, "execution_type", string(execType))
	}

	dir := req.Dir
	if dir != "" {
		auth, err := t.auth.Authorize(ctx, entities.ActionRequest{
			Kind:        entities.KindFileRead,
			Resource:    dir,
			Description: "use " + dir + " as working directory",
		})
		if err != nil {
			return nil, err
		}
		dir = auth.Canonical
	} else {
		dir = t.auth.Policy().WorkingDirectory
	}

	gate := func(ctx context.Context, name string) bool {
		_, err := t.auth.Authorize(ctx, entities.ActionRequest{
			Kind:        entities.KindCredentialAccess,
			Resource:    "env:" + name,
			Description: fmt.Sprintf("pass %s to %s", name, req.Command),
		})
		return err == nil
	}
	env := SanitizeEnv(ctx, req.Env, gate, t.config.logger)

	res, err := t.config.runner.Run(ctx, ports.CommandRequest{
		Command: program,
		Args:    req.Args,
		Dir:     dir,
		Env:     env,
		Timeout: time.Duration(req.Timeout) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	if err := t.auth.CheckMemory(ctx, uint64(len(res.Stdout)+len(res.Stderr))); err != nil {
		return nil, err
	}
	return &wireformat.ExecResponse{
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		ExitCode:      res.ExitCode,
		DurationMs:    res.Duration.Milliseconds(),
		TimedOut:      res.IsTimeout,
		Truncated:     res.Truncated,
		ExecutionType: string(execType),
	}, nil
}

func (t *Toolset) submitManifest(ctx context.Context, req wireformat.SubmitManifestRequest) (*wireformat.SubmitManifestResponse, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, &errors.ConfigError{Field: "description", Err: fmt.Errorf("description is required")}
	}
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, &errors.ConfigError{Field: "parameters", Err: err}
	}
	id, err := t.auth.SubmitForApproval(ctx, req.Description, string(data), req.RiskLevel)
	if err != nil {
		return nil, err
	}
	return &wireformat.SubmitManifestResponse{ManifestID: id}, nil
}

func (t *Toolset) awaitApproval(ctx context.Context, req wireformat.ManifestRequest) (*wireformat.AwaitApprovalResponse, error) {
	if err := t.auth.AwaitApproval(ctx, req.ManifestID); err != nil {
		return nil, err
	}
	return &wireformat.AwaitApprovalResponse{ManifestID: req.ManifestID, Approved: true}, nil
}

func (t *Toolset) checkApproval(_ context.Context, req wireformat.ManifestRequest) (*entities.ManifestStatus, error) {
	status, err := t.auth.ApprovalStatus(req.ManifestID)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (t *Toolset) logMessage(ctx context.Context, req wireformat.LogMessageRequest) (*wireformat.LogMessageResponse, error) {
	var level slog.Level
	if req.Level != "" {
		if err := level.UnmarshalText([]byte(req.Level)); err != nil {
			return nil, &errors.ConfigError{Field: "level", Err: err}
		}
	}
	target := req.Target
	if target == "" {
		target = "sentinel::guest"
	}

	keys := make([]string, 0, len(req.Attrs))
	for k := range req.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2+2*len(keys))
	args = append(args, "target", target)
	attrs := make([]entities.LogAttr, 0, len(keys))
	for _, k := range keys {
		v := req.Attrs[k]
		args = append(args, k, v)
		attrs = append(attrs, flattenAttr(k, v))
	}
	t.config.logger.Log(ctx, level, req.Message, args...)

	if t.config.sink != nil {
		t.config.sink.Publish(entities.LogEntry{
			Time:    t.config.clock.Now(),
			Level:   level.String(),
			Target:  target,
			Message: req.Message,
			Attrs:   attrs,
		})
	}
	return &wireformat.LogMessageResponse{}, nil
}

func flattenAttr(key string, v any) entities.LogAttr {
	switch val := v.(type) {
	case string:
		return entities.LogAttr{Key: key, Type: "string", Value: val}
	case bool:
		return entities.LogAttr{Key: key, Type: "bool", Value: fmt.Sprint(val)}
	case float64:
		return entities.LogAttr{Key: key, Type: "number", Value: fmt.Sprint(val)}
	case nil:
		return entities.LogAttr{Key: key, Type: "null"}
	default:
		data, _ := json.Marshal(val)
		return entities.LogAttr{Key: key, Type: "json", Value: string(data)}
	}
}

// parameters renders a tool request for the approver.
func parameters(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
