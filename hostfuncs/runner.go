package hostfuncs

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sentinel-dev/sentinel/domain/ports"
)

// RunnerOption configures a LocalRunner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	timeout   time.Duration
	maxOutput int
}

func defaultRunnerConfig() runnerConfig {
	return runnerConfig{
		timeout:   30 * time.Second,
		maxOutput: DefaultMaxOutputSize,
	}
}

// WithRunnerTimeout sets the default execution timeout.
func WithRunnerTimeout(d time.Duration) RunnerOption {
	return func(c *runnerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxOutputSize caps captured stdout and stderr, each.
func WithMaxOutputSize(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.maxOutput = n
		}
	}
}

// LocalRunner executes authorized commands on the host without a shell.
type LocalRunner struct {
	config runnerConfig
}

var _ ports.CommandRunner = (*LocalRunner)(nil)

// NewLocalRunner creates a LocalRunner.
func NewLocalRunner(opts ...RunnerOption) *LocalRunner {
	cfg := defaultRunnerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LocalRunner{config: cfg}
}

// Run executes req. A non-zero exit status is a result, not an error;
// errors mean the command could not be started.
func (r *LocalRunner) Run(ctx context.Context, req ports.CommandRequest) (*ports.CommandResult, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	timeout := r.config.timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: the command line was authorized by the caller
	cmd := exec.CommandContext(ctx, req.Command, req.Args...)
	cmd.Dir = req.Dir
	// An empty, non-nil Env keeps the host environment out of the child.
	cmd.Env = append([]string{}, req.Env...)

	stdout := NewBoundedBuffer(r.config.maxOutput)
	stderr := NewBoundedBuffer(r.config.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := &ports.CommandResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.Truncated || stderr.Truncated,
	}
	if err == nil {
		return result, nil
	}

	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.IsTimeout = true
		result.ExitCode = -1
		return result, nil
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("failed to start %s: %w", req.Command, err)
}
