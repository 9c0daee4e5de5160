package host

import (
	"context"
	"io"
	"log/slog"

	"github.com/sentinel-dev/sentinel/internal/clock"
	"github.com/tetratelabs/wazero"
)

// HostModule instantiates host functions into a runtime before any
// guest is compiled.
type HostModule func(ctx context.Context, rt wazero.Runtime) error

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	stdout      io.Writer
	stderr      io.Writer
	logger      *slog.Logger
	clock       clock.Clock
	entrypoint  string
	hostModules []HostModule
	args        []string
	memoryPages uint32
	wasi        bool
}

func defaultRunnerConfig() runnerConfig {
	return runnerConfig{
		stdout:     io.Discard,
		stderr:     io.Discard,
		logger:     slog.Default(),
		clock:      clock.Real(),
		entrypoint: "_start",
		wasi:       true,
	}
}

// WithHostModule registers host functions, typically the sentinel tool
// module.
func WithHostModule(m HostModule) RunnerOption {
	return func(c *runnerConfig) {
		c.hostModules = append(c.hostModules, m)
	}
}

// WithMemoryLimitPages overrides the page limit derived from the
// budget's memory ceiling.
func WithMemoryLimitPages(pages uint32) RunnerOption {
	return func(c *runnerConfig) {
		c.memoryPages = pages
	}
}

// WithEntrypoint sets the export called by Run (default "_start").
func WithEntrypoint(name string) RunnerOption {
	return func(c *runnerConfig) {
		if name != "" {
			c.entrypoint = name
		}
	}
}

// WithWASI toggles wasi_snapshot_preview1 (default on).
func WithWASI(enabled bool) RunnerOption {
	return func(c *runnerConfig) {
		c.wasi = enabled
	}
}

// WithOutput sets the guest's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) RunnerOption {
	return func(c *runnerConfig) {
		if stdout != nil {
			c.stdout = stdout
		}
		if stderr != nil {
			c.stderr = stderr
		}
	}
}

// WithArgs sets the guest's argv.
func WithArgs(args ...string) RunnerOption {
	return func(c *runnerConfig) {
		c.args = args
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(c *runnerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock the session deadline is measured against.
// It must be the budget's clock.
func WithClock(c clock.Clock) RunnerOption {
	return func(cfg *runnerConfig) {
		if c != nil {
			cfg.clock = c
		}
	}
}
