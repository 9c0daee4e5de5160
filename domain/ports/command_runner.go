package ports

import (
	"context"
	"time"
)

// CommandRunner executes an already-authorized command.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (*CommandResult, error)
}

// CommandRequest holds parameters for command execution. Env must
// already be sanitized.
type CommandRequest struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// CommandResult represents the result of a command execution.
type CommandResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	IsTimeout bool
	// Truncated is set when output exceeded the runner's buffer limit.
	Truncated bool
}
