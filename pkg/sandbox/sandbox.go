package sandbox

import (
	"context"
	"time"
)

// Service creates remote sandboxes.
type Service interface {
	// Create provisions a new sandbox. The call is bounded by the service's
	// own connect/create latency and by ctx.
	Create(ctx context.Context) (Sandbox, error)
}

// Sandbox is a handle to one remote sandbox instance.
type Sandbox interface {
	// ID returns the service-assigned sandbox identifier.
	ID() string

	// RunCode executes code in the sandbox's interpreter.
	RunCode(ctx context.Context, code string) (*Execution, error)

	// Files returns the sandbox filesystem.
	Files() Filesystem

	// Commands returns the sandbox process runner.
	Commands() Commands

	// Kill tears down the remote sandbox.
	Kill(ctx context.Context) error
}

// Filesystem reads and writes files inside a sandbox.
type Filesystem interface {
	// Read returns the raw bytes of path. Returns an error wrapping
	// ErrNotFound when the file does not exist.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write creates or replaces path with data.
	Write(ctx context.Context, path string, data []byte) error
}

// Commands runs shell commands inside a sandbox.
type Commands interface {
	// Run starts a command and waits for it to finish. A non-zero exit is
	// reported as a *CommandExitError.
	Run(ctx context.Context, cmd string, opts RunOptions) (*CommandResult, error)

	// Start launches a command without waiting for it and returns once the
	// process has a pid.
	Start(ctx context.Context, cmd string, opts RunOptions) (*CommandHandle, error)
}

// RunOptions configures a command.
type RunOptions struct {
	// Cwd is the working directory. Empty uses the sandbox default.
	Cwd string

	// Envs are extra environment variables.
	Envs map[string]string

	// Timeout bounds a foreground command. Zero means no limit.
	Timeout time.Duration

	// OnStdout and OnStderr receive output chunks as they arrive.
	OnStdout func(chunk string)
	OnStderr func(chunk string)
}

// CommandResult is the outcome of a finished command.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// CommandHandle identifies a background command.
type CommandHandle struct {
	PID int `json:"pid"`
}
