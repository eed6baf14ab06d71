package tools

import (
	"context"
	"errors"
	"time"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// DefaultCommandTimeout bounds a foreground command when the call does not
// set timeoutMs.
const DefaultCommandTimeout = 600 * time.Second

type commandInput struct {
	Command    string            `json:"command" jsonschema:"shell command to run"`
	Cwd        string            `json:"cwd,omitempty" jsonschema:"working directory inside the sandbox"`
	Envs       map[string]string `json:"envs,omitempty" jsonschema:"extra environment variables"`
	TimeoutMs  int               `json:"timeoutMs,omitempty" jsonschema:"timeout in milliseconds for a foreground command"`
	Background bool              `json:"background,omitempty" jsonschema:"start the command and return its pid without waiting"`
	SessionID  string            `json:"session_id,omitempty" jsonschema:"sandbox session to use"`
}

type commandRunner struct {
	timeout time.Duration
}

func (c *commandRunner) newTool() (*Tool, error) {
	return NewTool("execute_command",
		"Execute a shell command in the sandbox. Foreground commands return stdout and stderr; "+
			"background commands return the process id immediately.",
		c.execute,
		WithDefault("timeoutMs", c.timeout.Milliseconds()),
		WithDefault("background", false))
}

func (c *commandRunner) execute(ctx context.Context, inv *Invocation, in commandInput) (any, error) {
	sbx, sessionID, err := inv.Sandbox(ctx)
	if err != nil {
		return nil, err
	}

	opts := sandbox.RunOptions{Cwd: in.Cwd, Envs: in.Envs}

	if in.Background {
		handle, err := sbx.Commands().Start(ctx, in.Command, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":     "Command started in background",
			"pid":        handle.PID,
			"session_id": sessionID,
		}, nil
	}

	opts.Timeout = time.Duration(in.TimeoutMs) * time.Millisecond
	if opts.Timeout <= 0 {
		opts.Timeout = c.timeout
	}
	opts.OnStdout = func(chunk string) {
		debug.Log("sandbox", "command stdout", "session_id", sessionID, "data", chunk)
	}
	opts.OnStderr = func(chunk string) {
		debug.Log("sandbox", "command stderr", "session_id", sessionID, "data", chunk)
	}

	result, err := sbx.Commands().Run(ctx, in.Command, opts)
	if err != nil {
		var exitErr *sandbox.CommandExitError
		if errors.As(err, &exitErr) {
			return nil, &Error{
				Code:    CodeCommandFailed,
				Message: exitErr.Error(),
				Data: map[string]any{
					"exitCode": exitErr.ExitCode,
					"stdout":   exitErr.Stdout,
					"stderr":   exitErr.Stderr,
				},
				Err: err,
			}
		}
		return nil, err
	}

	return map[string]any{
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
		"session_id": sessionID,
	}, nil
}
