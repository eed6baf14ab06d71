package selfhosted

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// Acquirer abstracts sandbox acquisition. Implementations exist for
// static URL mode (returns a fixed URL) and SandboxClaim mode (creates CRDs).
type Acquirer interface {
	// Acquire returns a sandbox server URL. The release function must be
	// called when the sandbox is no longer needed.
	Acquire(ctx context.Context) (sandboxURL string, release func(), err error)
}

// StaticAcquirer returns a fixed sandbox URL (development mode).
type StaticAcquirer struct {
	URL string
}

// Acquire returns the configured URL.
func (a *StaticAcquirer) Acquire(_ context.Context) (string, func(), error) {
	return strings.TrimRight(a.URL, "/"), func() {}, nil // No cleanup needed for static URL.
}

// Ensure Service implements sandbox.Service at compile time.
var _ sandbox.Service = (*Service)(nil)

// Service creates sandboxes backed by sandbox-server instances.
type Service struct {
	acquirer Acquirer
	client   *Client
	// codeTimeout bounds run_code executions on the server.
	codeTimeout time.Duration
}

// NewService creates a Service using the given acquirer.
func NewService(acquirer Acquirer, codeTimeout time.Duration) *Service {
	if codeTimeout <= 0 {
		codeTimeout = 60 * time.Second
	}
	return &Service{acquirer: acquirer, client: NewClient(), codeTimeout: codeTimeout}
}

// Create acquires a sandbox server.
func (s *Service) Create(ctx context.Context) (sandbox.Sandbox, error) {
	url, release, err := s.acquirer.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sandbox: %w", err)
	}
	sbx := &Sandbox{
		id:      "sh-" + uuid.NewString(),
		url:     url,
		client:  s.client,
		release: release,
		timeout: s.codeTimeout,
	}
	slog.Info("self-hosted sandbox acquired", "sandbox_id", sbx.id, "url", url)
	return sbx, nil
}

// Sandbox is a handle to one acquired sandbox server.
type Sandbox struct {
	id      string
	url     string
	client  *Client
	timeout time.Duration

	releaseOnce sync.Once
	release     func()
}

// ID returns the locally assigned sandbox identifier.
func (s *Sandbox) ID() string { return s.id }

// URL returns the sandbox server URL.
func (s *Sandbox) URL() string { return s.url }

// RunCode executes code on the sandbox server. A non-zero exit of the
// interpreter is reported as an execution error, not a Go error.
func (s *Sandbox) RunCode(ctx context.Context, code string) (*sandbox.Execution, error) {
	resp, err := s.client.Execute(ctx, s.url, &ExecuteRequest{
		Code:           code,
		TimeoutSeconds: int(s.timeout.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	exec := &sandbox.Execution{
		Results: []sandbox.Result{},
		Logs:    sandbox.Logs{Stdout: []string{}, Stderr: []string{}},
	}
	if resp.Stdout != "" {
		exec.Logs.Stdout = append(exec.Logs.Stdout, resp.Stdout)
	}
	if resp.Stderr != "" {
		exec.Logs.Stderr = append(exec.Logs.Stderr, resp.Stderr)
	}
	if resp.ExitCode != 0 {
		exec.Error = &sandbox.ExecutionError{
			Name:      "ExecutionError",
			Value:     lastLine(resp.Stderr),
			Traceback: resp.Stderr,
		}
	}
	return exec, nil
}

// Files returns the sandbox server filesystem.
func (s *Sandbox) Files() sandbox.Filesystem { return (*files)(s) }

// Commands returns the sandbox server process runner.
func (s *Sandbox) Commands() sandbox.Commands { return (*commands)(s) }

// Kill releases the sandbox. Calling it more than once is a no-op.
func (s *Sandbox) Kill(_ context.Context) error {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

type files Sandbox

func (f *files) Read(ctx context.Context, path string) ([]byte, error) {
	return f.client.ReadFile(ctx, f.url, path)
}

func (f *files) Write(ctx context.Context, path string, data []byte) error {
	return f.client.WriteFile(ctx, f.url, path, data)
}

type commands Sandbox

func (c *commands) Run(ctx context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandResult, error) {
	resp, err := c.client.RunCommand(ctx, c.url, &CommandRequest{
		Command:   cmd,
		Cwd:       opts.Cwd,
		Envs:      opts.Envs,
		TimeoutMs: opts.Timeout.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	if opts.OnStdout != nil && resp.Stdout != "" {
		opts.OnStdout(resp.Stdout)
	}
	if opts.OnStderr != nil && resp.Stderr != "" {
		opts.OnStderr(resp.Stderr)
	}
	if resp.TimedOut {
		return nil, fmt.Errorf("command timed out after %s: %w", opts.Timeout, context.DeadlineExceeded)
	}
	if resp.ExitCode != 0 {
		return nil, &sandbox.CommandExitError{
			ExitCode: resp.ExitCode,
			Stdout:   resp.Stdout,
			Stderr:   resp.Stderr,
		}
	}
	return &sandbox.CommandResult{Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}

func (c *commands) Start(ctx context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandHandle, error) {
	resp, err := c.client.RunCommand(ctx, c.url, &CommandRequest{
		Command:    cmd,
		Cwd:        opts.Cwd,
		Envs:       opts.Envs,
		Background: true,
	})
	if err != nil {
		return nil, err
	}
	return &sandbox.CommandHandle{PID: resp.PID}, nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
