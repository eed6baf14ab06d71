// Package sandboxtest provides in-memory sandbox.Service and
// sandbox.Sandbox implementations for tests.
package sandboxtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

var (
	_ sandbox.Service = (*Service)(nil)
	_ sandbox.Sandbox = (*Sandbox)(nil)
)

// Service hands out fresh in-memory sandboxes.
type Service struct {
	// Err, when set, is returned by every Create.
	Err error
	// Delay is slept (respecting ctx) before each Create returns.
	Delay time.Duration
	// Configure, when set, is applied to every new sandbox.
	Configure func(*Sandbox)

	created atomic.Int32

	mu        sync.Mutex
	sandboxes []*Sandbox
}

// Create returns a new Sandbox with ID "sbx-<n>".
func (s *Service) Create(ctx context.Context) (sandbox.Sandbox, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	sbx := NewSandbox(fmt.Sprintf("sbx-%d", s.created.Add(1)))
	if s.Configure != nil {
		s.Configure(sbx)
	}
	s.mu.Lock()
	s.sandboxes = append(s.sandboxes, sbx)
	s.mu.Unlock()
	return sbx, nil
}

// Created returns how many sandboxes Create has produced.
func (s *Service) Created() int { return int(s.created.Load()) }

// Sandboxes returns the sandboxes created so far.
func (s *Service) Sandboxes() []*Sandbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Sandbox(nil), s.sandboxes...)
}

// Sandbox is an in-memory sandbox. Files live in a map; code and commands
// are answered by the optional hook functions.
type Sandbox struct {
	id string

	// RunCodeFunc answers RunCode. Default: an empty successful execution.
	RunCodeFunc func(code string) (*sandbox.Execution, error)
	// RunFunc answers Commands().Run. Default: empty output, exit 0.
	RunFunc func(cmd string, opts sandbox.RunOptions) (*sandbox.CommandResult, error)
	// StartFunc answers Commands().Start. Default: pid 1000.
	StartFunc func(cmd string, opts sandbox.RunOptions) (*sandbox.CommandHandle, error)
	// ReadErr, when set, is returned by every Files().Read.
	ReadErr error
	// KillErr is returned by Kill.
	KillErr error

	mu     sync.Mutex
	files  map[string][]byte
	writes []string
	killed int
}

// NewSandbox creates an empty sandbox with the given ID.
func NewSandbox(id string) *Sandbox {
	return &Sandbox{id: id, files: make(map[string][]byte)}
}

func (s *Sandbox) ID() string { return s.id }

func (s *Sandbox) RunCode(_ context.Context, code string) (*sandbox.Execution, error) {
	if s.RunCodeFunc != nil {
		return s.RunCodeFunc(code)
	}
	return &sandbox.Execution{
		Results: []sandbox.Result{},
		Logs:    sandbox.Logs{Stdout: []string{}, Stderr: []string{}},
	}, nil
}

func (s *Sandbox) Files() sandbox.Filesystem { return (*files)(s) }

func (s *Sandbox) Commands() sandbox.Commands { return (*commands)(s) }

func (s *Sandbox) Kill(context.Context) error {
	s.mu.Lock()
	s.killed++
	s.mu.Unlock()
	return s.KillErr
}

// Killed returns how often Kill was called.
func (s *Sandbox) Killed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// SetFile stores a file without recording a write.
func (s *Sandbox) SetFile(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
}

// File returns the stored content of path.
func (s *Sandbox) File(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return data, ok
}

// Writes returns the paths written through Files().Write, in order.
func (s *Sandbox) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

type files Sandbox

func (f *files) Read(_ context.Context, path string) ([]byte, error) {
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, sandbox.ErrNotFound)
	}
	return data, nil
}

func (f *files) Write(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	f.writes = append(f.writes, path)
	return nil
}

type commands Sandbox

func (c *commands) Run(_ context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandResult, error) {
	if c.RunFunc != nil {
		return c.RunFunc(cmd, opts)
	}
	return &sandbox.CommandResult{}, nil
}

func (c *commands) Start(_ context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandHandle, error) {
	if c.StartFunc != nil {
		return c.StartFunc(cmd, opts)
	}
	return &sandbox.CommandHandle{PID: 1000}, nil
}
