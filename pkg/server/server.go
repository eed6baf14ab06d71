// Package server exposes the sandbox tools over the Model Context Protocol.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/tools"
)

// State is the lifecycle state of a Server.
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Sessions is the part of the session manager the server drives directly.
type Sessions interface {
	Shutdown(ctx context.Context)
}

// Options configures a Server.
type Options struct {
	Name    string
	Version string

	// ShutdownTimeout bounds session cleanup after the transport closes
	// (default: 10s).
	ShutdownTimeout time.Duration
}

// Server binds tools and a pipeline to an MCP server.
type Server struct {
	mcp      *mcp.Server
	pipeline *tools.Pipeline
	sessions Sessions
	tools    map[string]*tools.Tool
	opts     Options
	state    atomic.Int32
}

// New creates a Server and registers every tool.
func New(pipeline *tools.Pipeline, sessions Sessions, toolset []*tools.Tool, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "sandbox-mcp"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		pipeline: pipeline,
		sessions: sessions,
		tools:    make(map[string]*tools.Tool, len(toolset)),
		opts:     opts,
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	s.mcp.AddReceivingMiddleware(s.unknownToolMiddleware)

	for _, t := range toolset {
		s.tools[t.Name] = t
		s.mcp.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, s.handler(t))
		debug.Log("mcp", "tool registered", "tool", t.Name)
	}
	return s
}

func (s *Server) handler(t *tools.Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return s.pipeline.Call(ctx, t, args).Result(), nil
	}
}

// unknownToolMiddleware answers calls to unregistered tools with an
// isError result instead of a protocol error.
func (s *Server) unknownToolMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if method == "tools/call" {
			if r, ok := req.(*mcp.CallToolRequest); ok && r.Params != nil {
				if _, known := s.tools[r.Params.Name]; !known {
					slog.Warn("unknown tool requested", "tool", r.Params.Name)
					return tools.UnknownTool(r.Params.Name), nil
				}
			}
		}
		return next(ctx, method, req)
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Run serves one client on transport until the client disconnects or ctx is
// cancelled, then clears all sessions. Cancellation is a clean shutdown and
// returns nil.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	ss, err := s.mcp.Connect(ctx, transport, nil)
	if err != nil {
		return err
	}
	s.state.Store(int32(StateConnected))
	slog.Info("mcp server connected", "name", s.opts.Name, "version", s.opts.Version, "tools", len(s.tools))

	closed := make(chan error, 1)
	go func() {
		closed <- ss.Wait()
	}()

	select {
	case <-ctx.Done():
		s.state.Store(int32(StateShuttingDown))
		slog.Info("shutting down", "reason", ctx.Err())
		ss.Close()
		<-closed
		err = nil
	case err = <-closed:
		s.state.Store(int32(StateShuttingDown))
		if err != nil {
			slog.Error("mcp session ended with error", "error", err)
		} else {
			slog.Info("mcp client disconnected")
		}
	}

	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.sessions.Shutdown(ctx)
}
