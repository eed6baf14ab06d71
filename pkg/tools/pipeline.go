package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/sandbox-mcp/pkg/audit"
	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/observability"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// Resolver maps an optional session ID to a sandbox. *session.Manager
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, sessionID string) (sandbox.Sandbox, string, error)
}

// Invocation is what a tool body sees of the call beyond its arguments.
// The session is resolved lazily so that checks which fail before any
// sandbox is needed do not create one.
type Invocation struct {
	resolver  Resolver
	requested string

	mu        sync.Mutex
	sessionID string
}

// Sandbox resolves the call's session, creating a sandbox if needed.
func (inv *Invocation) Sandbox(ctx context.Context) (sandbox.Sandbox, string, error) {
	sbx, id, err := inv.resolver.Resolve(ctx, inv.requested)
	inv.mu.Lock()
	inv.sessionID = id
	inv.mu.Unlock()
	return sbx, id, err
}

// SessionID returns the resolved session ID, or "" before Sandbox was called.
func (inv *Invocation) SessionID() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.sessionID
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	Tool      string
	Value     any
	Err       *Error
	SessionID string
	Duration  time.Duration
}

// Result renders the outcome as an MCP tool result with one indented JSON
// text block.
func (o Outcome) Result() *mcp.CallToolResult {
	if o.Err == nil {
		return textResult(o.Value, false)
	}
	return textResult(errorBody(o.Err, o.SessionID), true)
}

func errorBody(e *Error, sessionID string) map[string]any {
	body := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	for k, v := range e.Data {
		body[k] = v
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	if e.Err != nil {
		if stack := stackOf(e.Err); stack != "" {
			body["stack"] = stack
		}
	}
	return body
}

func textResult(v any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data, _ = json.MarshalIndent(map[string]any{
			"code":    CodeInternal,
			"message": "encode result: " + err.Error(),
		}, "", "  ")
		isError = true
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: isError,
	}
}

// UnknownTool is the result for a call naming no registered tool.
func UnknownTool(name string) *mcp.CallToolResult {
	return Outcome{Tool: name, Err: Errorf(CodeMethodNotFound, "Unknown tool: %s", name)}.Result()
}

// Pipeline runs tool calls: validate, execute, log, audit, measure.
type Pipeline struct {
	resolver Resolver
	recorder audit.Recorder
	newID    func() string
}

// NewPipeline creates a pipeline. A nil recorder disables auditing.
func NewPipeline(resolver Resolver, recorder audit.Recorder) *Pipeline {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Pipeline{resolver: resolver, recorder: recorder, newID: uuid.NewString}
}

// Call runs t with raw JSON arguments. It never returns a Go error; every
// failure is carried in the Outcome.
func (p *Pipeline) Call(ctx context.Context, t *Tool, raw json.RawMessage) (out Outcome) {
	start := time.Now()
	out.Tool = t.Name

	slog.Info("tool call started", "tool", t.Name)
	debug.Log("tools", "tool call arguments", "tool", t.Name, "args", debug.Truncate(string(raw), 2000))

	defer func() {
		out.Duration = time.Since(start)
		p.finish(ctx, &out)
	}()

	args, parsed, err := t.validate(raw)
	if err != nil {
		slog.Warn("tool validation failed", "tool", t.Name, "error", err)
		out.Err = &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("Invalid arguments for tool %s: %v", t.Name, err),
		}
		return out
	}
	debug.Log("tools", "tool validation succeeded", "tool", t.Name, "args", parsed)

	requested, _ := parsed["session_id"].(string)
	inv := &Invocation{resolver: p.resolver, requested: requested}

	value, err := p.run(ctx, t, inv, args)
	out.SessionID = inv.SessionID()
	if err != nil {
		out.Err = asError(err)
		attrs := []any{"tool", t.Name, "code", out.Err.Code, "error", out.Err.Message}
		if out.SessionID != "" {
			attrs = append(attrs, "session_id", out.SessionID)
		}
		if stack := stackOf(err); stack != "" {
			attrs = append(attrs, "stack", stack)
		}
		slog.Error("tool call failed", attrs...)
		return out
	}

	out.Value = value
	slog.Info("tool call completed",
		"tool", t.Name,
		"session_id", out.SessionID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// run executes the body, converting a panic into an internal error.
func (p *Pipeline) run(ctx context.Context, t *Tool, inv *Invocation, args json.RawMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", t.Name, "panic", fmt.Sprint(r))
			value = nil
			err = Errorf(CodeInternal, "internal error: tool %s panicked: %v", t.Name, r)
		}
	}()
	return t.call(ctx, inv, args)
}

func (p *Pipeline) finish(ctx context.Context, out *Outcome) {
	status, code := audit.StatusSuccess, ""
	if out.Err != nil {
		status, code = audit.StatusError, string(out.Err.Code)
	}

	observability.ToolCallsTotal.WithLabelValues(out.Tool, status).Inc()
	observability.ToolDuration.WithLabelValues(out.Tool).Observe(out.Duration.Seconds())

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := p.recorder.Record(recCtx, audit.Entry{
		ID:         p.newID(),
		Tool:       out.Tool,
		SessionID:  out.SessionID,
		Status:     status,
		Code:       code,
		DurationMs: out.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to record audit entry", "tool", out.Tool, "error", err)
	}
}
