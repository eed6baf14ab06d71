package tools

import (
	"context"

	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

type runCodeInput struct {
	Code      string `json:"code" jsonschema:"the source code to execute"`
	SessionID string `json:"session_id,omitempty" jsonschema:"reuse the sandbox of this session; a new session is created when omitted"`
}

type runCodeOutput struct {
	*sandbox.Execution
	SessionID string `json:"session_id"`
}

func newRunCode() (*Tool, error) {
	return NewTool("run_code",
		"Run Python code in a secure sandbox. Returns the execution results, logs and any error. "+
			"Pass session_id to keep state between calls.",
		runCode)
}

func runCode(ctx context.Context, inv *Invocation, in runCodeInput) (any, error) {
	sbx, sessionID, err := inv.Sandbox(ctx)
	if err != nil {
		return nil, err
	}
	exec, err := sbx.RunCode(ctx, in.Code)
	if err != nil {
		return nil, err
	}
	return runCodeOutput{Execution: exec, SessionID: sessionID}, nil
}
