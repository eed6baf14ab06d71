package e2b

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

type executeRequest struct {
	Code string `json:"code"`
}

// outputLine is one NDJSON line of the interpreter's /execute stream.
type outputLine struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	Name           string `json:"name"`
	Value          string `json:"value"`
	Traceback      string `json:"traceback"`
	ExecutionCount int    `json:"execution_count"`
}

// RunCode executes Python code in the sandbox's interpreter and collects
// the streamed output into a single Execution.
func (s *Sandbox) RunCode(ctx context.Context, code string) (*sandbox.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.client.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(executeRequest{Code: code})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL(interpreterPort)+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.setHeaders(req, interpreterPort)

	debug.Log("sandbox", "e2b run code", "sandbox_id", s.id, "code_len", len(code))
	if debug.TraceIsEnabled("sandbox") {
		debug.Trace("sandbox", "e2b run code body", "code", code)
	}

	resp, err := s.client.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("e2b: run code: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, newAPIError("run code", resp.StatusCode, respBody)
	}

	exec, err := parseExecution(resp.Body)
	if err != nil {
		return nil, err
	}
	debug.Log("sandbox", "e2b run code finished", "sandbox_id", s.id,
		"results", len(exec.Results), "has_error", exec.Error != nil)
	return exec, nil
}

// parseExecution folds an NDJSON output stream into an Execution.
func parseExecution(r io.Reader) (*sandbox.Execution, error) {
	exec := &sandbox.Execution{
		Results: []sandbox.Result{},
		Logs:    sandbox.Logs{Stdout: []string{}, Stderr: []string{}},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var out outputLine
		if err := json.Unmarshal(line, &out); err != nil {
			return nil, fmt.Errorf("decode output line: %w", err)
		}
		switch out.Type {
		case "stdout":
			exec.Logs.Stdout = append(exec.Logs.Stdout, out.Text)
		case "stderr":
			exec.Logs.Stderr = append(exec.Logs.Stderr, out.Text)
		case "result":
			var res sandbox.Result
			if err := json.Unmarshal(line, &res); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
			exec.Results = append(exec.Results, res)
		case "error":
			exec.Error = &sandbox.ExecutionError{Name: out.Name, Value: out.Value, Traceback: out.Traceback}
		case "number_of_executions":
			exec.ExecutionCount = out.ExecutionCount
		case "end_of_execution":
			return exec, nil
		default:
			debug.Log("sandbox", "ignoring interpreter output", "type", out.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(fmt.Errorf("e2b: read execution stream: %w", err))
	}
	return exec, nil
}
