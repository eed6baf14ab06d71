// Package selfhosted implements sandbox.Service against sandbox-server pods
// (cmd/sandbox-server), either at a fixed URL or acquired per session
// through an Acquirer.
package selfhosted

// ExecuteRequest is the request body for POST /execute on the sandbox server.
type ExecuteRequest struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ExecuteResponse is the response from POST /execute on the sandbox server.
type ExecuteResponse struct {
	Status          string `json:"status"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// CommandRequest is the request body for POST /commands.
type CommandRequest struct {
	Command    string            `json:"command"`
	Cwd        string            `json:"cwd,omitempty"`
	Envs       map[string]string `json:"envs,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
	Background bool              `json:"background,omitempty"`
}

// CommandResponse is the response from POST /commands. PID is set for
// background commands; the output fields for foreground ones.
type CommandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	PID      int    `json:"pid,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// ErrorResponse is the body of non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
