package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

const (
	maxBodyBytes          = 100 << 20
	defaultExecuteTimeout = 30 * time.Second
)

type sandboxServer struct {
	mode           string
	runtimeVersion string
	workspace      string
	maxConcurrent  int32
	currentLoad    atomic.Int32
	startTime      time.Time
}

func newSandboxServer(mode, workspace string, maxConcurrent int) *sandboxServer {
	return &sandboxServer{
		mode:           mode,
		runtimeVersion: detectRuntimeVersion(mode),
		workspace:      workspace,
		maxConcurrent:  int32(maxConcurrent),
		startTime:      time.Now(),
	}
}

func (s *sandboxServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /commands", s.handleCommand)
	mux.HandleFunc("GET /files", s.handleReadFile)
	mux.HandleFunc("PUT /files", s.handleWriteFile)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// resolve maps a request path into the filesystem. Relative paths are
// anchored at the workspace.
func (s *sandboxServer) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.workspace, p)
}

// --- Execute ---

type executeRequest struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type executeResponse struct {
	Status          string `json:"status"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

func (s *sandboxServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)
	if current > s.maxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.maxConcurrent))
		return
	}

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	timeout := defaultExecuteTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	rt := runtimes[s.mode]
	script, err := os.CreateTemp("", "sandbox-exec-*"+rt.ext)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create script: "+err.Error())
		return
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(req.Code); err != nil {
		script.Close()
		writeError(w, http.StatusInternalServerError, "failed to write script: "+err.Error())
		return
	}
	script.Close()

	slog.Info("execute request", "code", truncate(req.Code, 120), "timeout", timeout)

	args := append(append([]string{}, rt.cmd[1:]...), script.Name())
	res := s.runProcess(r.Context(), rt.cmd[0], args, s.workspace, nil, timeout)

	status := "success"
	if res.ExitCode != 0 {
		status = "error"
	}
	slog.Info("execute complete", "status", status, "exit_code", res.ExitCode, "duration_ms", res.duration.Milliseconds())

	writeJSON(w, http.StatusOK, executeResponse{
		Status:          status,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		ExitCode:        res.ExitCode,
		ExecutionTimeMs: res.duration.Milliseconds(),
	})
}

// --- Commands ---

type commandRequest struct {
	Command    string            `json:"command"`
	Cwd        string            `json:"cwd,omitempty"`
	Envs       map[string]string `json:"envs,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
	Background bool              `json:"background,omitempty"`
}

type commandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	PID      int    `json:"pid,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (s *sandboxServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	dir := s.workspace
	if req.Cwd != "" {
		dir = s.resolve(req.Cwd)
	}
	env := make([]string, 0, len(req.Envs))
	for k, v := range req.Envs {
		env = append(env, k+"="+v)
	}

	slog.Info("command request", "command", truncate(req.Command, 120), "background", req.Background)

	if req.Background {
		cmd := exec.Command("bash", "-c", req.Command)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), env...)
		if err := cmd.Start(); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to start command: "+err.Error())
			return
		}
		pid := cmd.Process.Pid
		go func() {
			err := cmd.Wait()
			slog.Info("background command finished", "pid", pid, "error", err)
		}()
		writeJSON(w, http.StatusOK, commandResponse{PID: pid})
		return
	}

	res := s.runProcess(r.Context(), "bash", []string{"-c", req.Command}, dir, env,
		time.Duration(req.TimeoutMs)*time.Millisecond)
	writeJSON(w, http.StatusOK, res.commandResponse)
}

type processResult struct {
	commandResponse
	duration time.Duration
}

// runProcess runs a command to completion. A zero timeout means no limit.
func (s *sandboxServer) runProcess(ctx context.Context, name string, args []string, dir string, env []string, timeout time.Duration) processResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not keep Wait blocked after a kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := processResult{duration: time.Since(start)}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.ExitCode = -1
			res.TimedOut = true
			if stderr.Len() == 0 {
				fmt.Fprintf(&stderr, "timed out after %s", timeout)
			}
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			res.ExitCode = -1
			stderr.WriteString(err.Error())
		}
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

// --- Files ---

func (s *sandboxServer) handleReadFile(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	f, err := os.Open(s.resolve(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "file not found: "+p)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		writeError(w, http.StatusBadRequest, "path is a directory: "+p)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}

func (s *sandboxServer) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	target := s.resolve(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create directory: "+err.Error())
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("file written", "path", target, "bytes", len(data))
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

type healthResponse struct {
	Status         string `json:"status"`
	Mode           string `json:"mode"`
	RuntimeVersion string `json:"runtime_version"`
	Workspace      string `json:"workspace"`
	Capacity       int    `json:"capacity"`
	CurrentLoad    int    `json:"current_load"`
	UptimeSecs     int64  `json:"uptime_seconds"`
}

func (s *sandboxServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Mode:           s.mode,
		RuntimeVersion: s.runtimeVersion,
		Workspace:      s.workspace,
		Capacity:       int(s.maxConcurrent),
		CurrentLoad:    int(s.currentLoad.Load()),
		UptimeSecs:     int64(time.Since(s.startTime).Seconds()),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
