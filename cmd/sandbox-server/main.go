// Command sandbox-server runs an HTTP server inside sandbox pods. It
// executes code, serves the workspace filesystem, and runs shell commands
// for the self-hosted sandbox-mcp backend.
//
// Configuration:
//
//	SANDBOX_PORT           - Listen port (default: 8080)
//	SANDBOX_MODE           - Runtime mode: python, node, shell (default: auto-detect)
//	SANDBOX_MAX_CONCURRENT - Max concurrent executions (default: 3)
//	SANDBOX_WORKSPACE      - Directory relative paths resolve against (default: /home/user)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sandbox server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	port := envOr("SANDBOX_PORT", "8080")
	mode := envOr("SANDBOX_MODE", "")
	maxConcurrent := envOrInt("SANDBOX_MAX_CONCURRENT", 3)
	workspace := envOr("SANDBOX_WORKSPACE", "/home/user")

	if mode == "" {
		mode = detectMode()
		if mode == "" {
			return errors.New("no supported runtime found in PATH (tried: python3, node, bash)")
		}
	} else if err := validateMode(mode); err != nil {
		return err
	}

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	srv := newSandboxServer(mode, workspace, maxConcurrent)

	httpSrv := &http.Server{
		Addr:        ":" + port,
		Handler:     srv.routes(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: foreground commands run for up to their own timeout.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sandbox server starting",
			"port", port,
			"mode", mode,
			"runtime", srv.runtimeVersion,
			"workspace", workspace,
			"max_concurrent", maxConcurrent,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
