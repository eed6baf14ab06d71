package selfhosted

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	files := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := ExecuteResponse{Status: "success", Stdout: "42\n"}
		if req.Code == "raise" {
			resp = ExecuteResponse{Status: "error", Stderr: "Traceback\nValueError: bad\n", ExitCode: 1}
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		data, ok := files[r.URL.Query().Get("path")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "not found"})
			return
		}
		w.Write(data)
	})
	mux.HandleFunc("PUT /files", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		files[r.URL.Query().Get("path")] = data
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /commands", func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch {
		case req.Background:
			json.NewEncoder(w).Encode(CommandResponse{PID: 99})
		case req.Command == "false":
			json.NewEncoder(w).Encode(CommandResponse{ExitCode: 1})
		default:
			json.NewEncoder(w).Encode(CommandResponse{Stdout: "ok\n"})
		}
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestService_StaticAcquirer(t *testing.T) {
	srv := newFakeServer(t)
	svc := NewService(&StaticAcquirer{URL: srv.URL + "/"}, 0)
	ctx := context.Background()

	sbx, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sbx.ID() == "" {
		t.Error("expected non-empty sandbox ID")
	}
	if got := sbx.(*Sandbox).URL(); got != srv.URL {
		t.Errorf("URL = %q, want %q", got, srv.URL)
	}

	exec, err := sbx.RunCode(ctx, "print(42)")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if len(exec.Logs.Stdout) != 1 || exec.Logs.Stdout[0] != "42\n" || exec.Error != nil {
		t.Errorf("unexpected execution: %+v", exec)
	}

	exec, err = sbx.RunCode(ctx, "raise")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if exec.Error == nil || exec.Error.Value != "ValueError: bad" {
		t.Errorf("execution error = %+v", exec.Error)
	}
}

func TestService_Files(t *testing.T) {
	srv := newFakeServer(t)
	sbx, _ := NewService(&StaticAcquirer{URL: srv.URL}, 0).Create(context.Background())
	ctx := context.Background()

	if _, err := sbx.Files().Read(ctx, "missing.txt"); !sandbox.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := sbx.Files().Write(ctx, "a.txt", []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := sbx.Files().Read(ctx, "a.txt")
	if err != nil || string(data) != "data" {
		t.Errorf("Read = %q, %v", data, err)
	}
}

func TestService_Commands(t *testing.T) {
	srv := newFakeServer(t)
	sbx, _ := NewService(&StaticAcquirer{URL: srv.URL}, 0).Create(context.Background())
	ctx := context.Background()

	res, err := sbx.Commands().Run(ctx, "echo ok", sandbox.RunOptions{})
	if err != nil || res.Stdout != "ok\n" {
		t.Errorf("Run = %+v, %v", res, err)
	}

	_, err = sbx.Commands().Run(ctx, "false", sandbox.RunOptions{})
	var exitErr *sandbox.CommandExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %v", err)
	}

	h, err := sbx.Commands().Start(ctx, "sleep 10", sandbox.RunOptions{})
	if err != nil || h.PID != 99 {
		t.Errorf("Start = %+v, %v", h, err)
	}
}

type countingAcquirer struct {
	url      string
	released int
}

func (a *countingAcquirer) Acquire(context.Context) (string, func(), error) {
	return a.url, func() { a.released++ }, nil
}

func TestSandbox_KillReleasesOnce(t *testing.T) {
	acq := &countingAcquirer{url: "http://unused"}
	sbx, err := NewService(acq, 0).Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sbx.Kill(context.Background())
	sbx.Kill(context.Background())
	if acq.released != 1 {
		t.Errorf("released %d times, want 1", acq.released)
	}
}

type failingAcquirer struct{}

func (failingAcquirer) Acquire(context.Context) (string, func(), error) {
	return "", nil, errors.New("no capacity")
}

func TestService_AcquireError(t *testing.T) {
	if _, err := NewService(failingAcquirer{}, 0).Create(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
