package e2b

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// fakeE2B serves the control plane, envd, and interpreter routes from a
// single httptest server.
type fakeE2B struct {
	mu      sync.Mutex
	files   map[string][]byte
	killed  []string
	apiKeys []string

	// process controls the envd process stream.
	process func(w http.ResponseWriter, cmd string)
	// execute controls the interpreter stream.
	execute func(w http.ResponseWriter, code string)
}

func newFake(t *testing.T) (*fakeE2B, *httptest.Server) {
	t.Helper()
	f := &fakeE2B{files: map[string][]byte{}}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.apiKeys = append(f.apiKeys, r.Header.Get("X-API-Key"))
		f.mu.Unlock()
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(createResponse{
			SandboxID:       "sbx-1",
			TemplateID:      req.TemplateID,
			EnvdVersion:     "0.2.0",
			EnvdAccessToken: "tok",
		})
	})
	mux.HandleFunc("DELETE /sandboxes/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.mu.Lock()
		f.killed = append(f.killed, id)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data, ok := f.files[r.URL.Query().Get("path")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":404,"message":"file not found"}`))
			return
		}
		w.Write(data)
	})
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Access-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		f.files[r.URL.Query().Get("path")] = data
		f.mu.Unlock()
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("POST "+startProcessPath, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, payload, err := readEnvelope(strings.NewReader(string(body)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req startRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", connectContentType)
		f.process(w, req.Process.Args[len(req.Process.Args)-1])
	})
	mux.HandleFunc("POST /execute", func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.execute(w, req.Code)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestSandbox(t *testing.T) (*fakeE2B, *Sandbox) {
	t.Helper()
	f, srv := newFake(t)
	c, err := New(Config{APIKey: "key", APIURL: srv.URL, SandboxURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sbx, err := c.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return f, sbx.(*Sandbox)
}

func writeEvent(w http.ResponseWriter, event string) {
	w.Write(encodeEnvelope(0, []byte(event)))
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

func writeEnd(w http.ResponseWriter, body string) {
	w.Write(encodeEnvelope(flagEndStream, []byte(body)))
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestCreateAndKill(t *testing.T) {
	f, sbx := newTestSandbox(t)

	if sbx.ID() != "sbx-1" {
		t.Errorf("ID = %q, want sbx-1", sbx.ID())
	}
	if len(f.apiKeys) != 1 || f.apiKeys[0] != "key" {
		t.Errorf("X-API-Key = %v, want [key]", f.apiKeys)
	}

	if err := sbx.Kill(context.Background()); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(f.killed) != 1 || f.killed[0] != "sbx-1" {
		t.Errorf("killed = %v", f.killed)
	}

	// A sandbox that is already gone is not an error.
	if err := sbx.client.kill(context.Background(), "gone"); err != nil {
		t.Errorf("kill of missing sandbox: %v", err)
	}
}

func TestCreate_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":401,"message":"Invalid API key"}`))
	}))
	defer srv.Close()

	c, _ := New(Config{APIKey: "bad", APIURL: srv.URL})
	_, err := c.Create(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Invalid API key" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestFiles_WriteThenRead(t *testing.T) {
	_, sbx := newTestSandbox(t)
	ctx := context.Background()

	if err := sbx.Files().Write(ctx, "/home/user/a.txt", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := sbx.Files().Read(ctx, "/home/user/a.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Read = %q, want hello", data)
	}
}

func TestFiles_ReadMissing(t *testing.T) {
	_, sbx := newTestSandbox(t)
	_, err := sbx.Files().Read(context.Background(), "/nope")
	if !sandbox.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCommands_Run(t *testing.T) {
	tests := []struct {
		name       string
		process    func(w http.ResponseWriter, cmd string)
		wantStdout string
		wantExit   int
		wantErr    bool
	}{
		{
			name: "success",
			process: func(w http.ResponseWriter, cmd string) {
				writeEvent(w, `{"event":{"start":{"pid":7}}}`)
				writeEvent(w, `{"event":{"keepalive":{}}}`)
				writeEvent(w, fmt.Sprintf(`{"event":{"data":{"stdout":%q}}}`, b64("hi\n")))
				writeEvent(w, `{"event":{"end":{"exitCode":0,"exited":true,"status":"exit status 0"}}}`)
				writeEnd(w, `{}`)
			},
			wantStdout: "hi\n",
		},
		{
			name: "non-zero exit",
			process: func(w http.ResponseWriter, cmd string) {
				writeEvent(w, `{"event":{"start":{"pid":8}}}`)
				writeEvent(w, fmt.Sprintf(`{"event":{"data":{"stderr":%q}}}`, b64("boom")))
				writeEvent(w, `{"event":{"end":{"exitCode":2,"exited":true,"status":"exit status 2","error":"exit status 2"}}}`)
				writeEnd(w, `{}`)
			},
			wantExit: 2,
			wantErr:  true,
		},
		{
			name: "stream error trailer",
			process: func(w http.ResponseWriter, cmd string) {
				writeEnd(w, `{"error":{"code":"internal","message":"spawn failed"}}`)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, sbx := newTestSandbox(t)
			f.process = tt.process

			var streamed strings.Builder
			res, err := sbx.Commands().Run(context.Background(), "echo hi", sandbox.RunOptions{
				Timeout:  5 * time.Second,
				OnStdout: func(s string) { streamed.WriteString(s) },
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var exitErr *sandbox.CommandExitError
				if tt.wantExit != 0 {
					if !errors.As(err, &exitErr) {
						t.Fatalf("expected *CommandExitError, got %v", err)
					}
					if exitErr.ExitCode != tt.wantExit || exitErr.Stderr != "boom" {
						t.Errorf("exit error = %+v", exitErr)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Stdout != tt.wantStdout || streamed.String() != tt.wantStdout {
				t.Errorf("stdout = %q, streamed = %q, want %q", res.Stdout, streamed.String(), tt.wantStdout)
			}
		})
	}
}

func TestCommands_Start(t *testing.T) {
	f, sbx := newTestSandbox(t)
	done := make(chan struct{})
	f.process = func(w http.ResponseWriter, cmd string) {
		writeEvent(w, `{"event":{"start":{"pid":42}}}`)
		writeEvent(w, `{"event":{"end":{"exitCode":0,"exited":true}}}`)
		writeEnd(w, `{}`)
		close(done)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h, err := sbx.Commands().Start(ctx, "sleep 1", sandbox.RunOptions{})
	cancel()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.PID != 42 {
		t.Errorf("PID = %d, want 42", h.PID)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process stream never completed")
	}
}

func TestRunCode(t *testing.T) {
	f, sbx := newTestSandbox(t)
	f.execute = func(w http.ResponseWriter, code string) {
		lines := []string{
			`{"type":"number_of_executions","execution_count":1}`,
			`{"type":"stdout","text":"hello\n","timestamp":1}`,
			`{"type":"result","text":"2","is_main_result":true}`,
			`{"type":"end_of_execution"}`,
		}
		w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	}

	exec, err := sbx.RunCode(context.Background(), "print('hello'); 1+1")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if len(exec.Logs.Stdout) != 1 || exec.Logs.Stdout[0] != "hello\n" {
		t.Errorf("stdout = %v", exec.Logs.Stdout)
	}
	if len(exec.Results) != 1 || !exec.Results[0].IsMainResult {
		t.Fatalf("results = %+v", exec.Results)
	}
	if string(exec.Results[0].Formats["text"]) != `"2"` {
		t.Errorf("text format = %s", exec.Results[0].Formats["text"])
	}
	if _, ok := exec.Results[0].Formats["type"]; ok {
		t.Error("type field should not be kept as a format")
	}
	if exec.ExecutionCount != 1 {
		t.Errorf("execution count = %d", exec.ExecutionCount)
	}
}

func TestRunCode_Error(t *testing.T) {
	f, sbx := newTestSandbox(t)
	f.execute = func(w http.ResponseWriter, code string) {
		w.Write([]byte(`{"type":"error","name":"ZeroDivisionError","value":"division by zero","traceback":"Traceback..."}` + "\n"))
		w.Write([]byte(`{"type":"end_of_execution"}` + "\n"))
	}

	exec, err := sbx.RunCode(context.Background(), "1/0")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if exec.Error == nil || exec.Error.Name != "ZeroDivisionError" {
		t.Errorf("Error = %+v", exec.Error)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	buf := encodeEnvelope(flagEndStream, []byte(`{}`))
	flags, data, err := readEnvelope(strings.NewReader(string(buf)))
	if err != nil {
		t.Fatalf("readEnvelope: %v", err)
	}
	if flags != flagEndStream || string(data) != `{}` {
		t.Errorf("got flags=%d data=%q", flags, data)
	}
}
