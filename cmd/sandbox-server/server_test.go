package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	ws := t.TempDir()
	srv := httptest.NewServer(newSandboxServer("shell", ws, 2).routes())
	t.Cleanup(srv.Close)
	return srv, ws
}

func postJSON(t *testing.T, url string, in, out any) int {
	t.Helper()
	body, _ := json.Marshal(in)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestFilesRoundTrip(t *testing.T) {
	srv, ws := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/files?path=sub/a.txt", bytes.NewReader([]byte("hello")))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	abs := filepath.Join(ws, "sub", "a.txt")
	for _, p := range []string{"sub/a.txt", abs} {
		resp, err := http.Get(srv.URL + "/files?path=" + p)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(data) != "hello" {
			t.Errorf("GET %s = %d %q", p, resp.StatusCode, data)
		}
	}

	resp, err = http.Get(srv.URL + "/files?path=missing.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", resp.StatusCode)
	}
}

func TestCommands(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name     string
		req      commandRequest
		wantOut  string
		wantExit int
		timedOut bool
	}{
		{name: "echo", req: commandRequest{Command: "echo hi"}, wantOut: "hi\n"},
		{name: "env", req: commandRequest{Command: "echo $FOO", Envs: map[string]string{"FOO": "bar"}}, wantOut: "bar\n"},
		{name: "exit code", req: commandRequest{Command: "exit 3"}, wantExit: 3},
		{name: "timeout", req: commandRequest{Command: "sleep 5", TimeoutMs: 100}, wantExit: -1, timedOut: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp commandResponse
			if code := postJSON(t, srv.URL+"/commands", tt.req, &resp); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if resp.Stdout != tt.wantOut || resp.ExitCode != tt.wantExit || resp.TimedOut != tt.timedOut {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestCommands_Background(t *testing.T) {
	srv, _ := newTestServer(t)
	var resp commandResponse
	postJSON(t, srv.URL+"/commands", commandRequest{Command: "sleep 0.1", Background: true}, &resp)
	if resp.PID <= 0 {
		t.Errorf("pid = %d, want > 0", resp.PID)
	}
}

func TestExecute(t *testing.T) {
	srv, _ := newTestServer(t)

	var resp executeResponse
	if code := postJSON(t, srv.URL+"/execute", executeRequest{Code: "echo from-script"}, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Status != "success" || resp.Stdout != "from-script\n" {
		t.Errorf("resp = %+v", resp)
	}

	if code := postJSON(t, srv.URL+"/execute", executeRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("empty code status = %d, want 400", code)
	}
}
