package e2b

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

const (
	connectContentType = "application/connect+json"
	startProcessPath   = "/process.Process/Start"

	// Envelope flag marking the trailing end-of-stream message.
	flagEndStream = 0x02

	// maxEnvelopeSize caps a single stream message.
	maxEnvelopeSize = 16 << 20
)

// commands implements sandbox.Commands over envd's process service,
// spoken as Connect server streaming with the JSON codec.
type commands struct {
	sbx *Sandbox
}

type processConfig struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args"`
	Envs map[string]string `json:"envs"`
	Cwd  string            `json:"cwd,omitempty"`
}

type startRequest struct {
	Process processConfig `json:"process"`
}

type processEvent struct {
	Event struct {
		Start *struct {
			PID int `json:"pid"`
		} `json:"start,omitempty"`
		Data *struct {
			Stdout string `json:"stdout,omitempty"`
			Stderr string `json:"stderr,omitempty"`
		} `json:"data,omitempty"`
		End *struct {
			ExitCode int    `json:"exitCode"`
			Exited   bool   `json:"exited"`
			Status   string `json:"status"`
			Error    string `json:"error"`
		} `json:"end,omitempty"`
	} `json:"event"`
}

type endStream struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Run starts cmd under a login bash shell and waits for it to exit.
func (c *commands) Run(ctx context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	stream, err := c.start(ctx, cmd, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var stdout, stderr strings.Builder
	for {
		ev, err := stream.next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.WithStack(fmt.Errorf("e2b: command %q: %w", cmd, ctxErr))
			}
			if errors.Is(err, io.EOF) {
				return nil, errors.Errorf("e2b: command %q: stream ended without exit status", cmd)
			}
			return nil, err
		}
		switch {
		case ev.Event.Data != nil:
			if out, ok := decodeChunk(ev.Event.Data.Stdout); ok {
				stdout.WriteString(out)
				if opts.OnStdout != nil {
					opts.OnStdout(out)
				}
			}
			if out, ok := decodeChunk(ev.Event.Data.Stderr); ok {
				stderr.WriteString(out)
				if opts.OnStderr != nil {
					opts.OnStderr(out)
				}
			}
		case ev.Event.End != nil:
			end := ev.Event.End
			debug.Log("sandbox", "e2b command finished",
				"sandbox_id", c.sbx.id, "exit_code", end.ExitCode, "status", end.Status)
			if end.ExitCode != 0 {
				return nil, &sandbox.CommandExitError{
					ExitCode: end.ExitCode,
					Stdout:   stdout.String(),
					Stderr:   stderr.String(),
					Message:  end.Error,
				}
			}
			return &sandbox.CommandResult{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: end.ExitCode,
			}, nil
		}
	}
}

// Start launches cmd and returns once envd reports its pid. The rest of the
// stream is drained in the background so the process keeps running after
// the caller's context is done.
func (c *commands) Start(ctx context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandHandle, error) {
	stream, err := c.start(context.WithoutCancel(ctx), cmd, opts)
	if err != nil {
		return nil, err
	}

	for {
		ev, err := stream.next()
		if err != nil {
			stream.Close()
			if errors.Is(err, io.EOF) {
				return nil, errors.Errorf("e2b: command %q: stream ended before start", cmd)
			}
			return nil, err
		}
		if ev.Event.Start == nil {
			continue
		}
		pid := ev.Event.Start.PID
		debug.Log("sandbox", "e2b background command started", "sandbox_id", c.sbx.id, "pid", pid)
		go c.drain(stream, pid, opts)
		return &sandbox.CommandHandle{PID: pid}, nil
	}
}

func (c *commands) drain(stream *eventStream, pid int, opts sandbox.RunOptions) {
	defer stream.Close()
	for {
		ev, err := stream.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("background command stream failed", "sandbox_id", c.sbx.id, "pid", pid, "error", err)
			}
			return
		}
		if d := ev.Event.Data; d != nil {
			if out, ok := decodeChunk(d.Stdout); ok && opts.OnStdout != nil {
				opts.OnStdout(out)
			}
			if out, ok := decodeChunk(d.Stderr); ok && opts.OnStderr != nil {
				opts.OnStderr(out)
			}
		}
		if end := ev.Event.End; end != nil {
			debug.Log("sandbox", "e2b background command finished",
				"sandbox_id", c.sbx.id, "pid", pid, "exit_code", end.ExitCode)
			return
		}
	}
}

// start opens the process event stream.
func (c *commands) start(ctx context.Context, cmd string, opts sandbox.RunOptions) (*eventStream, error) {
	envs := opts.Envs
	if envs == nil {
		envs = map[string]string{}
	}
	payload, err := json.Marshal(startRequest{Process: processConfig{
		Cmd:  "/bin/bash",
		Args: []string{"-l", "-c", cmd},
		Envs: envs,
		Cwd:  opts.Cwd,
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.sbx.baseURL(envdPort)+startProcessPath, bytes.NewReader(encodeEnvelope(0, payload)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", connectContentType)
	req.Header.Set("Connect-Protocol-Version", "1")
	if opts.Timeout > 0 {
		req.Header.Set("Connect-Timeout-Ms", strconv.FormatInt(opts.Timeout.Milliseconds(), 10))
	}
	c.sbx.setHeaders(req, envdPort)

	debug.Log("sandbox", "e2b command start", "sandbox_id", c.sbx.id, "cmd", debug.Truncate(cmd, 200))

	resp, err := c.sbx.client.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("e2b: start command: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newAPIError("start command", resp.StatusCode, body)
	}
	return &eventStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

// eventStream reads Connect envelopes from a streaming response.
type eventStream struct {
	body io.ReadCloser
	r    *bufio.Reader
}

// next returns the next process event. It returns io.EOF after a clean
// end-of-stream message and an error for a Connect error trailer.
func (s *eventStream) next() (*processEvent, error) {
	for {
		flags, data, err := readEnvelope(s.r)
		if err != nil {
			return nil, err
		}
		if flags&flagEndStream != 0 {
			var end endStream
			if len(data) > 0 {
				if err := json.Unmarshal(data, &end); err != nil {
					return nil, fmt.Errorf("decode end of stream: %w", err)
				}
			}
			if end.Error != nil {
				return nil, errors.Errorf("e2b: process stream: %s: %s", end.Error.Code, end.Error.Message)
			}
			return nil, io.EOF
		}
		var ev processEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode process event: %w", err)
		}
		if ev.Event.Start == nil && ev.Event.Data == nil && ev.Event.End == nil {
			// keepalive
			continue
		}
		return &ev, nil
	}
}

func (s *eventStream) Close() error {
	return s.body.Close()
}

func encodeEnvelope(flags byte, payload []byte) []byte {
	buf := make([]byte, 5+len(payload))
	buf[0] = flags
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	return buf
}

func readEnvelope(r io.Reader) (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("read envelope header: %w", err)
		}
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(header[1:5])
	if size > maxEnvelopeSize {
		return 0, nil, errors.Errorf("envelope of %d bytes exceeds limit", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, fmt.Errorf("read envelope body: %w", err)
	}
	return header[0], data, nil
}

// decodeChunk decodes a base64 output chunk. Empty chunks report false.
func decodeChunk(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s, true
	}
	return string(b), true
}
