package e2b

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// Ensure Client implements sandbox.Service at compile time.
var _ sandbox.Service = (*Client)(nil)

// Client creates E2B sandboxes.
type Client struct {
	cfg Config
}

// New creates a new E2B client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("e2b: api key is required")
	}
	cfg.defaults()
	return &Client{cfg: cfg}, nil
}

type createRequest struct {
	TemplateID string            `json:"templateID"`
	Timeout    int               `json:"timeout"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type createResponse struct {
	SandboxID       string  `json:"sandboxID"`
	TemplateID      string  `json:"templateID"`
	ClientID        string  `json:"clientID"`
	EnvdVersion     string  `json:"envdVersion"`
	EnvdAccessToken string  `json:"envdAccessToken"`
	Domain          *string `json:"domain"`
}

// Create provisions a sandbox from the configured template.
func (c *Client) Create(ctx context.Context) (sandbox.Sandbox, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(createRequest{
		TemplateID: c.cfg.Template,
		Timeout:    int(c.cfg.SandboxTimeout.Seconds()),
		Metadata:   map[string]string{"origin": "sandbox-mcp"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/sandboxes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("e2b: create sandbox: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, newAPIError("create sandbox", resp.StatusCode, respBody)
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if created.SandboxID == "" {
		return nil, errors.New("e2b: create sandbox: response has no sandboxID")
	}

	domain := c.cfg.Domain
	if created.Domain != nil && *created.Domain != "" {
		domain = *created.Domain
	}

	slog.Info("e2b sandbox created",
		"sandbox_id", created.SandboxID,
		"template", created.TemplateID,
		"envd_version", created.EnvdVersion,
	)

	return &Sandbox{
		client:      c,
		id:          created.SandboxID,
		domain:      domain,
		accessToken: created.EnvdAccessToken,
	}, nil
}

// kill deletes a sandbox through the control plane. A sandbox that no
// longer exists is not an error.
func (c *Client) kill(ctx context.Context, sandboxID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.APIURL+"/sandboxes/"+sandboxID, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return errors.WithStack(fmt.Errorf("e2b: kill sandbox %s: %w", sandboxID, err))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		debug.Log("sandbox", "e2b sandbox killed", "sandbox_id", sandboxID, "status", resp.StatusCode)
		return nil
	default:
		return newAPIError("kill sandbox", resp.StatusCode, respBody)
	}
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("X-API-Key", c.cfg.APIKey)
}

// APIError is a non-success response from an E2B endpoint.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("e2b: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Unwrap maps 404 responses to sandbox.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return sandbox.ErrNotFound
	}
	return nil
}

// newAPIError builds an APIError from a response body, preferring the
// service's {"message": "..."} field when present. The returned error
// carries a stack trace.
func newAPIError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		msg = payload.Message
	}
	return errors.WithStack(&APIError{Op: op, StatusCode: status, Message: debug.Truncate(msg, 512)})
}
