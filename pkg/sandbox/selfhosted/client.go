package selfhosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// Client calls the sandbox server's REST API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new sandbox server HTTP client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Minute, // Commands carry their own timeout; this only catches hung servers.
		},
	}
}

// Execute runs code on the sandbox server.
func (c *Client) Execute(ctx context.Context, baseURL string, req *ExecuteRequest) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.postJSON(ctx, baseURL+"/execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunCommand runs a shell command on the sandbox server.
func (c *Client) RunCommand(ctx context.Context, baseURL string, req *CommandRequest) (*CommandResponse, error) {
	var resp CommandResponse
	if err := c.postJSON(ctx, baseURL+"/commands", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadFile downloads a file. A 404 is reported as sandbox.ErrNotFound.
func (c *Client) ReadFile(ctx context.Context, baseURL, path string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, filesURL(baseURL, path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("file %s: %w", path, sandbox.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// WriteFile uploads a file, creating parent directories as needed.
func (c *Client) WriteFile(ctx context.Context, baseURL, path string, data []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, filesURL(baseURL, path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, body)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	debug.Log("sandbox", "sandbox server request", "url", endpoint, "bytes", len(body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("sandbox at capacity (HTTP 429)")
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func filesURL(baseURL, path string) string {
	return baseURL + "/files?" + url.Values{"path": {path}}.Encode()
}

func statusError(status int, body []byte) error {
	var e ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("sandbox returned HTTP %d: %s", status, e.Error)
	}
	return fmt.Errorf("sandbox returned HTTP %d: %s", status, debug.Truncate(string(body), 512))
}
