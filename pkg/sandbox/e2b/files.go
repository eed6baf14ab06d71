package e2b

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
)

// filesystem implements sandbox.Filesystem over envd's /files endpoint.
type filesystem struct {
	sbx *Sandbox
}

func (f *filesystem) filesURL(path string) string {
	q := url.Values{}
	q.Set("path", path)
	q.Set("username", defaultUser)
	return f.sbx.baseURL(envdPort) + "/files?" + q.Encode()
}

// Read downloads a file. A 404 is reported as sandbox.ErrNotFound.
func (f *filesystem) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.sbx.client.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.filesURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	f.sbx.setHeaders(req, envdPort)

	resp, err := f.sbx.client.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("e2b: read %s: %w", path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("read file "+path, resp.StatusCode, data)
	}

	debug.Log("sandbox", "e2b file read", "sandbox_id", f.sbx.id, "path", path, "bytes", len(data))
	return data, nil
}

// Write uploads a file as multipart form data.
func (f *filesystem) Write(ctx context.Context, path string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, f.sbx.client.cfg.RequestTimeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", path)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.filesURL(path), &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	f.sbx.setHeaders(req, envdPort)

	resp, err := f.sbx.client.cfg.HTTPClient.Do(req)
	if err != nil {
		return errors.WithStack(fmt.Errorf("e2b: write %s: %w", path, err))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return newAPIError("write file "+path, resp.StatusCode, respBody)
	}

	debug.Log("sandbox", "e2b file written", "sandbox_id", f.sbx.id, "path", path, "bytes", len(data))
	return nil
}
