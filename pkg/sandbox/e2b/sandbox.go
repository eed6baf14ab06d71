package e2b

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

// Ensure Sandbox implements sandbox.Sandbox at compile time.
var _ sandbox.Sandbox = (*Sandbox)(nil)

// Sandbox is a handle to one running E2B sandbox.
type Sandbox struct {
	client      *Client
	id          string
	domain      string
	accessToken string
}

// ID returns the E2B sandbox identifier.
func (s *Sandbox) ID() string { return s.id }

// Files returns the envd filesystem client.
func (s *Sandbox) Files() sandbox.Filesystem { return &filesystem{sbx: s} }

// Commands returns the envd process client.
func (s *Sandbox) Commands() sandbox.Commands { return &commands{sbx: s} }

// Kill deletes the sandbox.
func (s *Sandbox) Kill(ctx context.Context) error {
	return s.client.kill(ctx, s.id)
}

// baseURL returns the URL of a port inside the sandbox.
func (s *Sandbox) baseURL(port int) string {
	if s.client.cfg.SandboxURL != "" {
		return s.client.cfg.SandboxURL
	}
	return fmt.Sprintf("https://%d-%s.%s", port, s.id, s.domain)
}

// setHeaders adds the routing and authentication headers envd and the
// code interpreter expect.
func (s *Sandbox) setHeaders(req *http.Request, port int) {
	req.Header.Set("E2b-Sandbox-Id", s.id)
	req.Header.Set("E2b-Sandbox-Port", fmt.Sprint(port))
	if s.accessToken != "" {
		req.Header.Set("X-Access-Token", s.accessToken)
	}
	if port == envdPort {
		// envd identifies the acting user through basic auth with an empty password.
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(defaultUser+":")))
	}
}
