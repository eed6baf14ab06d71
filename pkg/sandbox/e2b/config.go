package e2b

import (
	"net/http"
	"time"
)

const (
	defaultAPIURL         = "https://api.e2b.dev"
	defaultDomain         = "e2b.app"
	defaultTemplate       = "code-interpreter-v1"
	defaultSandboxTimeout = time.Hour
	defaultRequestTimeout = 60 * time.Second

	envdPort        = 49983
	interpreterPort = 49999

	// defaultUser is the sandbox user envd runs files and processes as.
	defaultUser = "user"
)

// Config holds settings for the E2B client.
type Config struct {
	// APIKey authenticates against the control plane. Required.
	APIKey string

	// APIURL is the control plane base URL (default: https://api.e2b.dev).
	APIURL string

	// Domain is the sandbox domain used to build per-sandbox hosts
	// (default: e2b.app).
	Domain string

	// Template is the sandbox template (default: code-interpreter-v1).
	Template string

	// SandboxTimeout is how long the service keeps an idle sandbox alive
	// (default: 1h).
	SandboxTimeout time.Duration

	// RequestTimeout bounds control plane, file, and code requests
	// (default: 60s). Commands use their own timeout.
	RequestTimeout time.Duration

	// SandboxURL, when set, replaces https://<port>-<id>.<domain> for all
	// in-sandbox traffic. Used for self-hosted E2B-compatible deployments.
	SandboxURL string

	// HTTPClient is used for all requests. Defaults to a client without a
	// global timeout; deadlines come from contexts.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.Domain == "" {
		c.Domain = defaultDomain
	}
	if c.Template == "" {
		c.Template = defaultTemplate
	}
	if c.SandboxTimeout == 0 {
		c.SandboxTimeout = defaultSandboxTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}
