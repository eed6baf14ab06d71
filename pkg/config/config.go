// Package config provides unified configuration for sandbox-mcp.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (SANDBOX_MCP_ prefix, E2B_API_KEY)
//  4. Legacy env var names for the allow-lists
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for sandbox-mcp.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Session       SessionConfig       `yaml:"session"`
	Files         FilesConfig         `yaml:"files"`
	Commands      CommandsConfig      `yaml:"commands"`
	Tools         ToolsConfig         `yaml:"tools"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds the MCP implementation identity.
type ServerConfig struct {
	Name    string `yaml:"name"`    // default: "sandbox-mcp"
	Version string `yaml:"version"` // default: build version
}

// SandboxConfig selects and configures the sandbox backend.
type SandboxConfig struct {
	Backend     string           `yaml:"backend"`      // "e2b", "static" or "kubernetes", default: "e2b"
	CodeTimeout time.Duration    `yaml:"code_timeout"` // run_code limit for self-hosted backends, default: 5m
	E2B         E2BConfig        `yaml:"e2b"`
	Static      StaticConfig     `yaml:"static"`
	Kubernetes  KubernetesConfig `yaml:"kubernetes"`
}

// E2BConfig holds settings for the hosted sandbox service.
type E2BConfig struct {
	APIKey         string        `yaml:"api_key"`
	APIKeyFile     string        `yaml:"api_key_file"`    // _file variant for api_key
	APIURL         string        `yaml:"api_url"`         // default: "https://api.e2b.dev"
	Domain         string        `yaml:"domain"`          // default: "e2b.app"
	Template       string        `yaml:"template"`        // default: "code-interpreter-v1"
	Timeout        time.Duration `yaml:"timeout"`         // sandbox lifetime, default: 1h
	RequestTimeout time.Duration `yaml:"request_timeout"` // default: 60s
	SandboxURL     string        `yaml:"sandbox_url"`     // overrides per-sandbox hosts
}

// StaticConfig points every session at one sandbox server.
type StaticConfig struct {
	URL string `yaml:"url"`
}

// KubernetesConfig holds settings for SandboxClaim-backed sandboxes.
type KubernetesConfig struct {
	Template     string        `yaml:"template"`
	Namespace    string        `yaml:"namespace"`     // default: "default"
	ClaimTimeout time.Duration `yaml:"claim_timeout"` // default: 2m
	Kubeconfig   string        `yaml:"kubeconfig"`    // empty: in-cluster or KUBECONFIG
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`   // default: 30m
	SweepInterval time.Duration `yaml:"sweep_interval"` // default: 5m
	KillOnEvict   bool          `yaml:"kill_on_evict"`  // default: false
}

// FilesConfig holds the local filesystem allow-lists.
type FilesConfig struct {
	UploadAllowedDirs   []string `yaml:"upload_allowed_dirs"`
	DownloadAllowedDirs []string `yaml:"download_allowed_dirs"`
}

// CommandsConfig holds execute_command settings.
type CommandsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"` // default: 10m
}

// ToolsConfig restricts the advertised tools.
type ToolsConfig struct {
	Enabled []string `yaml:"enabled"` // empty: all tools
}

// AuditConfig holds tool call audit settings.
type AuditConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory" or "postgres", default: "none"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 1000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 4
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// ObservabilityConfig holds the optional ops HTTP listener.
type ObservabilityConfig struct {
	Addr        string `yaml:"addr"`         // empty: disabled
	MetricsPath string `yaml:"metrics_path"` // default: "/metrics"
}

// LoggingConfig holds log level and debug categories.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Debug  string `yaml:"debug"`  // comma-separated categories
	Format string `yaml:"format"` // "text" or "json", default: "text"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Name: "sandbox-mcp",
		},
		Sandbox: SandboxConfig{
			Backend:     "e2b",
			CodeTimeout: 5 * time.Minute,
			E2B: E2BConfig{
				APIURL:         "https://api.e2b.dev",
				Domain:         "e2b.app",
				Template:       "code-interpreter-v1",
				Timeout:        time.Hour,
				RequestTimeout: 60 * time.Second,
			},
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				ClaimTimeout: 2 * time.Minute,
			},
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Commands: CommandsConfig{
			DefaultTimeout: 600 * time.Second,
		},
		Audit: AuditConfig{
			Type:    "none",
			MaxSize: 1000,
			Postgres: PostgresConfig{
				MaxConns: 4,
			},
		},
		Observability: ObservabilityConfig{
			MetricsPath: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
