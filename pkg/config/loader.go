package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, SANDBOX_MCP_CONFIG env, ./sandbox-mcp.yaml, /etc/sandbox-mcp/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. SANDBOX_MCP_CONFIG environment variable
// 3. ./sandbox-mcp.yaml in the current directory
// 4. /etc/sandbox-mcp/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("SANDBOX_MCP_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"sandbox-mcp.yaml",
		"/etc/sandbox-mcp/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields. Malformed
// numeric or duration values are reported together.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setString := func(dst *string, names ...string) {
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				*dst = v
				return
			}
		}
	}
	setDuration := func(dst *time.Duration, name string) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = d
		}
	}
	setList := func(dst *[]string, names ...string) {
		for _, name := range names {
			if v, ok := os.LookupEnv(name); ok {
				*dst = splitList(v)
				return
			}
		}
	}

	setString(&cfg.Sandbox.E2B.APIKey, "E2B_API_KEY")
	setString(&cfg.Sandbox.E2B.APIURL, "E2B_API_URL")
	setString(&cfg.Sandbox.E2B.Domain, "E2B_DOMAIN")
	setString(&cfg.Sandbox.E2B.Template, "SANDBOX_MCP_E2B_TEMPLATE")
	setString(&cfg.Sandbox.Backend, "SANDBOX_MCP_BACKEND")
	setString(&cfg.Sandbox.Static.URL, "SANDBOX_MCP_STATIC_URL")
	setString(&cfg.Sandbox.Kubernetes.Namespace, "SANDBOX_MCP_K8S_NAMESPACE")
	setString(&cfg.Sandbox.Kubernetes.Template, "SANDBOX_MCP_K8S_TEMPLATE")

	setList(&cfg.Files.UploadAllowedDirs, "SANDBOX_MCP_UPLOAD_ALLOWED_DIRS", "ALLOWED_UPLOAD_DIRS")
	setList(&cfg.Files.DownloadAllowedDirs, "SANDBOX_MCP_DOWNLOAD_ALLOWED_DIRS", "ALLOWED_DOWNLOAD_DIRS")
	setList(&cfg.Tools.Enabled, "SANDBOX_MCP_TOOLS")

	setDuration(&cfg.Session.IdleTimeout, "SANDBOX_MCP_IDLE_TIMEOUT")
	setDuration(&cfg.Session.SweepInterval, "SANDBOX_MCP_SWEEP_INTERVAL")
	setDuration(&cfg.Commands.DefaultTimeout, "SANDBOX_MCP_COMMAND_TIMEOUT")

	if v := os.Getenv("SANDBOX_MCP_KILL_ON_EVICT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("SANDBOX_MCP_KILL_ON_EVICT: %v", err))
		} else {
			cfg.Session.KillOnEvict = b
		}
	}

	setString(&cfg.Audit.Type, "SANDBOX_MCP_AUDIT")
	setString(&cfg.Audit.Postgres.DSN, "SANDBOX_MCP_AUDIT_DSN")
	if v := os.Getenv("SANDBOX_MCP_AUDIT_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Sprintf("SANDBOX_MCP_AUDIT_SIZE: %v", err))
		} else {
			cfg.Audit.MaxSize = size
		}
	}

	setString(&cfg.Observability.Addr, "SANDBOX_MCP_OPS_ADDR")
	setString(&cfg.Logging.Level, "SANDBOX_MCP_LOG_LEVEL")
	setString(&cfg.Logging.Debug, "SANDBOX_MCP_DEBUG")
	setString(&cfg.Logging.Format, "SANDBOX_MCP_LOG_FORMAT")

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// sandbox.e2b.api_key_file -> sandbox.e2b.api_key
	if cfg.Sandbox.E2B.APIKeyFile != "" && cfg.Sandbox.E2B.APIKey == "" {
		val, err := readSecretFile(cfg.Sandbox.E2B.APIKeyFile)
		if err != nil {
			return fmt.Errorf("sandbox.e2b.api_key_file: %w", err)
		}
		cfg.Sandbox.E2B.APIKey = val
	}

	// audit.postgres.dsn_file -> audit.postgres.dsn
	if cfg.Audit.Postgres.DSNFile != "" && cfg.Audit.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Audit.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("audit.postgres.dsn_file: %w", err)
		}
		cfg.Audit.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
