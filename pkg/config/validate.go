package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	switch c.Sandbox.Backend {
	case "e2b":
		if c.Sandbox.E2B.APIKey == "" {
			errs = append(errs, fmt.Errorf("sandbox.e2b.api_key (or E2B_API_KEY) is required when sandbox.backend is \"e2b\""))
		}
	case "static":
		if c.Sandbox.Static.URL == "" {
			errs = append(errs, fmt.Errorf("sandbox.static.url is required when sandbox.backend is \"static\""))
		}
	case "kubernetes":
		if c.Sandbox.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.kubernetes.template is required when sandbox.backend is \"kubernetes\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.backend must be \"e2b\", \"static\", or \"kubernetes\", got %q", c.Sandbox.Backend))
	}

	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout must be > 0, got %v", c.Session.IdleTimeout))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval must be > 0, got %v", c.Session.SweepInterval))
	}
	if c.Commands.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("commands.default_timeout must be > 0, got %v", c.Commands.DefaultTimeout))
	}

	for field, dirs := range map[string][]string{
		"files.upload_allowed_dirs":   c.Files.UploadAllowedDirs,
		"files.download_allowed_dirs": c.Files.DownloadAllowedDirs,
	} {
		for i, d := range dirs {
			if !filepath.IsAbs(d) {
				errs = append(errs, fmt.Errorf("%s[%d] must be an absolute path, got %q", field, i, d))
			}
		}
	}

	switch c.Audit.Type {
	case "none":
	case "memory":
		if c.Audit.MaxSize <= 0 {
			errs = append(errs, fmt.Errorf("audit.max_size must be > 0, got %d", c.Audit.MaxSize))
		}
	case "postgres":
		if c.Audit.Postgres.DSN == "" && c.Audit.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("audit.postgres.dsn or audit.postgres.dsn_file is required when audit.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.type must be \"none\", \"memory\", or \"postgres\", got %q", c.Audit.Type))
	}

	switch c.Logging.Format {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
