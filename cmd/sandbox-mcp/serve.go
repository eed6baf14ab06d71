package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/rhuss/sandbox-mcp/pkg/allowlist"
	"github.com/rhuss/sandbox-mcp/pkg/audit"
	"github.com/rhuss/sandbox-mcp/pkg/audit/memory"
	"github.com/rhuss/sandbox-mcp/pkg/audit/postgres"
	"github.com/rhuss/sandbox-mcp/pkg/config"
	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/observability"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox/e2b"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox/selfhosted"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox/selfhosted/kubernetes"
	"github.com/rhuss/sandbox-mcp/pkg/server"
	"github.com/rhuss/sandbox-mcp/pkg/session"
	"github.com/rhuss/sandbox-mcp/pkg/tools"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdio (default)",
	RunE:  runServe,
}

func init() {
	// Register on both root and serve so that `sandbox-mcp --config path`
	// and `sandbox-mcp serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	debug.Init(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})
	debug.Log("config", "configuration loaded", "backend", cfg.Sandbox.Backend, "audit", cfg.Audit.Type)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newSandboxService(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("creating sandbox backend: %w", err)
	}

	store, err := newAuditStore(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("creating audit store: %w", err)
	}
	defer store.Close()

	sessions := session.NewManager(svc, session.Options{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		KillOnEvict:   cfg.Session.KillOnEvict,
	})
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("starting session sweep: %w", err)
	}

	uploadDirs := allowlist.New(cfg.Files.UploadAllowedDirs)
	downloadDirs := allowlist.New(cfg.Files.DownloadAllowedDirs)
	if uploadDirs.Empty() {
		slog.Warn("no upload directories configured, upload_file will deny every request")
	}
	if downloadDirs.Empty() {
		slog.Warn("no download directories configured, download_file will deny every request")
	}

	all, err := tools.Builtin(tools.Options{
		UploadDirs:     uploadDirs,
		DownloadDirs:   downloadDirs,
		CommandTimeout: cfg.Commands.DefaultTimeout,
	})
	if err != nil {
		return err
	}
	enabled, err := tools.Filter(all, cfg.Tools.Enabled)
	if err != nil {
		return err
	}

	if cfg.Observability.Addr != "" {
		ops := observability.MetricsMiddleware(observability.NewOpsHandler(observability.OpsOptions{
			MetricsPath: cfg.Observability.MetricsPath,
			Audit:       store,
			Sessions:    sessions.Len,
		}))
		go func() {
			if err := observability.Serve(ctx, cfg.Observability.Addr, ops); err != nil {
				slog.Error("ops listener failed", "error", err)
			}
		}()
	}

	name := cfg.Server.Name
	ver := cfg.Server.Version
	if ver == "" {
		ver = version
	}
	srv := server.New(tools.NewPipeline(sessions, store), sessions, enabled, server.Options{
		Name:    name,
		Version: ver,
	})

	slog.Info("sandbox-mcp starting",
		"version", ver,
		"backend", cfg.Sandbox.Backend,
		"tools", len(enabled),
		"upload_dirs", uploadDirs.Prefixes(),
		"download_dirs", downloadDirs.Prefixes(),
	)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func newSandboxService(cfg config.SandboxConfig) (sandbox.Service, error) {
	switch cfg.Backend {
	case "e2b":
		client, err := e2b.New(e2b.Config{
			APIKey:         cfg.E2B.APIKey,
			APIURL:         cfg.E2B.APIURL,
			Domain:         cfg.E2B.Domain,
			Template:       cfg.E2B.Template,
			SandboxTimeout: cfg.E2B.Timeout,
			RequestTimeout: cfg.E2B.RequestTimeout,
			SandboxURL:     cfg.E2B.SandboxURL,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("using e2b sandboxes", "api_url", cfg.E2B.APIURL, "template", cfg.E2B.Template)
		return client, nil

	case "static":
		slog.Info("using static sandbox server", "url", cfg.Static.URL)
		return selfhosted.NewService(&selfhosted.StaticAcquirer{URL: cfg.Static.URL}, cfg.CodeTimeout), nil

	case "kubernetes":
		c, err := kubernetes.NewClient(cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, err
		}
		acquirer := kubernetes.NewClaimAcquirer(c, kubernetes.Options{
			Template:     cfg.Kubernetes.Template,
			Namespace:    cfg.Kubernetes.Namespace,
			ClaimTimeout: cfg.Kubernetes.ClaimTimeout,
		})
		slog.Info("using kubernetes sandbox claims", "namespace", cfg.Kubernetes.Namespace, "template", cfg.Kubernetes.Template)
		return selfhosted.NewService(acquirer, cfg.CodeTimeout), nil

	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

func newAuditStore(ctx context.Context, cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Type {
	case "memory":
		slog.Info("audit enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("audit enabled", "type", "postgres")
		return store, nil
	default:
		return audit.Nop{}, nil
	}
}
