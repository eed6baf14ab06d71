package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/sandbox-mcp/pkg/audit"
)

// OpsOptions configures the ops HTTP handler.
type OpsOptions struct {
	// MetricsPath is where Prometheus metrics are served (default: /metrics).
	MetricsPath string

	// Audit backs GET /audit. Nil disables the endpoint.
	Audit audit.Store

	// Sessions reports the number of live sessions for /healthz.
	Sessions func() int
}

// NewOpsHandler returns the ops mux: metrics, /healthz and /audit.
func NewOpsHandler(opts OpsOptions) http.Handler {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+opts.MetricsPath, promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if opts.Sessions != nil {
			body["sessions"] = opts.Sessions()
		}
		if opts.Audit != nil {
			if err := opts.Audit.HealthCheck(r.Context()); err != nil {
				body["status"] = "degraded"
				body["audit"] = err.Error()
				writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}
		writeJSON(w, http.StatusOK, body)
	})
	if opts.Audit != nil {
		mux.HandleFunc("GET /audit", func(w http.ResponseWriter, r *http.Request) {
			limit := 100
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
					return
				}
				limit = n
			}
			entries, err := opts.Audit.Recent(r.Context(), limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if entries == nil {
				entries = []audit.Entry{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": entries})
		})
	}
	return MetricsMiddleware(mux)
}

// Serve runs an ops listener on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops listener starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
