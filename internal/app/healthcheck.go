package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/metrics"
)

// statusServer exposes /health and /metrics while a build runs.
type statusServer struct {
	srv *http.Server
	ln  net.Listener
}

// health answers liveness probes for as long as the build runs.
func health(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("Liveness probe.", "remote_addr", r.RemoteAddr)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "OK")
	}
}

// startStatusServer listens on addr and serves in the background. The
// listener is bound before returning so that a bad address fails the run.
func (a *App) startStatusServer(ctx context.Context, addr string, m *metrics.Metrics) (*statusServer, error) {
	logger := ctxlog.FromContext(ctx).With("component", "status")

	mux := http.NewServeMux()
	mux.Handle("GET /health", health(logger))
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError)}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting status server: %w", err)
	}
	s := &statusServer{srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, ln: ln}

	go func() {
		logger.Info("Serving build status.", "metrics", "http://"+s.Addr()+"/metrics")
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server stopped.", "error", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *statusServer) Addr() string { return s.ln.Addr().String() }

func (s *statusServer) close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Error("Status server did not shut down cleanly.", "error", err)
		return fmt.Errorf("stopping status server: %w", err)
	}
	return nil
}
