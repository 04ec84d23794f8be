// Package metrics serves the Prometheus scrape endpoint and the health
// endpoint for one process. The poller and the engine each run their own
// server on separate ports so either can be probed independently.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pnl_monitor/internal/core"
)

// Server exposes /metrics and /health.
type Server struct {
	port   int
	health core.IHealthMonitor
	logger core.ILogger
}

// NewServer creates a metrics server. health may be nil, in which case
// /health always reports ok.
func NewServer(port int, health core.IHealthMonitor, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: health,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Run serves until ctx is cancelled. It satisfies app.Runner.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting metrics server", "port", s.port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Stopping metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleHealth reports the aggregated component status: 200 when every
// check passes, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	status := map[string]string{}
	if s.health != nil {
		status = s.health.GetStatus()
		healthy = s.health.IsHealthy()
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy":    healthy,
		"components": status,
	})
}
