package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
)

// HealthServer publishes probe outcomes and metrics of the endpoints a
// monitor watches: /metrics, /healthz and /healthz/{endpoint}.
type HealthServer struct {
	health   *HealthTracker
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func NewHealthServer(health *HealthTracker, gatherer prometheus.Gatherer, logger *zap.Logger) *HealthServer {
	if health == nil {
		health = NewHealthTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthServer{health: health, gatherer: gatherer, logger: logger.Named("health_server")}
}

func (s *HealthServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", MetricsHandler(s.gatherer))
	r.Get("/healthz", s.report)
	r.Get("/healthz/{endpoint}", s.endpoint)
	return r
}

// report answers 200 only once every probed endpoint was reachable.
func (s *HealthServer) report(w http.ResponseWriter, _ *http.Request) {
	report := s.health.Report()
	status := http.StatusServiceUnavailable
	if report.Status == HealthOK {
		status = http.StatusOK
	}
	writeJSON(w, status, report)
}

func (s *HealthServer) endpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "endpoint")
	entry, ok := s.health.Endpoint(name)
	switch {
	case !ok:
		writeJSON(w, http.StatusNotFound, HealthReport{Status: HealthUnknown})
	case entry.Reachable:
		writeJSON(w, http.StatusOK, entry)
	default:
		writeJSON(w, http.StatusServiceUnavailable, entry)
	}
}

// ListenAndServe serves on addr, the configured observability address when
// empty, until ctx is canceled.
func (s *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = domain.DefaultObservabilityAddress
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observability server failed to start: %w", err)
	}
	s.logger.Info("observability server listening", zap.String("addr", listener.Addr().String()))
	return Serve(ctx, listener, s.Handler(), s.logger)
}

// Serve runs handler on listener and shuts it down gracefully once ctx ends.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return fmt.Errorf("serve %s: %w", listener.Addr(), err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), domain.DefaultShutdownTimeoutSecond*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
			return err
		}
		logger.Info("http server stopped", zap.String("addr", listener.Addr().String()))
		return nil
	}
}

// MetricsHandler serves the gatherer in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
