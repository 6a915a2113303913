package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	httptrace "github.com/DataDog/dd-trace-go/contrib/net/http/v2"

	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

const serviceName = "aleo-indexer"

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthServer serves /health, /stats and /metrics for the indexer
type HealthServer struct {
	server  *http.Server
	metrics *Metrics
	checks  map[string]HealthCheck
}

// NewHealthServer creates a health server listening on port
func NewHealthServer(port int, metrics *Metrics, checks map[string]HealthCheck) *HealthServer {
	h := &HealthServer{metrics: metrics, checks: checks}

	mux := httptrace.NewServeMux(httptrace.WithService(serviceName))
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/stats", h.handleStats)
	mux.Handle("/metrics", telemetry.PrometheusHandler())

	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// Handler exposes the routes for tests
func (h *HealthServer) Handler() http.Handler {
	return h.server.Handler
}

// ListenAndServe blocks until Shutdown
func (h *HealthServer) ListenAndServe() error {
	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server
func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := h.metrics.IsHealthy()
	services := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		services[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"service":  "aleo-indexer",
		"services": services,
		"lag":      h.metrics.Lag(),
	})
}

func (h *HealthServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.GetStats())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
