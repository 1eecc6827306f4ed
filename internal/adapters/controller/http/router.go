package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type stateReporter interface {
	State() daemon.State
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	daemon stateReporter
	db     pinger
}

func NewHealthHandler(d stateReporter, db pinger) *HealthHandler {
	return &HealthHandler{
		daemon: d,
		db:     db,
	}
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// Liveness reports whether the daemon loop is still running
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	state := h.daemon.State()
	if state == daemon.StateStopped {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "stopped", State: state.String()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", State: state.String()})
}

// Readiness additionally checks the database
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	state := h.daemon.State()
	if state == daemon.StateStopped || state == daemon.StateShuttingDown {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready", State: state.String()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready", State: state.String(), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready", State: state.String()})
}

func NewRouter(health *HealthHandler, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
