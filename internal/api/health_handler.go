package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/admitly/advisor-api/internal/api/shared"
)

// WorkerHealth is the bridge capability the health handler depends on.
type WorkerHealth interface {
	HealthCheck(ctx context.Context) error
	Restarts() int64
	Timeouts() int64
}

// HealthHandler serves liveness and worker readiness probes.
type HealthHandler struct {
	worker  WorkerHealth
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler probing the given worker bridge.
func NewHealthHandler(worker WorkerHealth, timeout time.Duration, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		worker:  worker,
		timeout: timeout,
		logger:  logger.With("component", "health_handler"),
	}
}

// healthResponse is the probe payload.
type healthResponse struct {
	Status   string `json:"status"`
	Restarts int64  `json:"workerRestarts,omitempty"`
	Timeouts int64  `json:"workerTimeouts,omitempty"`
}

// Live handles GET /health: process liveness only, no worker round trip.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, healthResponse{Status: "ok"})
}

// Worker handles GET /health/worker: a full round trip through the worker
// subprocess. Slow by design; not suitable for high-frequency probing.
func (h *HealthHandler) Worker(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.worker.HealthCheck(ctx); err != nil {
		h.logger.Warn("worker health check failed", "error", err)
		shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, healthResponse{
			Status:   "unavailable",
			Restarts: h.worker.Restarts(),
			Timeouts: h.worker.Timeouts(),
		})
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, healthResponse{
		Status:   "ok",
		Restarts: h.worker.Restarts(),
		Timeouts: h.worker.Timeouts(),
	})
}
