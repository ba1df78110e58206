package handler

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler reports gateway liveness and the reachability of each
// configured backend.
type HealthHandler struct {
	version string
	started time.Time
	checks  map[string]domain.HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be empty when the
// gateway runs on in-memory stores only.
func NewHealthHandler(version string, checks map[string]domain.HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{version: version, started: time.Now(), checks: checks, logger: logger}
}

type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Backends      map[string]string `json:"backends,omitempty"`
}

// HealthCheck answers 200 "ok" when every backend responds and 503
// "degraded" otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		resp.Backends = make(map[string]string, len(h.checks))
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		for _, name := range slices.Sorted(maps.Keys(h.checks)) {
			if err := h.checks[name].Health(ctx); err != nil {
				h.logger.WarnContext(ctx, "backend unhealthy",
					slog.String("backend", name),
					slog.String("error", err.Error()),
				)
				resp.Backends[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Backends[name] = "up"
		}
	}
	writeJSON(w, status, resp)
}
