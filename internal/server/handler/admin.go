package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/gateway"
)

// AdminHandler exposes the usage ledger.
type AdminHandler struct {
	gw     *gateway.Gateway
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(gw *gateway.Gateway, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{gw: gw, logger: logHandler(logger, "admin")}
}

type logsResponse struct {
	Logs    []domain.DataUsageLog          `json:"logs"`
	Summary map[string]domain.UsageSummary `json:"summary"`
}

// ListLogs returns every recorded attempt, optionally filtered by agent, plus
// per-agent attempt counts and the cost of successful attempts.
// GET /admin/logs[?agentId=]
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs, summary, err := h.gw.Logs(r.Context(), r.URL.Query().Get("agentId"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list usage failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list usage")
		return
	}
	if logs == nil {
		logs = []domain.DataUsageLog{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: logs, Summary: summary})
}
