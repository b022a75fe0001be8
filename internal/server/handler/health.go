package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes for the vault daemon.
type HealthHandler struct {
	startedAt time.Time
	logger    *slog.Logger
}

func NewHealthHandler(startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, logger: logger}
}

// HealthCheck reports that the daemon is serving and for how long.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "vaultd",
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"timestamp":      now.Format(time.RFC3339),
	})
}
