package http_handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/logger"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/response"
)

// Check is one dependency pinged by /readyz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

// Healthz handles GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	failed := map[string]string{}
	for _, c := range h.checks {
		if c.Ping == nil {
			continue
		}
		if err := c.Ping(ctx); err != nil {
			logger.WithCtx(r.Context()).Warn().Err(err).Str("dependency", c.Name).Msg("readiness check failed")
			failed[c.Name] = "unavailable"
		}
	}

	if len(failed) > 0 {
		response.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"failed": failed,
		})
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
