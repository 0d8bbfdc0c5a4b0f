package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Checks map[string]HealthChecker
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	payload := map[string]string{"status": "ok"}
	for name, check := range h.Checks {
		if err := check.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
			payload[name] = err.Error()
			continue
		}
		payload[name] = "ok"
	}

	respondJSON(r.Context(), w, status, payload)
}
