package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// RegisterHealthRoutes registers GET /health. Each named check must pass for a 200.
func RegisterHealthRoutes(r chi.Router, checks map[string]HealthCheck) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				slog.Warn("[HEALTH] check failed", "check", name, "error", err)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status": http.StatusText(status),
			"checks": results,
		}); err != nil {
			slog.Error("[HEALTH] failed to encode response", "error", err)
		}
	})
}
