package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by *sql.DB and other dependencies with a liveness check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health responds with status 200 to indicate the service is running. When
// a pinger is given and fails, it responds 503.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		status := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				payload["status"] = "degraded"
				payload["database"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, payload)
	}
}
