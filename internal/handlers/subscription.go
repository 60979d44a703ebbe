package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/auth"
)

// Subscription returns a handler reporting the principal's current tier,
// expiry and data retention window.
func Subscription(reader AccountReader, log logrus.FieldLogger) http.HandlerFunc {
	log = log.WithField("handler", "Subscription")
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())
		view, err := reader.Subscription(r.Context(), principal)
		if err != nil {
			status, message := accountFailure(err)
			if status >= http.StatusInternalServerError {
				log.WithError(err).Error("Subscription: failed to load subscription")
			}
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscription": view})
	}
}
