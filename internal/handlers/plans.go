package handlers

import (
	"net/http"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

// PlanLister exposes the plan catalog.
type PlanLister interface {
	List() []models.Plan
}

// Plans lists every plan with its prices and features.
func Plans(catalog PlanLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"plans": catalog.List()})
	}
}
