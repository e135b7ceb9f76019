package handlers

import (
	"net/http"

	"assistgate/internal/orchestrator"
)

// Stats handles GET /v1/stats.
func Stats(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, o.Stats(r.Context()))
	}
}
