package handler

import (
	"net/http"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	sync Syncer
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sync Syncer) *HealthHandler {
	return &HealthHandler{sync: sync}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Already-loaded conversations stay usable while disconnected, but a
	// fresh sidecar without a channel is not ready to serve live data.
	if !h.sync.Store().ConnectionState().Connected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "realtime channel not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
