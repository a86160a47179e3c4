package rest

import (
	"net/http"
	"time"
)

// HealthHandler answers the service-level probe. It never contacts adapters;
// per-adapter health lives in the registry sweep.
type HealthHandler struct {
	service string
	version string
}

// NewHealthHandler creates the probe handler.
func NewHealthHandler(service, version string) *HealthHandler {
	return &HealthHandler{service: service, version: version}
}

// Health handles GET /plugins/health.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   h.service,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
