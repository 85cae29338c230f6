package handlers

import (
	"net/http"
	"time"

	"github.com/tools-aigc/toolflow/session"
	"github.com/tools-aigc/toolflow/tools"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	registry  tools.Registry
	sessions  *session.Store
	startedAt time.Time
	version   string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(registry tools.Registry, sessions *session.Store, version string) *HealthHandler {
	return &HealthHandler{
		registry:  registry,
		sessions:  sessions,
		startedAt: time.Now(),
		version:   version,
	}
}

// RegisterRoutes wires the handler onto the mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleLiveness)
	mux.HandleFunc("GET /readyz", h.HandleReadiness)
}

// HandleLiveness reports that the process is up.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}

// HandleReadiness reports whether the service can take traffic. Ready means
// at least one tool is registered.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	toolCount := len(h.registry.List())
	if toolCount == 0 {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": "no tools registered",
		})
		return
	}
	WriteSuccess(w, map[string]any{
		"status":   "ready",
		"tools":    toolCount,
		"sessions": h.sessions.Len(),
	})
}
