package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/session"
	"github.com/tools-aigc/toolflow/storage"
	"github.com/tools-aigc/toolflow/types"
)

// SessionHandler serves session lifecycle, permission management, history,
// and the persisted call log.
type SessionHandler struct {
	sessions *session.Store
	callLog  *storage.Store
	logger   *zap.Logger
}

// NewSessionHandler creates a session handler. The call log may be nil.
func NewSessionHandler(sessions *session.Store, callLog *storage.Store, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions: sessions,
		callLog:  callLog,
		logger:   logger.With(zap.String("component", "session_handler")),
	}
}

// RegisterRoutes wires the handler onto the mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", h.HandleMessages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/messages", h.HandleClearMessages)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/permissions", h.HandleSetPermissions)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/permissions", h.HandleResetPermissions)
	mux.HandleFunc("GET /api/v1/sessions/{id}/calls", h.HandleCallLog)
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := r.PathValue("id")
	sess, ok := h.sessions.Get(id)
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrSessionNotFound, "session "+id+" not found", h.logger)
		return nil, false
	}
	return sess, true
}

// HandleCreate allocates a session, optionally seeding its allow-list.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AllowedTools []string `json:"allowed_tools,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}

	sess := h.sessions.Create()
	if len(req.AllowedTools) > 0 {
		sess.AllowMany(req.AllowedTools)
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      sess.Snapshot(),
		Timestamp: time.Now(),
	})
}

// HandleGet returns a session snapshot.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, sess.Snapshot())
}

// HandleDelete removes a session. Deleting an unknown session succeeds.
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(r.PathValue("id"))
	WriteSuccess(w, map[string]any{"deleted": true})
}

// HandleMessages returns the session history in append order.
func (h *SessionHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, map[string]any{
		"session_id": sess.ID(),
		"messages":   sess.Messages(),
	})
}

// HandleClearMessages empties the session history.
func (h *SessionHandler) HandleClearMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.ClearMessages()
	WriteSuccess(w, map[string]any{"cleared": true})
}

// PermissionsRequest updates the session allow-list.
type PermissionsRequest struct {
	Allow    []string `json:"allow,omitempty"`
	Disallow []string `json:"disallow,omitempty"`
}

// HandleSetPermissions grants and revokes tools on the session allow-list.
func (h *SessionHandler) HandleSetPermissions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req PermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	sess.AllowMany(req.Allow)
	for _, name := range req.Disallow {
		sess.Disallow(name)
	}
	WriteSuccess(w, map[string]any{
		"session_id":    sess.ID(),
		"allowed_tools": sess.AllowedTools(),
	})
}

// HandleResetPermissions empties the allow-list, restoring the default policy.
func (h *SessionHandler) HandleResetPermissions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.ResetPermissions()
	WriteSuccess(w, map[string]any{"reset": true})
}

// HandleCallLog returns persisted call outcomes for the session, newest
// first. Served straight from storage so it survives session expiry.
func (h *SessionHandler) HandleCallLog(w http.ResponseWriter, r *http.Request) {
	if h.callLog == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInternal, "call log not configured", h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid limit", h.logger)
			return
		}
		limit = n
	}

	logs, err := h.callLog.BySession(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"session_id": r.PathValue("id"),
		"calls":      logs,
	})
}
