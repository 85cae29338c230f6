package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/cache"
	"github.com/tools-aigc/toolflow/storage"
	"github.com/tools-aigc/toolflow/types"
)

// CacheHandler serves result cache administration and tool usage stats.
type CacheHandler struct {
	cache   *cache.ResultCache
	callLog *storage.Store
	logger  *zap.Logger
}

// NewCacheHandler creates a cache admin handler. The call log may be nil.
func NewCacheHandler(resultCache *cache.ResultCache, callLog *storage.Store, logger *zap.Logger) *CacheHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheHandler{
		cache:   resultCache,
		callLog: callLog,
		logger:  logger.With(zap.String("component", "cache_handler")),
	}
}

// RegisterRoutes wires the handler onto the mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/cache/stats", h.HandleStats)
	mux.HandleFunc("DELETE /api/v1/cache", h.HandleClear)
	mux.HandleFunc("DELETE /api/v1/cache/tools/{name}", h.HandleInvalidateTool)
	mux.HandleFunc("PUT /api/v1/cache/config", h.HandleConfigure)
	mux.HandleFunc("GET /api/v1/stats/tools", h.HandleToolStats)
}

// HandleStats returns hit, miss and eviction counters.
func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.cache.Stats())
}

// HandleClear drops every cached entry.
func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear()
	h.logger.Info("result cache cleared")
	WriteSuccess(w, map[string]any{"cleared": true})
}

// HandleInvalidateTool drops all entries for one tool.
func (h *CacheHandler) HandleInvalidateTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.cache.InvalidateTool(name)
	WriteSuccess(w, map[string]any{"invalidated": name})
}

// ConfigureRequest adjusts the cache policy at runtime.
type ConfigureRequest struct {
	TTL        string `json:"ttl,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty"`
}

// HandleConfigure updates TTL and capacity for subsequently stored entries.
func (h *CacheHandler) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	var req ConfigureRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid ttl", h.logger)
			return
		}
		ttl = parsed
	}
	if req.MaxEntries < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid max_entries", h.logger)
		return
	}

	h.cache.Configure(ttl, req.MaxEntries)
	WriteSuccess(w, map[string]any{"configured": true})
}

// HandleToolStats aggregates the persisted call log per tool.
func (h *CacheHandler) HandleToolStats(w http.ResponseWriter, r *http.Request) {
	if h.callLog == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInternal, "call log not configured", h.logger)
		return
	}

	stats, err := h.callLog.StatsByTool(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"tools": stats})
}
