package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/dispatch"
	"github.com/tools-aigc/toolflow/tools"
	"github.com/tools-aigc/toolflow/tools/openapi"
	"github.com/tools-aigc/toolflow/types"
)

// ToolsHandler serves tool discovery, single-tool invocation, and OpenAPI
// spec import.
type ToolsHandler struct {
	registry   tools.Registry
	dispatcher *dispatch.Dispatcher
	generator  *openapi.Generator
	logger     *zap.Logger
}

// NewToolsHandler creates a tools handler. The generator may be nil, which
// disables OpenAPI import.
func NewToolsHandler(registry tools.Registry, dispatcher *dispatch.Dispatcher,
	generator *openapi.Generator, logger *zap.Logger) *ToolsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolsHandler{
		registry:   registry,
		dispatcher: dispatcher,
		generator:  generator,
		logger:     logger.With(zap.String("component", "tools_handler")),
	}
}

// RegisterRoutes wires the handler onto the mux.
func (h *ToolsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tools", h.HandleList)
	mux.HandleFunc("GET /api/v1/tools/openai", h.HandleListOpenAI)
	mux.HandleFunc("POST /api/v1/tools/{name}/invoke", h.HandleInvoke)
	mux.HandleFunc("POST /api/v1/tools/openapi/import", h.HandleImportOpenAPI)
}

// HandleList returns the registered tool schemas.
func (h *ToolsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{"tools": h.registry.List()})
}

// HandleListOpenAI returns the schemas in OpenAI function-calling format.
func (h *ToolsHandler) HandleListOpenAI(w http.ResponseWriter, r *http.Request) {
	schemas := h.registry.List()
	functions := make([]map[string]any, 0, len(schemas))
	for _, s := range schemas {
		functions = append(functions, s.OpenAIFunction())
	}
	WriteSuccess(w, map[string]any{"functions": functions})
}

// InvokeRequest is the single-tool invocation body.
type InvokeRequest struct {
	SessionID  string          `json:"session_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Format     string          `json:"format,omitempty"`
}

// HandleInvoke runs one tool through the full dispatch pipeline.
func (h *ToolsHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.registry.Has(name) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrToolNotFound, "tool "+name+" not found", h.logger)
		return
	}

	var req InvokeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	resp, err := h.dispatcher.Execute(r.Context(), dispatch.Request{
		SessionID: req.SessionID,
		Format:    req.Format,
		Calls:     []types.ToolCall{{Name: name, Parameters: req.Parameters}},
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	result := resp.Results[0]
	if result.Failed() {
		WriteError(w, types.NewError(result.Code, result.Error), h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"session_id": resp.SessionID,
		"result":     result,
	})
}

// ImportOpenAPIRequest imports operations from an OpenAPI spec as tools.
type ImportOpenAPIRequest struct {
	Source  string                  `json:"source"`
	Timeout string                  `json:"timeout,omitempty"`
	Options openapi.GenerateOptions `json:"options,omitempty"`
}

// HandleImportOpenAPI fetches a spec and registers its operations as tools.
func (h *ToolsHandler) HandleImportOpenAPI(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInternal, "OpenAPI import not configured", h.logger)
		return
	}

	var req ImportOpenAPIRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if req.Source == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "source is required", h.logger)
		return
	}

	timeout := 30 * time.Second
	if req.Timeout != "" {
		parsed, err := time.ParseDuration(req.Timeout)
		if err != nil || parsed <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid timeout", h.logger)
			return
		}
		timeout = parsed
	}

	spec, err := h.generator.LoadSpec(r.Context(), req.Source)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadGateway, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}

	generated := h.generator.GenerateTools(spec, req.Options)
	if err := h.generator.RegisterAll(h.registry, generated, timeout); err != nil {
		WriteErrorMessage(w, http.StatusConflict, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}

	names := make([]string, 0, len(generated))
	for _, tool := range generated {
		names = append(names, tool.Schema.Name)
	}
	WriteSuccess(w, map[string]any{
		"imported": len(generated),
		"tools":    names,
	})
}
