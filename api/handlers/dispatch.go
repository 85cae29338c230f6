package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/dispatch"
	"github.com/tools-aigc/toolflow/storage"
	"github.com/tools-aigc/toolflow/types"
)

// DispatchHandler serves batch invocation, plain and streamed.
type DispatchHandler struct {
	dispatcher *dispatch.Dispatcher
	callLog    *storage.Store
	logger     *zap.Logger
}

// NewDispatchHandler creates a dispatch handler. The call log may be nil.
func NewDispatchHandler(dispatcher *dispatch.Dispatcher, callLog *storage.Store, logger *zap.Logger) *DispatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchHandler{
		dispatcher: dispatcher,
		callLog:    callLog,
		logger:     logger.With(zap.String("component", "dispatch_handler")),
	}
}

// RegisterRoutes wires the handler onto the mux.
func (h *DispatchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/dispatch", h.HandleDispatch)
	mux.HandleFunc("POST /api/v1/dispatch/stream", h.HandleStream)
}

// HandleDispatch runs a batch and returns the aggregated response.
func (h *DispatchHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	resp, err := h.dispatcher.Execute(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.recordBatch(resp.SessionID, req.Calls, resp.Results)
	WriteSuccess(w, resp)
}

// HandleStream runs a batch and emits the event envelope as SSE. Each event
// is sent as "event: <type>" with a JSON payload; the stream ends when the
// dispatcher closes its channel.
func (h *DispatchHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	events, err := h.dispatcher.Stream(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternal,
			"streaming unsupported by connection", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var sessionID string
	var results []dispatch.CallResult

	for ev := range events {
		sessionID = ev.SessionID
		if ev.Type == dispatch.EventResult && ev.Result != nil {
			results = append(results, *ev.Result)
		}
		if ev.Type == dispatch.EventAggregatedResult {
			results = append(results, ev.Results...)
		}
		if ev.Type == dispatch.EventError {
			results = append(results, dispatch.CallResult{
				CallID:   ev.CallID,
				ToolName: ev.ToolName,
				Code:     ev.Code,
				Error:    ev.Message,
			})
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("encode stream event", zap.Error(err))
			continue
		}
		w.Write([]byte("event: " + string(ev.Type) + "\n"))
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()

	h.recordBatch(sessionID, req.Calls, results)
}

// recordBatch persists outcomes to the call log, best effort.
func (h *DispatchHandler) recordBatch(sessionID string, calls []types.ToolCall, results []dispatch.CallResult) {
	if h.callLog == nil || len(results) == 0 {
		return
	}

	params := make(map[string]string, len(calls))
	for _, call := range calls {
		params[call.ID] = string(call.Parameters)
	}

	entries := make([]*storage.CallLog, 0, len(results))
	for _, r := range results {
		entries = append(entries, &storage.CallLog{
			SessionID:  sessionID,
			CallID:     r.CallID,
			ToolName:   r.ToolName,
			Parameters: params[r.CallID],
			Success:    !r.Failed(),
			Cached:     r.Cached,
			ErrorCode:  string(r.Code),
			Error:      r.Error,
			DurationMS: r.Duration.Milliseconds(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.callLog.RecordBatch(ctx, entries); err != nil {
		h.logger.Warn("call log write failed", zap.Error(err))
	}
}
