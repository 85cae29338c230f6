package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/dispatch"
)

// WSHandler streams dispatch events over a WebSocket connection. The client
// sends one dispatch request per message; the server replies with the full
// event envelope for each batch on the same connection.
type WSHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewWSHandler creates a WebSocket dispatch handler.
func NewWSHandler(dispatcher *dispatch.Dispatcher, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "ws_handler")),
	}
}

// RegisterRoutes wires the handler onto the mux.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/dispatch/ws", h.HandleDispatch)
}

// wsError is sent when a request cannot be dispatched at all.
type wsError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleDispatch upgrades the connection and serves dispatch batches until
// the client disconnects.
func (h *WSHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

	ctx := r.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			h.logger.Debug("websocket read ended", zap.Error(err))
			return
		}
		if msgType != websocket.MessageText {
			h.writeJSON(ctx, conn, wsError{Type: "error", Code: "INVALID_REQUEST", Message: "expected text frame"})
			continue
		}

		var req dispatch.Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.writeJSON(ctx, conn, wsError{Type: "error", Code: "INVALID_REQUEST", Message: "invalid JSON body"})
			continue
		}

		if err := h.serveBatch(ctx, conn, req); err != nil {
			return
		}
	}
}

// serveBatch streams one batch of events. A write failure aborts the
// connection; a dispatch validation failure is reported in-band.
func (h *WSHandler) serveBatch(ctx context.Context, conn *websocket.Conn, req dispatch.Request) error {
	events, err := h.dispatcher.Stream(ctx, req)
	if err != nil {
		return h.writeJSON(ctx, conn, wsError{
			Type:    "error",
			Code:    errorCode(err),
			Message: err.Error(),
		})
	}

	for ev := range events {
		if err := h.writeJSON(ctx, conn, ev); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return err
		}
	}
	return nil
}

func (h *WSHandler) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
