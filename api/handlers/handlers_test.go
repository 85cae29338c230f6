package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/cache"
	"github.com/tools-aigc/toolflow/config"
	"github.com/tools-aigc/toolflow/dispatch"
	"github.com/tools-aigc/toolflow/session"
	"github.com/tools-aigc/toolflow/storage"
	"github.com/tools-aigc/toolflow/tools"
	"github.com/tools-aigc/toolflow/tools/openapi"
	"github.com/tools-aigc/toolflow/types"
)

type apiFixture struct {
	mux      *http.ServeMux
	registry *tools.DefaultRegistry
	cache    *cache.ResultCache
	sessions *session.Store
	callLog  *storage.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	registry := tools.NewRegistry(logger)
	echoFunc, echoMeta := tools.NewEchoTool()
	require.NoError(t, registry.Register("echo", echoFunc, echoMeta))

	failFunc := func(ctx context.Context, params json.RawMessage) (types.ToolResult, error) {
		return types.Fail("boom"), nil
	}
	require.NoError(t, registry.Register("broken", failFunc, tools.Metadata{
		Schema: tools.Schema{Name: "broken", Description: "always fails"},
	}))

	resultCache := cache.New(cache.DefaultConfig(), logger)
	sessions := session.NewStore(session.DefaultConfig(), logger)
	executor := tools.NewExecutor(registry, logger)
	dispatcher := dispatch.New(registry, executor, resultCache, sessions, dispatch.DefaultConfig(), logger, nil)

	db, err := storage.Open(config.DatabaseConfig{Path: ":memory:"}, logger)
	require.NoError(t, err)
	callLog := storage.NewStore(db, logger, nil)

	mux := http.NewServeMux()
	generator := openapi.NewGenerator(openapi.GeneratorConfig{}, logger)
	NewToolsHandler(registry, dispatcher, generator, logger).RegisterRoutes(mux)
	NewDispatchHandler(dispatcher, callLog, logger).RegisterRoutes(mux)
	NewWSHandler(dispatcher, logger).RegisterRoutes(mux)
	NewSessionHandler(sessions, callLog, logger).RegisterRoutes(mux)
	NewCacheHandler(resultCache, callLog, logger).RegisterRoutes(mux)
	NewHealthHandler(registry, sessions, "test").RegisterRoutes(mux)

	return &apiFixture{
		mux:      mux,
		registry: registry,
		cache:    resultCache,
		sessions: sessions,
		callLog:  callLog,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestListTools(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Contains(t, rec.Body.String(), `"echo"`)
}

func TestListToolsOpenAIFormat(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tools/openai", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"function"`)
}

func TestInvokeTool(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tools/echo/invoke", map[string]any{
		"parameters": map[string]any{"message": "hello"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestInvokeUnknownTool(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tools/nope/invoke", map[string]any{})
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrToolNotFound), resp.Error.Code)
}

func TestInvokeFailingTool(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tools/broken/invoke", map[string]any{})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrToolExecution), resp.Error.Code)
}

func TestDispatchBatch(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/dispatch", map[string]any{
		"calls": []map[string]any{
			{"id": "c1", "name": "echo", "parameters": map[string]any{"message": "one"}},
			{"id": "c2", "name": "echo", "parameters": map[string]any{"message": "two"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    dispatch.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, "c1", resp.Data.Results[0].CallID)
	assert.Equal(t, 2, resp.Data.Summary.Succeeded)

	// Outcomes land in the call log.
	logs, err := f.callLog.BySession(context.Background(), resp.Data.SessionID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestDispatchInvalidMode(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/dispatch", map[string]any{
		"mode":  "turbo",
		"calls": []map[string]any{{"name": "echo", "parameters": map[string]any{"message": "x"}}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatchStreamSSE(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/dispatch/stream", map[string]any{
		"calls": []map[string]any{
			{"id": "c1", "name": "echo", "parameters": map[string]any{"message": "hi"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	var eventNames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventNames = append(eventNames, strings.TrimPrefix(line, "event: "))
		}
	}
	assert.Equal(t, []string{"call-started", "result", "completed"}, eventNames)
	assert.Contains(t, body, "data: [DONE]")
}

func TestDispatchStreamErrorEvent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/dispatch/stream", map[string]any{
		"calls": []map[string]any{
			{"id": "c1", "name": "broken", "parameters": map[string]any{}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: error")
	assert.Contains(t, rec.Body.String(), "event: completed")
}

func TestWebSocketDispatch(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/dispatch/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	req, err := json.Marshal(map[string]any{
		"calls": []map[string]any{
			{"id": "c1", "name": "echo", "parameters": map[string]any{"message": "ws"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	var eventNames []string
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var ev dispatch.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		eventNames = append(eventNames, string(ev.Type))
		if ev.Type == dispatch.EventCompleted {
			break
		}
	}
	assert.Equal(t, []string{"call-started", "result", "completed"}, eventNames)
}

func TestImportOpenAPITools(t *testing.T) {
	f := newAPIFixture(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/spec.json" {
			w.Write([]byte(`{
				"openapi": "3.0.0",
				"info": {"title": "Ping", "version": "1.0.0"},
				"paths": {
					"/ping": {"get": {"operationId": "ping", "summary": "Ping"}}
				}
			}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"pong": true})
	}))
	defer api.Close()

	rec := f.do(t, http.MethodPost, "/api/v1/tools/openapi/import", map[string]any{
		"source":  api.URL + "/spec.json",
		"options": map[string]any{"base_url": api.URL},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ping"`)
	require.True(t, f.registry.Has("ping"))

	rec = f.do(t, http.MethodPost, "/api/v1/tools/ping/invoke", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")
}

func TestImportOpenAPIMissingSource(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tools/openapi/import", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"allowed_tools": []string{"echo"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data session.Info `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Data.SessionID
	require.NotEmpty(t, id)
	assert.Equal(t, []string{"echo"}, created.Data.AllowedTools)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionPermissions(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.sessions.Create()

	rec := f.do(t, http.MethodPut, "/api/v1/sessions/"+sess.ID()+"/permissions", map[string]any{
		"allow": []string{"echo", "broken"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"echo", "broken"}, sess.AllowedTools())

	rec = f.do(t, http.MethodPut, "/api/v1/sessions/"+sess.ID()+"/permissions", map[string]any{
		"disallow": []string{"broken"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"echo"}, sess.AllowedTools())

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID()+"/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sess.AllowedTools())
}

func TestSessionMessages(t *testing.T) {
	f := newAPIFixture(t)
	sess := f.sessions.Create()
	sess.AppendMessage(types.NewToolMessage("c1", "echo", "done"))

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID()+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"echo"`)

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID()+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sess.Messages())
}

func TestSessionCallLog(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.callLog.Record(context.Background(), &storage.CallLog{
		SessionID: "sess-x",
		CallID:    "c1",
		ToolName:  "echo",
		Success:   true,
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/sess-x/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"c1"`)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/sess-x/calls?limit=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheAdmin(t *testing.T) {
	f := newAPIFixture(t)
	f.cache.Store("echo", json.RawMessage(`{"message":"hi"}`), types.OK(json.RawMessage(`{"ok":true}`)), 0)

	rec := f.do(t, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"size":1`)

	rec = f.do(t, http.MethodDelete, "/api/v1/cache/tools/echo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.cache.Stats().Size)

	f.cache.Store("echo", json.RawMessage(`{"message":"hi"}`), types.OK(json.RawMessage(`{"ok":true}`)), 0)
	rec = f.do(t, http.MethodDelete, "/api/v1/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.cache.Stats().Size)
}

func TestCacheConfigure(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/cache/config", map[string]any{
		"ttl":         "90s",
		"max_entries": 50,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/cache/config", map[string]any{"ttl": "never"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolStatsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.callLog.Record(context.Background(), &storage.CallLog{
		SessionID: "s", ToolName: "echo", Success: true,
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/stats/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"echo"`)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessWithoutTools(t *testing.T) {
	logger := zap.NewNop()
	registry := tools.NewRegistry(logger)
	sessions := session.NewStore(session.DefaultConfig(), logger)

	mux := http.NewServeMux()
	NewHealthHandler(registry, sessions, "test").RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestCachedInvokeMarksMetadata(t *testing.T) {
	f := newAPIFixture(t)

	body := map[string]any{
		"session_id": "sess-cache",
		"parameters": map[string]any{"message": "repeat"},
	}
	rec := f.do(t, http.MethodPost, "/api/v1/tools/echo/invoke", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tools/echo/invoke", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached":true`)
}
