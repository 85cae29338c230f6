package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, RegisterBuiltins(r, BuiltinConfig{}, zap.NewNop()))

	for _, name := range []string{"echo", "weather", "http_request"} {
		assert.True(t, r.Has(name), name)
	}
	assert.Len(t, r.List(), 3)

	// Registering twice collides on every name.
	assert.Error(t, RegisterBuiltins(r, BuiltinConfig{}, zap.NewNop()))
}

func TestEchoTool(t *testing.T) {
	fn, meta := NewEchoTool()
	assert.Equal(t, "echo", meta.Schema.Name)

	result, err := fn(context.Background(), json.RawMessage(`{"message":"hi","prefix":">>","suffix":"<<"}`))
	require.NoError(t, err)
	require.True(t, result.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Equal(t, "hi", data["original_message"])
	assert.Equal(t, ">> hi <<", data["processed_message"])
}

func TestEchoToolMissingMessage(t *testing.T) {
	fn, _ := NewEchoTool()
	result, err := fn(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "message is required")
}

func TestWeatherToolDefaults(t *testing.T) {
	fn, meta := NewWeatherTool(WeatherConfig{})
	assert.Equal(t, "weather", meta.Schema.Name)
	require.NotNil(t, meta.RateLimit)

	result, err := fn(context.Background(), json.RawMessage(`{"city":"Paris"}`))
	require.NoError(t, err)
	require.True(t, result.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Equal(t, "Paris", data["city"])
	assert.Equal(t, "CN", data["country"])
	assert.Equal(t, "celsius", data["units"])
}

func TestWeatherToolUnits(t *testing.T) {
	fn, _ := NewWeatherTool(WeatherConfig{})
	result, err := fn(context.Background(), json.RawMessage(`{"city":"NYC","country":"US","units":"imperial"}`))
	require.NoError(t, err)
	require.True(t, result.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Equal(t, "fahrenheit", data["units"])
}

func TestWeatherToolMissingCity(t *testing.T) {
	fn, _ := NewWeatherTool(WeatherConfig{})
	result, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestHTTPRequestToolGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v", r.URL.Query().Get("k"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hello":"world"}`))
	}))
	defer srv.Close()

	fn, meta := NewHTTPRequestTool(HTTPRequestConfig{})
	assert.Equal(t, "http_request", meta.Schema.Name)

	params, _ := json.Marshal(map[string]any{
		"url":    srv.URL,
		"params": map[string]string{"k": "v"},
	})
	result, err := fn(context.Background(), params)
	require.NoError(t, err)
	require.True(t, result.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Equal(t, float64(200), data["status_code"])
	assert.Equal(t, map[string]any{"hello": "world"}, data["data"])
}

func TestHTTPRequestToolPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"created":true}`))
	}))
	defer srv.Close()

	fn, _ := NewHTTPRequestTool(HTTPRequestConfig{})
	params, _ := json.Marshal(map[string]any{
		"url":       srv.URL,
		"method":    "post",
		"json_data": map[string]any{"name": "x"},
	})
	result, err := fn(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHTTPRequestToolNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	fn, _ := NewHTTPRequestTool(HTTPRequestConfig{})
	params, _ := json.Marshal(map[string]any{"url": srv.URL})
	result, err := fn(context.Background(), params)
	require.NoError(t, err)

	// The response is still carried in data for the caller to inspect.
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "403")
	assert.NotEmpty(t, result.Data)
}

func TestHTTPRequestToolBadMethod(t *testing.T) {
	fn, _ := NewHTTPRequestTool(HTTPRequestConfig{})
	params, _ := json.Marshal(map[string]any{"url": "http://example.com", "method": "TRACE"})
	result, err := fn(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported HTTP method")
}

func TestHTTPRequestToolMissingURL(t *testing.T) {
	fn, _ := NewHTTPRequestTool(HTTPRequestConfig{})
	result, err := fn(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "url is required")
}
