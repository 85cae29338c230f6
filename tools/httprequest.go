package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tools-aigc/toolflow/types"
)

const defaultUserAgent = "toolflow/1.0"

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodPatch: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// HTTPRequestConfig configures the http_request tool.
type HTTPRequestConfig struct {
	Client         *http.Client
	DefaultTimeout time.Duration // per-request default, overridable per call
	MaxBodyBytes   int64         // response body cap, default 1 MiB
}

type httpRequestArgs struct {
	URL      string            `json:"url"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
	JSONData json.RawMessage   `json:"json_data,omitempty"`
	Timeout  float64           `json:"timeout,omitempty"` // seconds
}

// NewHTTPRequestTool creates the http_request tool. The response body is
// decoded as JSON when possible and passed through as text otherwise; a
// non-2xx status is a domain failure carrying the full response, not an
// execution fault.
func NewHTTPRequestTool(config HTTPRequestConfig) (Func, Metadata) {
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	defaultTimeout := config.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	fn := func(ctx context.Context, params json.RawMessage) (types.ToolResult, error) {
		var args httpRequestArgs
		if len(params) > 0 {
			if err := json.Unmarshal(params, &args); err != nil {
				return types.ToolResult{}, fmt.Errorf("invalid http_request arguments: %w", err)
			}
		}
		if args.URL == "" {
			return types.Fail("url is required"), nil
		}

		method := strings.ToUpper(args.Method)
		if method == "" {
			method = http.MethodGet
		}
		if !allowedMethods[method] {
			return types.Fail(fmt.Sprintf("unsupported HTTP method: %s", method)), nil
		}

		reqURL, err := url.Parse(args.URL)
		if err != nil {
			return types.Fail(fmt.Sprintf("invalid url: %s", err.Error())), nil
		}
		if len(args.Params) > 0 {
			q := reqURL.Query()
			for k, v := range args.Params {
				q.Set(k, v)
			}
			reqURL.RawQuery = q.Encode()
		}

		var body io.Reader
		contentType := ""
		switch {
		case len(args.JSONData) > 0:
			body = bytes.NewReader(args.JSONData)
			contentType = "application/json"
		case len(args.Data) > 0:
			// A JSON string payload is sent raw; anything else as-is.
			var s string
			if err := json.Unmarshal(args.Data, &s); err == nil {
				body = strings.NewReader(s)
			} else {
				body = bytes.NewReader(args.Data)
				contentType = "application/json"
			}
		}

		timeout := defaultTimeout
		if args.Timeout > 0 {
			timeout = time.Duration(args.Timeout * float64(time.Second))
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, method, reqURL.String(), body)
		if err != nil {
			return types.Fail(fmt.Sprintf("build request: %s", err.Error())), nil
		}
		for k, v := range args.Headers {
			req.Header.Set(k, v)
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", defaultUserAgent)
		}
		if contentType != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				return types.Fail(fmt.Sprintf("request timeout after %s", timeout)), nil
			}
			return types.Fail(fmt.Sprintf("request error: %s", err.Error())), nil
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return types.Fail(fmt.Sprintf("read response: %s", err.Error())), nil
		}

		var responseData any
		if err := json.Unmarshal(raw, &responseData); err != nil {
			responseData = string(raw)
		}

		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}

		payload := map[string]any{
			"status_code": resp.StatusCode,
			"headers":     headers,
			"data":        responseData,
			"url":         resp.Request.URL.String(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return types.ToolResult{}, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return types.ToolResult{
				Success: false,
				Data:    data,
				Error:   fmt.Sprintf("request failed with status %d", resp.StatusCode),
			}, nil
		}
		return types.OK(data), nil
	}

	meta := Metadata{
		Schema: Schema{
			Name:        "http_request",
			Description: "Sends an HTTP request and returns the response status, headers, and body.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":       map[string]any{"type": "string", "description": "Request URL"},
					"method":    map[string]any{"type": "string", "description": "HTTP method, defaults to GET"},
					"headers":   map[string]any{"type": "object", "description": "Request headers"},
					"params":    map[string]any{"type": "object", "description": "URL query parameters"},
					"data":      map[string]any{"description": "Raw request body"},
					"json_data": map[string]any{"description": "JSON request body"},
					"timeout":   map[string]any{"type": "number", "description": "Request timeout in seconds, defaults to 10"},
				},
				"required": []string{"url"},
			},
		},
		Timeout: 30 * time.Second,
		RateLimit: &RateLimit{
			MaxCalls: 120,
			Window:   time.Minute,
		},
	}
	return fn, meta
}
