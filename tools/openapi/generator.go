// Package openapi turns OpenAPI specifications into registrable tools. Each
// operation in a spec becomes one tool whose invocation performs the
// corresponding HTTP request.
package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/tools"
	"github.com/tools-aigc/toolflow/types"
)

// Spec is a parsed OpenAPI document, reduced to what tool generation needs.
type Spec struct {
	OpenAPI string              `json:"openapi"`
	Info    Info                `json:"info"`
	Servers []Server            `json:"servers,omitempty"`
	Paths   map[string]PathItem `json:"paths"`
}

// Info contains API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server is an API server entry.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem holds the operations on one path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Put    *Operation `json:"put,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
	Patch  *Operation `json:"patch,omitempty"`
}

// Operation is one API operation.
type Operation struct {
	OperationID string       `json:"operationId,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

// Parameter is one operation parameter.
type Parameter struct {
	Name        string      `json:"name"`
	In          string      `json:"in"` // query, path, header
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Schema      *JSONSchema `json:"schema,omitempty"`
}

// RequestBody describes an operation request body.
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// MediaType wraps a content schema.
type MediaType struct {
	Schema *JSONSchema `json:"schema,omitempty"`
}

// JSONSchema is a reduced JSON Schema node.
type JSONSchema struct {
	Type        string                `json:"type,omitempty"`
	Description string                `json:"description,omitempty"`
	Properties  map[string]JSONSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
	Items       *JSONSchema           `json:"items,omitempty"`
	Enum        []any                 `json:"enum,omitempty"`
	Default     any                   `json:"default,omitempty"`
}

// GeneratedTool pairs a tool schema with the HTTP operation backing it.
type GeneratedTool struct {
	Schema      tools.Schema `json:"schema"`
	Method      string       `json:"method"`
	Path        string       `json:"path"`
	BaseURL     string       `json:"base_url"`
	Parameters  []Parameter  `json:"parameters"`
	RequestBody *RequestBody `json:"request_body,omitempty"`
}

// GenerateOptions filters and targets tool generation.
type GenerateOptions struct {
	BaseURL     string   `json:"base_url,omitempty"`
	IncludeTags []string `json:"include_tags,omitempty"`
	ExcludeTags []string `json:"exclude_tags,omitempty"`
	Prefix      string   `json:"prefix,omitempty"`
}

// Generator loads OpenAPI specs and turns their operations into tools.
type Generator struct {
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Spec
}

// GeneratorConfig configures the generator.
type GeneratorConfig struct {
	Timeout time.Duration
}

// NewGenerator creates an OpenAPI tool generator.
func NewGenerator(config GeneratorConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Generator{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "openapi_generator")),
		cache:      make(map[string]*Spec),
	}
}

// LoadSpec fetches and parses an OpenAPI spec from a URL. Parsed specs are
// cached per source.
func (g *Generator) LoadSpec(ctx context.Context, source string) (*Spec, error) {
	g.mu.RLock()
	if spec, ok := g.cache[source]; ok {
		g.mu.RUnlock()
		return spec, nil
	}
	g.mu.RUnlock()

	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return nil, fmt.Errorf("spec source must be an http(s) URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch spec: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch spec: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}

	g.mu.Lock()
	g.cache[source] = &spec
	g.mu.Unlock()

	g.logger.Info("loaded OpenAPI spec",
		zap.String("title", spec.Info.Title),
		zap.String("version", spec.Info.Version),
		zap.Int("paths", len(spec.Paths)),
	)
	return &spec, nil
}

// GenerateTools converts the spec's operations into tool descriptors.
func (g *Generator) GenerateTools(spec *Spec, opts GenerateOptions) []*GeneratedTool {
	baseURL := ""
	if len(spec.Servers) > 0 {
		baseURL = spec.Servers[0].URL
	}
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}

	var generated []*GeneratedTool
	for path, pathItem := range spec.Paths {
		operations := map[string]*Operation{
			http.MethodGet:    pathItem.Get,
			http.MethodPost:   pathItem.Post,
			http.MethodPut:    pathItem.Put,
			http.MethodDelete: pathItem.Delete,
			http.MethodPatch:  pathItem.Patch,
		}

		for method, op := range operations {
			if op == nil {
				continue
			}
			if len(opts.IncludeTags) > 0 && !hasAnyTag(op.Tags, opts.IncludeTags) {
				continue
			}
			if len(opts.ExcludeTags) > 0 && hasAnyTag(op.Tags, opts.ExcludeTags) {
				continue
			}
			generated = append(generated, g.operationToTool(path, method, op, baseURL, opts.Prefix))
		}
	}

	g.logger.Info("generated tools", zap.Int("count", len(generated)))
	return generated
}

func (g *Generator) operationToTool(path, method string, op *Operation, baseURL, prefix string) *GeneratedTool {
	name := op.OperationID
	if name == "" {
		name = strings.ToLower(method) + "_" + sanitizePath(path)
	}
	if prefix != "" {
		name = prefix + name
	}

	description := op.Summary
	if description == "" {
		description = op.Description
	}
	if description == "" {
		description = method + " " + path
	}

	properties := make(map[string]any)
	var required []string

	for _, param := range op.Parameters {
		prop := map[string]any{"description": param.Description}
		if param.Schema != nil && param.Schema.Type != "" {
			prop["type"] = param.Schema.Type
		} else {
			prop["type"] = "string"
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	if op.RequestBody != nil {
		if content, ok := op.RequestBody.Content["application/json"]; ok && content.Schema != nil {
			properties["body"] = content.Schema
			if op.RequestBody.Required {
				required = append(required, "body")
			}
		}
	}
	if required == nil {
		required = []string{}
	}

	return &GeneratedTool{
		Schema: tools.Schema{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
		Method:      method,
		Path:        path,
		BaseURL:     baseURL,
		Parameters:  op.Parameters,
		RequestBody: op.RequestBody,
	}
}

// Func builds the tool function that executes the generated operation. Path
// parameters are substituted into the URL, query and header parameters are
// attached, and a "body" parameter becomes the JSON request body.
func (g *Generator) Func(tool *GeneratedTool) tools.Func {
	return func(ctx context.Context, params json.RawMessage) (types.ToolResult, error) {
		var input map[string]any
		if len(params) > 0 {
			if err := json.Unmarshal(params, &input); err != nil {
				return types.Fail("invalid parameters: " + err.Error()), nil
			}
		}

		path := tool.Path
		query := url.Values{}
		headers := map[string]string{}

		for _, param := range tool.Parameters {
			value, ok := input[param.Name]
			if !ok {
				if param.Required {
					return types.Fail("missing required parameter: " + param.Name), nil
				}
				continue
			}
			text := fmt.Sprintf("%v", value)
			switch param.In {
			case "path":
				path = strings.ReplaceAll(path, "{"+param.Name+"}", url.PathEscape(text))
			case "query":
				query.Set(param.Name, text)
			case "header":
				headers[param.Name] = text
			}
		}

		var body io.Reader
		if rawBody, ok := input["body"]; ok {
			data, err := json.Marshal(rawBody)
			if err != nil {
				return types.Fail("invalid body: " + err.Error()), nil
			}
			body = bytes.NewReader(data)
		}

		target := strings.TrimSuffix(tool.BaseURL, "/") + path
		if encoded := query.Encode(); encoded != "" {
			target += "?" + encoded
		}

		req, err := http.NewRequestWithContext(ctx, tool.Method, target, body)
		if err != nil {
			return types.ToolResult{}, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return types.ToolResult{}, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return types.ToolResult{}, err
		}

		var decoded any
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			decoded = string(respBody)
		}
		payload, err := json.Marshal(map[string]any{
			"status_code": resp.StatusCode,
			"body":        decoded,
		})
		if err != nil {
			return types.ToolResult{}, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return types.ToolResult{
				Success: false,
				Data:    payload,
				Error:   fmt.Sprintf("request failed with status %d", resp.StatusCode),
			}, nil
		}
		return types.OK(payload), nil
	}
}

// RegisterAll registers every generated tool on the registry. Registration
// stops at the first conflict.
func (g *Generator) RegisterAll(registry tools.Registry, generated []*GeneratedTool, timeout time.Duration) error {
	for _, tool := range generated {
		meta := tools.Metadata{Schema: tool.Schema, Timeout: timeout}
		if err := registry.Register(tool.Schema.Name, g.Func(tool), meta); err != nil {
			return fmt.Errorf("register %s: %w", tool.Schema.Name, err)
		}
	}
	return nil
}

func hasAnyTag(tags, targets []string) bool {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	for _, t := range targets {
		if tagSet[t] {
			return true
		}
	}
	return false
}

func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, "{", "")
	path = strings.ReplaceAll(path, "}", "")
	return strings.Trim(path, "_")
}
