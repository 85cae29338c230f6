package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tools-aigc/toolflow/types"
)

// Func is the tool function signature. A failed types.ToolResult reports a
// domain-level failure (bad input, upstream rejection); a non-nil error
// reports an execution fault. Both reach the caller as failures, but only
// successful results are cacheable.
type Func func(ctx context.Context, params json.RawMessage) (types.ToolResult, error)

// Schema describes a tool's parameters in JSON Schema form.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// OpenAIFunction renders the schema in the OpenAI function-calling format.
func (s Schema) OpenAIFunction() map[string]any {
	params := s.Parameters
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  params,
		},
	}
}

// RateLimit caps how often a tool may run.
type RateLimit struct {
	MaxCalls int           `yaml:"max_calls" json:"max_calls"`
	Window   time.Duration `yaml:"window" json:"window"`
}

// Metadata carries per-tool configuration.
type Metadata struct {
	Schema    Schema
	Timeout   time.Duration // default 30s
	RateLimit *RateLimit
}

// Registry manages the set of available tools.
type Registry interface {
	Register(name string, fn Func, meta Metadata) error
	Unregister(name string) error
	Get(name string) (Func, Metadata, error)
	List() []Schema
	Has(name string) bool
}

// DefaultRegistry is a mutex-guarded in-memory Registry.
type DefaultRegistry struct {
	mu       sync.RWMutex
	tools    map[string]Func
	metadata map[string]Metadata
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *DefaultRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultRegistry{
		tools:    make(map[string]Func),
		metadata: make(map[string]Metadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

func (r *DefaultRegistry) Register(name string, fn Func, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", meta.Schema.Name, name)
	}
	if meta.Timeout <= 0 {
		meta.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = meta

	if rl := meta.RateLimit; rl != nil && rl.MaxCalls > 0 && rl.Window > 0 {
		r.limiters[name] = rate.NewLimiter(rate.Every(rl.Window/time.Duration(rl.MaxCalls)), rl.MaxCalls)
	}

	r.logger.Info("tool registered", zap.String("name", name), zap.Duration("timeout", meta.Timeout))
	return nil
}

func (r *DefaultRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %s not found", name))
	}
	delete(r.tools, name)
	delete(r.metadata, name)
	delete(r.limiters, name)

	r.logger.Info("tool unregistered", zap.String("name", name))
	return nil
}

func (r *DefaultRegistry) Get(name string) (Func, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, Metadata{}, types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %s not found", name))
	}
	return fn, r.metadata[name], nil
}

// List returns all tool schemas sorted by name.
func (r *DefaultRegistry) List() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]Schema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		schemas = append(schemas, meta.Schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

func (r *DefaultRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Reserve consumes one rate-limit token for the tool. Tools without a
// configured limit always pass.
func (r *DefaultRegistry) Reserve(name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	if !limiter.Allow() {
		return types.NewError(types.ErrRateLimited, fmt.Sprintf("tool %s rate limit exceeded", name)).
			WithRetryable(true)
	}
	return nil
}
