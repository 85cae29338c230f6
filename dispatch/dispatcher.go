package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tools-aigc/toolflow/cache"
	"github.com/tools-aigc/toolflow/format"
	"github.com/tools-aigc/toolflow/internal/metrics"
	"github.com/tools-aigc/toolflow/session"
	"github.com/tools-aigc/toolflow/tools"
	"github.com/tools-aigc/toolflow/types"
)

// Config configures the dispatcher.
type Config struct {
	// MaxConcurrency caps how many calls of one batch run at once.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// CacheTTL overrides the cache default when positive.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// IncludeMetadata renders the full {success, data, error} structure.
	IncludeMetadata bool `yaml:"include_metadata" json:"include_metadata"`

	// EventBuffer sizes the stream event channel.
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		EventBuffer:    16,
	}
}

// Request describes one invocation batch.
type Request struct {
	SessionID string           `json:"session_id,omitempty"`
	Calls     []types.ToolCall `json:"calls"`
	Mode      Mode             `json:"mode,omitempty"`
	Format    string           `json:"format,omitempty"`

	// OrderedEvents forces streamed result events into request order.
	// Without it, standard mode emits in completion order.
	OrderedEvents bool `json:"ordered_events,omitempty"`
}

// Dispatcher runs invocation batches through the call pipeline.
type Dispatcher struct {
	registry tools.Registry
	executor tools.Executor
	cache    *cache.ResultCache
	sessions *session.Store
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
	flight   singleflight.Group
}

// New creates a dispatcher. The metrics collector may be nil.
func New(registry tools.Registry, executor tools.Executor, resultCache *cache.ResultCache,
	sessions *session.Store, config Config, logger *zap.Logger, collector *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Dispatcher{
		registry: registry,
		executor: executor,
		cache:    resultCache,
		sessions: sessions,
		config:   config,
		logger:   logger.With(zap.String("component", "dispatcher")),
		metrics:  collector,
		tracer:   otel.Tracer("toolflow/dispatch"),
	}
}

// validate normalizes the request and rejects batch-level errors before any
// call starts executing.
func (d *Dispatcher) validate(req *Request) (format.OutputFormat, error) {
	switch req.Mode {
	case "":
		req.Mode = ModeStandard
	case ModeStandard, ModeAutomatic:
	default:
		return "", types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown dispatch mode %q", req.Mode))
	}

	output, err := format.Parse(req.Format)
	if err != nil {
		return "", err
	}

	for i := range req.Calls {
		if req.Calls[i].Name == "" {
			return "", types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("call %d is missing a tool name", i))
		}
		if req.Calls[i].ID == "" {
			req.Calls[i].ID = "call-" + uuid.NewString()
		}
	}
	return output, nil
}

// Execute runs a batch and returns the aggregated response. Results come
// back in request order regardless of completion order, and per-call
// failures never abort the batch.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (*Response, error) {
	output, err := d.validate(&req)
	if err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.Execute",
		trace.WithAttributes(
			attribute.Int("dispatch.batch_size", len(req.Calls)),
			attribute.String("dispatch.mode", string(req.Mode)),
		))
	defer span.End()

	sess, created := d.sessions.GetOrCreate(req.SessionID)
	if created && req.SessionID != "" {
		d.logger.Debug("session recreated on access", zap.String("session_id", req.SessionID))
	}

	start := time.Now()
	results := d.runBatch(ctx, sess, req.Calls, output, nil)
	elapsed := time.Since(start)

	d.appendHistory(sess, req.Calls, results, nil)
	d.recordBatch(string(req.Mode), "ok", len(req.Calls), elapsed)
	span.SetStatus(codes.Ok, "")

	return &Response{
		SessionID: sess.ID(),
		Mode:      req.Mode,
		Results:   results,
		Summary:   summarize(results, elapsed),
	}, nil
}

// runBatch executes calls concurrently and returns outcomes in request
// order. When skip is non-nil, calls whose index reports true are not
// started; their slot keeps a zero CallResult with Code unset and CallID
// empty, which appendHistory treats as skipped.
func (d *Dispatcher) runBatch(ctx context.Context, sess *session.Session, calls []types.ToolCall,
	output format.OutputFormat, started func(i int) bool) []CallResult {

	results := make([]CallResult, len(calls))
	g := new(errgroup.Group)
	g.SetLimit(d.config.MaxConcurrency)

	for i, call := range calls {
		g.Go(func() error {
			if started != nil && !started(i) {
				return nil
			}
			results[i] = d.runCall(ctx, sess, call, output)
			results[i].Index = i
			return nil
		})
	}
	g.Wait()
	return results
}

// runCall executes the per-call pipeline. It never returns a Go error; all
// failures are classified into the CallResult.
func (d *Dispatcher) runCall(ctx context.Context, sess *session.Session, call types.ToolCall,
	output format.OutputFormat) CallResult {

	ctx, span := d.tracer.Start(ctx, "dispatch.call",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	start := time.Now()
	out := CallResult{CallID: call.ID, ToolName: call.Name}

	if !sess.IsAllowed(call.Name) {
		out.Code = types.ErrPermissionDenied
		out.Error = fmt.Sprintf("tool %s is not allowed for this session", call.Name)
		out.Duration = time.Since(start)
		span.SetStatus(codes.Error, out.Error)
		d.recordCall(call.Name, "permission_denied", out.Duration)
		d.logger.Warn("tool call denied",
			zap.String("session_id", sess.ID()),
			zap.String("tool", call.Name))
		return out
	}

	result, cached := d.lookupCache(call)
	if !cached {
		exec := d.executeShared(ctx, call)
		if exec.Code != "" {
			out.Code = exec.Code
			out.Error = exec.Result.Error
			out.Duration = time.Since(start)
			span.SetStatus(codes.Error, out.Error)
			d.recordCall(call.Name, statusLabel(exec.Code), out.Duration)
			return out
		}
		result = exec.Result
		if d.cache != nil {
			d.cache.Store(call.Name, call.Parameters, result, d.config.CacheTTL)
		}
	}

	formatted, err := format.Format(result, output, d.config.IncludeMetadata)
	if err != nil {
		out.Code = types.GetErrorCode(err)
		if out.Code == "" {
			out.Code = types.ErrFormatting
		}
		out.Error = err.Error()
		out.Duration = time.Since(start)
		span.SetStatus(codes.Error, out.Error)
		d.recordCall(call.Name, "formatting", out.Duration)
		return out
	}
	formatted.Metadata.ToolName = call.Name
	formatted.Metadata.Cached = cached

	out.Formatted = &formatted
	out.Cached = cached
	out.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("tool.cached", cached))
	span.SetStatus(codes.Ok, "")
	d.recordCall(call.Name, "ok", out.Duration)
	return out
}

func (d *Dispatcher) lookupCache(call types.ToolCall) (types.ToolResult, bool) {
	if d.cache == nil {
		return types.ToolResult{}, false
	}
	result, ok := d.cache.Lookup(call.Name, call.Parameters)
	if d.metrics != nil {
		if ok {
			d.metrics.RecordCacheHit("tool_result")
		} else {
			d.metrics.RecordCacheMiss("tool_result")
		}
	}
	return result, ok
}

// executeShared collapses concurrent executions of identical calls into one.
// The fingerprint matches the cache key, so duplicates within a batch (or
// across racing batches) run the tool once and share its outcome.
func (d *Dispatcher) executeShared(ctx context.Context, call types.ToolCall) tools.Execution {
	key := cache.Fingerprint(call.Name, call.Parameters)
	v, _, shared := d.flight.Do(key, func() (any, error) {
		return d.executor.ExecuteOne(ctx, call), nil
	})
	exec := v.(tools.Execution)
	if shared {
		// The shared execution carries the leader's call id.
		exec.CallID = call.ID
	}
	return exec
}

// appendHistory records batch outcomes on the session in request order.
// Skipped calls (aborted streams) leave no trace.
func (d *Dispatcher) appendHistory(sess *session.Session, calls []types.ToolCall, results []CallResult, skipped map[int]bool) {
	for i, call := range calls {
		if skipped != nil && skipped[i] {
			continue
		}
		r := results[i]
		content := ""
		if r.Failed() {
			content = fmt.Sprintf("[%s] %s", r.Code, r.Error)
		} else if r.Formatted != nil {
			content = r.Formatted.Formatted
		}
		msg := types.NewToolMessage(call.ID, call.Name, content)
		sess.AppendMessage(msg)
	}
}

func (d *Dispatcher) recordCall(tool, status string, duration time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordToolCall(tool, status, duration)
	}
}

func (d *Dispatcher) recordBatch(mode, status string, size int, duration time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordDispatch(mode, status, size, duration)
	}
}

func statusLabel(code types.ErrorCode) string {
	switch code {
	case types.ErrPermissionDenied:
		return "permission_denied"
	case types.ErrToolNotFound:
		return "not_found"
	case types.ErrTimeout:
		return "timeout"
	case types.ErrRateLimited:
		return "rate_limited"
	case types.ErrInvalidRequest:
		return "invalid_request"
	default:
		return "error"
	}
}
