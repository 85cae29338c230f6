package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/types"
)

// Execution is the outcome of running one tool call.
type Execution struct {
	CallID   string           `json:"tool_call_id"`
	Name     string           `json:"name"`
	Result   types.ToolResult `json:"result"`
	Code     types.ErrorCode  `json:"code,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// Executor runs tool calls against a registry.
type Executor interface {
	ExecuteOne(ctx context.Context, call types.ToolCall) Execution
}

// DefaultExecutor enforces per-tool timeouts and rate limits and classifies
// failures into error codes.
type DefaultExecutor struct {
	registry Registry
	logger   *zap.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry Registry, logger *zap.Logger) *DefaultExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultExecutor{
		registry: registry,
		logger:   logger.With(zap.String("component", "tool_executor")),
	}
}

func (e *DefaultExecutor) ExecuteOne(ctx context.Context, call types.ToolCall) Execution {
	start := time.Now()
	exec := Execution{CallID: call.ID, Name: call.Name}

	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		exec.Result = types.Fail(err.Error())
		exec.Code = types.ErrToolNotFound
		exec.Duration = time.Since(start)
		e.logger.Warn("tool not found", zap.String("name", call.Name))
		return exec
	}

	if reg, ok := e.registry.(*DefaultRegistry); ok {
		if err := reg.Reserve(call.Name); err != nil {
			exec.Result = types.Fail(err.Error())
			exec.Code = types.ErrRateLimited
			exec.Duration = time.Since(start)
			e.logger.Warn("tool rate limited", zap.String("name", call.Name))
			return exec
		}
	}

	if len(call.Parameters) > 0 {
		var tmp any
		if err := json.Unmarshal(call.Parameters, &tmp); err != nil {
			exec.Result = types.Fail(fmt.Sprintf("invalid parameters: %s", err.Error()))
			exec.Code = types.ErrInvalidRequest
			exec.Duration = time.Since(start)
			e.logger.Warn("invalid tool parameters", zap.String("name", call.Name), zap.Error(err))
			return exec
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		result types.ToolResult
		err    error
	}
	// Buffered so the worker can exit even when the timeout fires first.
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(execCtx, call.Parameters)
		select {
		case done <- outcome{result, err}:
		case <-execCtx.Done():
		}
	}()

	select {
	case out := <-done:
		exec.Duration = time.Since(start)
		switch {
		case out.err != nil:
			exec.Result = types.Fail(out.err.Error())
			exec.Code = types.ErrToolExecution
			e.logger.Error("tool execution failed",
				zap.String("name", call.Name),
				zap.Error(out.err),
				zap.Duration("duration", exec.Duration))
		case !out.result.Success:
			exec.Result = out.result
			exec.Code = types.ErrToolExecution
			e.logger.Warn("tool reported failure",
				zap.String("name", call.Name),
				zap.String("error", out.result.Error),
				zap.Duration("duration", exec.Duration))
		default:
			exec.Result = out.result
			e.logger.Info("tool executed",
				zap.String("name", call.Name),
				zap.Duration("duration", exec.Duration))
		}

	case <-execCtx.Done():
		exec.Duration = time.Since(start)
		if ctx.Err() != nil {
			exec.Result = types.Fail("execution cancelled")
			exec.Code = types.ErrToolExecution
			e.logger.Warn("tool execution cancelled", zap.String("name", call.Name))
		} else {
			exec.Result = types.Fail(fmt.Sprintf("execution timeout after %s", meta.Timeout))
			exec.Code = types.ErrTimeout
			e.logger.Error("tool execution timeout",
				zap.String("name", call.Name),
				zap.Duration("timeout", meta.Timeout))
		}
	}

	return exec
}
