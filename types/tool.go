package types

import (
	"encoding/json"
	"time"
)

// ToolCall represents a single requested tool invocation.
type ToolCall struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ToolResult is the immutable outcome of a tool invocation.
// Data is present iff Success; Error is present iff not Success.
type ToolResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OK builds a successful ToolResult carrying the given payload.
func OK(data json.RawMessage) ToolResult {
	return ToolResult{Success: true, Data: data}
}

// Fail builds a failed ToolResult carrying the given error text.
func Fail(errMsg string) ToolResult {
	return ToolResult{Success: false, Error: errMsg}
}

// ResultMetadata describes how a FormattedResult was produced.
type ResultMetadata struct {
	ToolName  string    `json:"tool_name"`
	Cached    bool      `json:"cached"`
	Format    string    `json:"format"`
	Timestamp time.Time `json:"timestamp"`
}

// FormattedResult pairs a tool result with its rendered representation.
// Transient: constructed per response, never persisted.
type FormattedResult struct {
	Result    ToolResult     `json:"result"`
	Formatted string         `json:"formatted"`
	Metadata  ResultMetadata `json:"metadata"`
}
