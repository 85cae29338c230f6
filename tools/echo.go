package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tools-aigc/toolflow/types"
)

type echoArgs struct {
	Message string `json:"message"`
	Prefix  string `json:"prefix,omitempty"`
	Suffix  string `json:"suffix,omitempty"`
}

// NewEchoTool creates the echo tool. It reflects its input back, optionally
// wrapped with a prefix and suffix, and exists mainly to exercise the
// invocation pipeline end to end.
func NewEchoTool() (Func, Metadata) {
	fn := func(ctx context.Context, params json.RawMessage) (types.ToolResult, error) {
		var args echoArgs
		if len(params) > 0 {
			if err := json.Unmarshal(params, &args); err != nil {
				return types.ToolResult{}, fmt.Errorf("invalid echo arguments: %w", err)
			}
		}
		if args.Message == "" {
			return types.Fail("message is required"), nil
		}

		processed := args.Message
		if args.Prefix != "" {
			processed = args.Prefix + " " + processed
		}
		if args.Suffix != "" {
			processed = processed + " " + args.Suffix
		}

		data, err := json.Marshal(map[string]any{
			"original_message":  args.Message,
			"processed_message": processed,
			"prefix":            args.Prefix,
			"suffix":            args.Suffix,
		})
		if err != nil {
			return types.ToolResult{}, err
		}
		return types.OK(data), nil
	}

	meta := Metadata{
		Schema: Schema{
			Name:        "echo",
			Description: "Returns the input message, optionally wrapped with a prefix and suffix.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string", "description": "Message to return"},
					"prefix":  map[string]any{"type": "string", "description": "Optional prefix"},
					"suffix":  map[string]any{"type": "string", "description": "Optional suffix"},
				},
				"required": []string{"message"},
			},
		},
		Timeout: 5 * time.Second,
	}
	return fn, meta
}
