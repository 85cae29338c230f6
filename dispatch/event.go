package dispatch

import (
	"time"

	"github.com/tools-aigc/toolflow/types"
)

// Mode selects how streamed results are delivered.
type Mode string

const (
	// ModeStandard emits one result or error event per call.
	ModeStandard Mode = "standard"
	// ModeAutomatic collects all outcomes into one aggregated-result event.
	ModeAutomatic Mode = "automatic"
)

// EventType identifies a streamed dispatch event.
type EventType string

const (
	EventCallStarted      EventType = "call-started"
	EventResult           EventType = "result"
	EventAggregatedResult EventType = "aggregated-result"
	EventError            EventType = "error"
	EventCompleted        EventType = "completed"
)

// CallResult is the outcome of one call in a batch. Exactly one of
// Formatted or Code is set: Formatted for completed calls, Code plus Error
// for failed ones.
type CallResult struct {
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Index     int                    `json:"index"`
	Formatted *types.FormattedResult `json:"formatted,omitempty"`
	Code      types.ErrorCode        `json:"code,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Cached    bool                   `json:"cached"`
	Duration  time.Duration          `json:"duration"`
}

// Failed reports whether the call ended in an error.
func (r CallResult) Failed() bool {
	return r.Code != ""
}

// Event is one element of a dispatch stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`

	// Result is set on result events.
	Result *CallResult `json:"result,omitempty"`
	// Results is set on aggregated-result events, in request order.
	Results []CallResult `json:"results,omitempty"`

	// Code and Message are set on error events.
	Code    types.ErrorCode `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`

	// Summary is set on completed events.
	Summary *Summary `json:"summary,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Summary closes a stream with batch-level counters.
type Summary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cached    int           `json:"cached"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Response is the aggregated outcome of a non-streaming batch.
type Response struct {
	SessionID string       `json:"session_id"`
	Mode      Mode         `json:"mode"`
	Results   []CallResult `json:"results"`
	Summary   Summary      `json:"summary"`
}

func summarize(results []CallResult, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Elapsed: elapsed}
	for _, r := range results {
		if r.Failed() {
			s.Failed++
		} else {
			s.Succeeded++
		}
		if r.Cached {
			s.Cached++
		}
	}
	return s
}
