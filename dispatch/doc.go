// Package dispatch orchestrates tool invocation batches.
//
// A request names a session and a list of tool calls. Every call runs the
// same pipeline: permission check, cache lookup, single-flight execution
// with a per-tool timeout, cache store on success, formatting, and history
// append. Calls within a batch are independent; one failing never aborts
// its siblings.
//
// Execute runs a batch and returns the aggregated response in request
// order. Stream runs the same batch and emits an event envelope instead:
// exactly one call-started event, then per-call result/error events
// (standard mode) or a single aggregated-result event (automatic mode),
// then exactly one completed event.
package dispatch
