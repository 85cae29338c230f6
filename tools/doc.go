// Package tools provides the tool registry and executor.
//
// A tool is a named function taking JSON parameters and producing a
// structured result. The registry owns per-tool metadata: a JSON Schema
// describing the parameters, an execution timeout, and an optional rate
// limit. The executor runs calls against the registry with timeout
// enforcement and error classification.
package tools
