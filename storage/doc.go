// Package storage persists the tool invocation log.
//
// Every dispatched call leaves one row recording the tool, parameters,
// outcome, and timing. The log is an audit surface; the engine never reads
// it on the hot path.
package storage
