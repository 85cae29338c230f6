// Command toolflow runs the tool invocation engine: an HTTP service that
// dispatches batches of tool calls with result caching, per-session
// permissions, streaming delivery over SSE and WebSocket, and Prometheus
// metrics.
package main
