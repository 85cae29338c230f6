// Package handlers implements the HTTP API surface: tool listing and
// invocation, batch dispatch with SSE and WebSocket streaming, session and
// permission management, cache administration, and health probes.
package handlers
