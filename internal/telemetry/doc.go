// Package telemetry wraps OpenTelemetry SDK initialization, providing a
// centrally configured TracerProvider for the engine. When telemetry is
// disabled the global provider stays noop and no external connection is
// made.
package telemetry
