// Package format renders structured tool results into one of several textual
// encodings: JSON passthrough, Markdown, plain text, and escaped HTML.
//
// Formatting is a pure transform with no internal state. Unknown encodings
// and unencodable payloads are reported as errors, never defaulted silently.
package format
