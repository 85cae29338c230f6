// Package session provides per-conversation state: message history, a tool
// allow-list, and activity timestamps, held in an in-memory store with an
// idle-expiry sweep.
//
// Sessions are best-effort state. They do not survive process restarts, and
// access to a deleted or expired session is a miss, not an error.
package session
