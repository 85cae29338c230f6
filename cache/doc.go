// Package cache provides an in-memory result cache for tool invocations.
//
// Entries are addressed by a deterministic fingerprint of the tool name and
// its canonicalized parameters. The cache bounds its size with LRU eviction
// and expires entries by TTL. It is an optimization, not a correctness
// dependency: consumers must tolerate a miss at any time.
package cache
