package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint returns a deterministic cache key for a tool invocation.
// Parameters are canonicalized (recursive key-sorted serialization) so that
// semantically identical parameter sets map to the same key regardless of
// field ordering in the incoming JSON.
func Fingerprint(toolName string, parameters json.RawMessage) string {
	data := toolName + ":" + canonicalize(parameters)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// canonicalize re-serializes raw JSON through Go's map representation, which
// sorts object keys at every nesting level. Empty parameters normalize to an
// empty object, and malformed JSON falls back to the raw bytes so the
// fingerprint stays deterministic either way.
func canonicalize(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
