package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("echo", json.RawMessage(`{"message":"hi","prefix":"<"}`))
	b := Fingerprint("echo", json.RawMessage(`{"prefix":"<","message":"hi"}`))
	assert.Equal(t, a, b)
}

func TestFingerprintSensitivity(t *testing.T) {
	a := Fingerprint("echo", json.RawMessage(`{"message":"hi"}`))
	b := Fingerprint("echo", json.RawMessage(`{"message":"ho"}`))
	c := Fingerprint("weather", json.RawMessage(`{"message":"hi"}`))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprintEmptyParameters(t *testing.T) {
	assert.Equal(t,
		Fingerprint("echo", nil),
		Fingerprint("echo", json.RawMessage(`{}`)))
}

func TestFingerprintNestedOrder(t *testing.T) {
	a := Fingerprint("http_request", json.RawMessage(`{"url":"x","headers":{"A":"1","B":"2"}}`))
	b := Fingerprint("http_request", json.RawMessage(`{"headers":{"B":"2","A":"1"},"url":"x"}`))
	assert.Equal(t, a, b)
}

// Property: any field ordering of the same object yields the same
// fingerprint, and changing any value yields a different one.
func TestFingerprintCanonicalization(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		keys := make([]string, 0, n)
		seen := map[string]bool{}
		for len(keys) < n {
			k := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, fmt.Sprintf("key%d", len(keys)))
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		values := make(map[string]int, n)
		for _, k := range keys {
			values[k] = rapid.IntRange(0, 1000).Draw(t, "val_"+k)
		}

		encode := func(order []string) json.RawMessage {
			parts := make([]string, 0, len(order))
			for _, k := range order {
				parts = append(parts, fmt.Sprintf("%q:%d", k, values[k]))
			}
			return json.RawMessage("{" + strings.Join(parts, ",") + "}")
		}

		perm := rapid.Permutation(keys).Draw(t, "perm")
		if Fingerprint("tool", encode(keys)) != Fingerprint("tool", encode(perm)) {
			t.Fatalf("field order changed fingerprint: %v vs %v", keys, perm)
		}

		// Mutate one value: fingerprint must change.
		mutated := rapid.SampledFrom(keys).Draw(t, "mutated")
		orig := values[mutated]
		values[mutated] = orig + 1
		if Fingerprint("tool", encode(keys)) == Fingerprint("tool", mustEncodeOrig(keys, values, mutated, orig)) {
			t.Fatalf("value change did not alter fingerprint for key %q", mutated)
		}
	})
}

func mustEncodeOrig(order []string, values map[string]int, mutated string, orig int) json.RawMessage {
	parts := make([]string, 0, len(order))
	for _, k := range order {
		v := values[k]
		if k == mutated {
			v = orig
		}
		parts = append(parts, fmt.Sprintf("%q:%d", k, v))
	}
	return json.RawMessage("{" + strings.Join(parts, ",") + "}")
}
