package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/types"
)

func newTestCache(maxEntries int, ttl time.Duration) *ResultCache {
	return New(Config{MaxEntries: maxEntries, DefaultTTL: ttl}, zap.NewNop())
}

func params(s string) json.RawMessage {
	return json.RawMessage(s)
}

func TestLookupMissThenHit(t *testing.T) {
	c := newTestCache(10, time.Minute)

	_, ok := c.Lookup("echo", params(`{"message":"hi"}`))
	assert.False(t, ok)

	c.Store("echo", params(`{"message":"hi"}`), types.OK(params(`{"echoed":"hi"}`)), 0)

	got, ok := c.Lookup("echo", params(`{"message":"hi"}`))
	require.True(t, ok)
	assert.True(t, got.Success)
	assert.JSONEq(t, `{"echoed":"hi"}`, string(got.Data))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestLookupIgnoresParameterOrder(t *testing.T) {
	c := newTestCache(10, time.Minute)

	c.Store("weather", params(`{"city":"Beijing","country":"CN"}`), types.OK(params(`{"temp":23.5}`)), 0)

	got, ok := c.Lookup("weather", params(`{"country":"CN","city":"Beijing"}`))
	require.True(t, ok)
	assert.JSONEq(t, `{"temp":23.5}`, string(got.Data))
}

func TestTTLBoundary(t *testing.T) {
	c := newTestCache(10, time.Minute)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Store("echo", params(`{"m":"x"}`), types.OK(params(`"x"`)), 10*time.Second)

	// Just before expiry: hit.
	c.now = func() time.Time { return base.Add(10*time.Second - time.Nanosecond) }
	_, ok := c.Lookup("echo", params(`{"m":"x"}`))
	assert.True(t, ok)

	// At expiry: guaranteed miss, entry lazily purged.
	c.now = func() time.Time { return base.Add(10 * time.Second) }
	_, ok = c.Lookup("echo", params(`{"m":"x"}`))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestLRUEvictionWithReadPromotion(t *testing.T) {
	c := newTestCache(2, time.Minute)

	c.Store("t", params(`{"n":1}`), types.OK(params(`1`)), 0)
	c.Store("t", params(`{"n":2}`), types.OK(params(`2`)), 0)

	// Read n=1 so n=2 becomes least recently used.
	_, ok := c.Lookup("t", params(`{"n":1}`))
	require.True(t, ok)

	// Inserting a third entry evicts exactly one entry: n=2.
	c.Store("t", params(`{"n":3}`), types.OK(params(`3`)), 0)

	_, ok = c.Lookup("t", params(`{"n":1}`))
	assert.True(t, ok)
	_, ok = c.Lookup("t", params(`{"n":2}`))
	assert.False(t, ok)
	_, ok = c.Lookup("t", params(`{"n":3}`))
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Stats().Size)
}

func TestFailedResultsNeverCached(t *testing.T) {
	c := newTestCache(10, time.Minute)

	c.Store("weather", params(`{"city":"X"}`), types.Fail("upstream down"), 0)
	_, ok := c.Lookup("weather", params(`{"city":"X"}`))
	assert.False(t, ok)

	// A later success overwrites cleanly; the failure was never visible.
	c.Store("weather", params(`{"city":"X"}`), types.OK(params(`{"temp":20}`)), 0)
	got, ok := c.Lookup("weather", params(`{"city":"X"}`))
	require.True(t, ok)
	assert.True(t, got.Success)
	assert.Empty(t, got.Error)
}

func TestStoreOverwriteIsLastWriterWins(t *testing.T) {
	c := newTestCache(10, time.Minute)

	c.Store("echo", params(`{"m":"a"}`), types.OK(params(`"one"`)), 0)
	c.Store("echo", params(`{"m":"a"}`), types.OK(params(`"two"`)), 0)

	got, ok := c.Lookup("echo", params(`{"m":"a"}`))
	require.True(t, ok)
	assert.Equal(t, `"two"`, string(got.Data))
	assert.Equal(t, 1, c.Stats().Size)
}

func TestConfigureNotRetroactive(t *testing.T) {
	c := newTestCache(10, time.Minute)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Store("echo", params(`{"m":"a"}`), types.OK(params(`"a"`)), 0)

	// Shrinking the TTL must not rewrite the existing entry's expiry.
	c.Configure(time.Second, 10)
	c.now = func() time.Time { return base.Add(30 * time.Second) }
	_, ok := c.Lookup("echo", params(`{"m":"a"}`))
	assert.True(t, ok)

	// But it applies to subsequent stores.
	c.Store("echo", params(`{"m":"b"}`), types.OK(params(`"b"`)), 0)
	c.now = func() time.Time { return base.Add(45 * time.Second) }
	_, ok = c.Lookup("echo", params(`{"m":"b"}`))
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := newTestCache(10, time.Minute)
	c.Store("echo", params(`{"m":"a"}`), types.OK(params(`"a"`)), 0)
	c.Store("echo", params(`{"m":"b"}`), types.OK(params(`"b"`)), 0)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
	_, ok := c.Lookup("echo", params(`{"m":"a"}`))
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(10, time.Minute)
	c.Store("echo", params(`{"m":"a"}`), types.OK(params(`"a"`)), 0)
	c.Store("weather", params(`{"city":"B"}`), types.OK(params(`{}`)), 0)

	c.Invalidate("echo", params(`{"m":"a"}`))
	_, ok := c.Lookup("echo", params(`{"m":"a"}`))
	assert.False(t, ok)

	c.InvalidateTool("weather")
	_, ok = c.Lookup("weather", params(`{"city":"B"}`))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(64, time.Minute)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				p := params(`{"n":` + string(rune('0'+i%10)) + `}`)
				c.Store("t", p, types.OK(params(`1`)), 0)
				c.Lookup("t", p)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, 64)
	assert.Positive(t, stats.Hits)
}
