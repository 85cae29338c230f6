package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tools-aigc/toolflow/types"
)

// Config configures the result cache.
type Config struct {
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 1000,
		DefaultTTL: 5 * time.Minute,
	}
}

// Stats tracks cache performance. Hits, Misses and Evictions accumulate
// monotonically; Size is the current live-entry count.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type cacheEntry struct {
	key       string
	toolName  string
	result    types.ToolResult
	createdAt time.Time
	expiresAt time.Time
}

// ResultCache caches successful tool results keyed by invocation fingerprint.
// Safe for concurrent use. Recency is updated on both read and write, so
// eviction order is true LRU rather than insertion order.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	config  Config
	stats   Stats
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a result cache with the given configuration.
func New(config Config, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &ResultCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		config:  config,
		logger:  logger.With(zap.String("component", "result_cache")),
		now:     time.Now,
	}
}

// Lookup returns the cached result for a tool call, if present and not
// expired. A logically expired entry counts as a miss and is purged. A hit
// promotes the entry to most-recently-used.
func (c *ResultCache) Lookup(toolName string, parameters json.RawMessage) (types.ToolResult, bool) {
	key := Fingerprint(toolName, parameters)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return types.ToolResult{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(elem)
		c.stats.Misses++
		return types.ToolResult{}, false
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	c.logger.Debug("cache hit", zap.String("tool", toolName))
	return entry.result, true
}

// Store inserts or overwrites the entry for a tool call. Failed results are
// never cached, so a transient tool failure cannot be memoized. A zero or
// negative ttl falls back to the configured default.
func (c *ResultCache) Store(toolName string, parameters json.RawMessage, result types.ToolResult, ttl time.Duration) {
	if !result.Success {
		return
	}

	key := Fingerprint(toolName, parameters)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	now := c.now()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.createdAt = now
		entry.expiresAt = now.Add(ttl)
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.config.MaxEntries {
		c.evictLRULocked()
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		toolName:  toolName,
		result:    result,
		createdAt: now,
		expiresAt: now.Add(ttl),
	})
	c.entries[key] = elem
	c.stats.Size = len(c.entries)

	c.logger.Debug("cached tool result",
		zap.String("tool", toolName),
		zap.Duration("ttl", ttl))
}

// Invalidate removes the entry for a specific tool call.
func (c *ResultCache) Invalidate(toolName string, parameters json.RawMessage) {
	key := Fingerprint(toolName, parameters)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// InvalidateTool removes all cache entries for a tool.
func (c *ResultCache) InvalidateTool(toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*cacheEntry).toolName == toolName {
			c.removeLocked(elem)
		}
		elem = next
	}
}

// Clear removes all cache entries. Counters are preserved.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.stats.Size = 0
}

// Configure updates the TTL and capacity policy for subsequently stored
// entries. Existing entries keep their original expiry.
func (c *ResultCache) Configure(ttl time.Duration, maxEntries int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl > 0 {
		c.config.DefaultTTL = ttl
	}
	if maxEntries > 0 {
		c.config.MaxEntries = maxEntries
	}
}

// Stats returns a snapshot of cache statistics.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *ResultCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
	c.stats.Size = len(c.entries)
}

func (c *ResultCache) evictLRULocked() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.removeLocked(elem)
	c.stats.Evictions++
}
