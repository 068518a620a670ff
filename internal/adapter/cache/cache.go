// Package cache provides small in-process LRU caches with TTL and
// generation-based invalidation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"webrag/internal/domain"
)

const (
	DefaultMaxSize = 100
	DefaultTTL     = 5 * time.Minute
)

// Cache is an LRU keyed by string. Each entry remembers the generation it was
// stored under; a lookup with a different generation is a miss and evicts
// the entry, so callers can tie entries to an index version.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry[V]
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	timestamp time.Time
	gen       uint64
}

func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		entries: make(map[string]*cacheEntry[V]),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key derives a compact cache key from a query and a result count.
func Key(query string, topK int) string {
	data := []byte(query)
	data = append(data, 0, byte(topK>>24), byte(topK>>16), byte(topK>>8), byte(topK))
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

func (c *Cache[V]) Get(key string, gen uint64) (V, bool) {
	var zero V

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return zero, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.gen != gen {
		c.mu.Lock()
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.mu.Unlock()
		return zero, false
	}

	c.mu.Lock()
	c.moveToEnd(key)
	c.mu.Unlock()

	return entry.value, true
}

func (c *Cache[V]) Put(key string, gen uint64, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry[V]{
		value:     value,
		timestamp: c.now(),
		gen:       gen,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

// Invalidate drops every entry.
func (c *Cache[V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry[V])
	c.order = c.order[:0]
}

func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *Cache[V]) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *Cache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// ResultCache holds final retrieval results keyed by (query, k).
type ResultCache = Cache[[]domain.RankedResult]

// EmbeddingCache holds query embeddings keyed by query text.
type EmbeddingCache = Cache[domain.Embedding]

func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	return New[[]domain.RankedResult](maxSize, ttl)
}

func NewEmbeddingCache(maxSize int, ttl time.Duration) *EmbeddingCache {
	return New[domain.Embedding](maxSize, ttl)
}
