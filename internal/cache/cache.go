package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache is a small concurrency-safe in-memory key/value store. Entries live
// until Clear.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]V),
	}
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes every item.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}

// GenerateKey hashes the given parts into a stable key.
func GenerateKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
