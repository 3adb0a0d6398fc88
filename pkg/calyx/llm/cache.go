package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// Fingerprint computes a deterministic key for a provider call so repeat
// calls within a run can be served from cache. The key covers the concrete
// model, the full message history, and the offered tool specs.
func Fingerprint(req Request) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	// Encoder output is deterministic for these struct types: field order
	// follows declaration order and slices preserve order.
	_ = enc.Encode(req.Model)
	_ = enc.Encode(req.Messages)
	_ = enc.Encode(req.Tools)
	return hex.EncodeToString(h.Sum(nil))
}

// Cache stores provider responses keyed by fingerprint.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (Response, bool)
	Put(key string, resp Response)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Response
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Response)}
}

// Get returns the cached response for key.
func (c *MemoryCache) Get(key string) (Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[key]
	return resp, ok
}

// Put stores a response under key.
func (c *MemoryCache) Put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resp
}
