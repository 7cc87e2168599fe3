package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ChatCore/internal/backend"
)

// CachedResponse represents a cached raw completion
type CachedResponse struct {
	StatusCode int
	Body       []byte
	Timestamp  time.Time
}

// Cache holds raw completions keyed by request. Entries older than the TTL
// are treated as missing and evicted on lookup. A zero TTL never expires.
type Cache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given TTL
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// GenerateCacheKey generates a cache key from a request body
func GenerateCacheKey(body backend.ChatRequestBody) string {
	h := sha256.New()
	raw, err := json.Marshal(body)
	if err != nil {
		h.Write([]byte(body.Model))
		for _, msg := range body.Messages {
			h.Write([]byte(msg.Role))
			h.Write([]byte(msg.Content))
		}
		return fmt.Sprintf("%x", h.Sum(nil))
	}
	h.Write(raw)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached response for key if it has not expired. The
// returned body is a copy the caller may modify.
func (c *Cache) Get(key string) (CachedResponse, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return CachedResponse{}, false
	}
	cached := val.(CachedResponse)
	if c.ttl > 0 && c.now().Sub(cached.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return CachedResponse{}, false
	}
	cached.Body = append([]byte(nil), cached.Body...)
	return cached, true
}

// Put stores a response under key
func (c *Cache) Put(key string, statusCode int, body []byte) {
	stored := make([]byte, len(body))
	copy(stored, body)
	c.entries.Store(key, CachedResponse{
		StatusCode: statusCode,
		Body:       stored,
		Timestamp:  c.now(),
	})
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Purge removes every entry
func (c *Cache) Purge() {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}
