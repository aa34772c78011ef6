// Package querycache memoizes retrieval results for a bounded lifetime.
package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTTL is the entry lifetime used when none is configured.
const DefaultTTL = 5 * time.Minute

// Cache is a thread-safe TTL cache. It is a correctness aid only: it must be
// cleared whenever new chunks land in any user's vector namespace, so stale
// results are never served after fresh content is indexed.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]
	ttl time.Duration
}

// New creates a cache whose entries expire after ttl. Entry count is
// unbounded; lifetime is the only bound.
func New[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](0, nil, ttl),
		ttl: ttl,
	}
}

// Key derives the stable cache key for a query.
func Key(userEmail, query, senderFilter string) string {
	sum := sha256.Sum256([]byte(userEmail + ":" + query + ":" + senderFilter))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value when present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores a value under key with a fresh timestamp.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Clear drops all entries.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// TTL returns the configured entry lifetime.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}
