package iql

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoizes query results by query text. Entries expire after the TTL
// and the whole cache is purged when the graph changes under it.
type Cache struct {
	lru *expirable.LRU[string, *Result]
}

// NewCache returns a cache holding up to size results for at most ttl.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	return &Cache{lru: expirable.NewLRU[string, *Result](size, nil, ttl)}, nil
}

// Get returns the cached result for a query, if present and fresh.
func (c *Cache) Get(query string) (*Result, bool) {
	return c.lru.Get(query)
}

// Put stores a result.
func (c *Cache) Put(query string, result *Result) {
	c.lru.Add(query, result)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
