// Package cache provides a small in-process TTL cache. Call sites depend on
// the Cache interface so the implementation can later be swapped for a
// shared external cache without touching them.
package cache

import (
	"sync"
	"time"
)

// Cache is a get/set/evict key-value store with per-entry TTL.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Evict(key string)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is the in-process Cache implementation. Expired entries are
// dropped lazily on access and swept periodically.
type Memory[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
}

func NewMemory[V any]() *Memory[V] {
	c := &Memory[V]{entries: make(map[string]entry[V])}
	go c.sweep()
	return c
}

func (c *Memory[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *Memory[V]) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Memory[V]) sweep() {
	for {
		time.Sleep(5 * time.Minute)
		now := time.Now()
		c.mu.Lock()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		c.mu.Unlock()
	}
}
