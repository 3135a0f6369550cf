// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package cache provides a thread-safe LRU cache with TTL support, used to
// memoize audit log query results between writes.
package cache

import (
	"sync"
	"time"
)

// entry is a node in the doubly-linked recency list.
type entry[V any] struct {
	key       string
	value     V
	prev      *entry[V]
	next      *entry[V]
	expiresAt time.Time
}

// LRU is a thread-safe Least Recently Used cache with TTL support.
// It provides O(1) Get, Add, and eviction using a doubly-linked list
// for ordering and a hashmap for lookups. Expired entries are dropped
// lazily on access.
type LRU[V any] struct {
	mu sync.RWMutex

	// capacity is the maximum number of entries
	capacity int

	// ttl is the time-to-live for entries
	ttl time.Duration

	// items maps keys to linked list nodes for O(1) lookup
	items map[string]*entry[V]

	// head and tail are sentinel nodes for the doubly-linked list.
	// head.next is the most recently used, tail.prev is the least recently used.
	head *entry[V]
	tail *entry[V]

	// stats
	hits   int64
	misses int64
}

// NewLRU creates an LRU cache with the specified capacity and TTL.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 128
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	c := &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry[V], capacity),
		head:     &entry[V]{},
		tail:     &entry[V]{},
	}

	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get retrieves a value from the cache. Returns the value and true if found
// and not expired. Found entries are moved to the front (most recently used).
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if e, exists := c.items[key]; exists {
		if time.Now().After(e.expiresAt) {
			c.removeEntry(e)
			c.misses++
			return zero, false
		}

		c.moveToFront(e)
		c.hits++
		return e.value, true
	}

	c.misses++
	return zero, false
}

// Add adds or updates an entry. If the cache is at capacity, the least
// recently used entry is evicted.
func (c *LRU[V]) Add(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)

	if e, exists := c.items[key]; exists {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry[V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	}

	c.addToFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Remove removes an entry from the cache.
// Returns true if the entry was found and removed.
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[key]; exists {
		c.removeEntry(e)
		return true
	}
	return false
}

// Purge removes all entries. Called whenever the underlying data changes,
// so stale query results never outlive a write.
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry[V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the current number of entries in the cache.
func (c *LRU[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired removes all expired entries.
// Returns the number of entries removed.
func (c *LRU[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	// Walk from tail (oldest) to head (newest).
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			c.removeEntry(e)
			removed++
		}
		e = prev
	}

	return removed
}

// Stats returns cache hit/miss counts and the current size.
func (c *LRU[V]) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

// Internal methods (must be called with lock held)

func (c *LRU[V]) addToFront(e *entry[V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRU[V]) moveToFront(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *LRU[V]) removeEntry(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

func (c *LRU[V]) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
