// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUBasicOperations(t *testing.T) {
	c := NewLRU[string](10, time.Minute)

	c.Add("a", "alpha")
	c.Add("b", "beta")

	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Errorf("Get(a) = %q, %v; want alpha, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	if !c.Remove("a") {
		t.Error("Remove(a) should return true")
	}
	if c.Remove("a") {
		t.Error("second Remove(a) should return false")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU[int](3, time.Minute)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// Touch "a" so "b" becomes the oldest.
	c.Get("a")

	c.Add("d", 4)

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should have survived eviction")
	}
}

func TestLRUExpiration(t *testing.T) {
	c := NewLRU[int](10, 10*time.Millisecond)

	c.Add("a", 1)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry should be present before TTL")
	}

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("entry should have expired")
	}
}

func TestLRUPurge(t *testing.T) {
	c := NewLRU[int](10, time.Minute)

	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("k%d", i), i)
	}
	c.Purge()

	if c.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("purged entry still retrievable")
	}

	// Cache must be usable after a purge.
	c.Add("fresh", 42)
	if v, ok := c.Get("fresh"); !ok || v != 42 {
		t.Errorf("Get(fresh) after Purge = %d, %v", v, ok)
	}
}

func TestLRUUpdateExisting(t *testing.T) {
	c := NewLRU[string](2, time.Minute)

	c.Add("a", "one")
	c.Add("a", "two")

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if v, _ := c.Get("a"); v != "two" {
		t.Errorf("Get(a) = %q, want two", v)
	}
}

func TestLRUCleanupExpired(t *testing.T) {
	c := NewLRU[int](10, 10*time.Millisecond)

	c.Add("a", 1)
	c.Add("b", 2)

	time.Sleep(25 * time.Millisecond)
	c.Add("c", 3)

	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("CleanupExpired() = %d, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[int](10, time.Minute)

	c.Add("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	hits, misses, size := c.Stats()
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
	if size != 1 {
		t.Errorf("size = %d, want 1", size)
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU[int](100, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%50)
				c.Add(key, g*1000+i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}

func TestLRUDefaults(t *testing.T) {
	c := NewLRU[int](0, 0)
	if c.capacity != 128 {
		t.Errorf("default capacity = %d, want 128", c.capacity)
	}
	if c.ttl != 30*time.Second {
		t.Errorf("default ttl = %v, want 30s", c.ttl)
	}
}
