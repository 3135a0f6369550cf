// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package ratelimit implements per-source sliding window rate limiting for
// audit event ingestion.
//
// Each source is identified by a "workflow:lead_id" key. The limiter keeps
// the exact admission timestamps inside the window per key, so the decision
// is precise rather than bucketed: an event is admitted when fewer than
// burst events from the same source were admitted within the trailing
// window. Keys are evicted when the store grows past its cap, which bounds
// memory against key churn from hostile or misbehaving callers.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Defaults applied when a Limiter is constructed with non-positive values.
const (
	DefaultWindow  = time.Second
	DefaultBurst   = 200
	DefaultMaxKeys = 10000
)

// Limiter is a thread-safe sliding window rate limiter keyed by source.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	burst   int
	maxKeys int

	// admitted holds, per key, the timestamps of events admitted within
	// the current window. Pruned lazily on each Allow call for that key.
	admitted map[string][]time.Time

	// blocked counts denials since construction, total and per key.
	blocked       int64
	blockedPerKey map[string]int64
}

// New creates a Limiter. Non-positive arguments fall back to the defaults:
// a 1 second window, a burst of 200, and at most 10000 tracked keys.
func New(window time.Duration, burst, maxKeys int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Limiter{
		window:        window,
		burst:         burst,
		maxKeys:       maxKeys,
		admitted:      make(map[string][]time.Time),
		blockedPerKey: make(map[string]int64),
	}
}

// Key builds the rate limiting key for an event source. Events that carry
// no workflow or lead share the "global:none" bucket.
func Key(workflow, leadID string) string {
	if workflow == "" {
		workflow = "global"
	}
	if leadID == "" {
		leadID = "none"
	}
	return fmt.Sprintf("%s:%s", workflow, leadID)
}

// Allow reports whether an event from the given key may proceed, recording
// the admission if it may. A denial is counted but records nothing, so a
// source that keeps hammering after its burst does not extend its own
// lockout.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	times := l.admitted[key]
	live := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= l.burst {
		l.admitted[key] = live
		l.blocked++
		l.blockedPerKey[key]++
		return false
	}

	if _, exists := l.admitted[key]; !exists && len(l.admitted) >= l.maxKeys {
		l.evictOne()
	}

	l.admitted[key] = append(live, now)
	return true
}

// BlockedCount returns the total number of denials since construction.
func (l *Limiter) BlockedCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked
}

// Stats is a snapshot of limiter state for the operational API.
type Stats struct {
	Window       time.Duration    `json:"window_ns"`
	Burst        int              `json:"burst"`
	ActiveKeys   int              `json:"active_keys"`
	Blocked      int64            `json:"blocked_total"`
	BlockedByKey map[string]int64 `json:"blocked_by_key,omitempty"`
}

// Snapshot returns current limiter statistics. The per-key map is copied.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	byKey := make(map[string]int64, len(l.blockedPerKey))
	for k, v := range l.blockedPerKey {
		byKey[k] = v
	}
	return Stats{
		Window:       l.window,
		Burst:        l.burst,
		ActiveKeys:   len(l.admitted),
		Blocked:      l.blocked,
		BlockedByKey: byKey,
	}
}

// Reset clears all tracked admissions and counters.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admitted = make(map[string][]time.Time)
	l.blockedPerKey = make(map[string]int64)
	l.blocked = 0
}

// CleanupStale drops keys with no admissions inside the window.
// Returns the number of keys removed.
func (l *Limiter) CleanupStale() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	removed := 0
	for key, times := range l.admitted {
		stale := true
		for _, ts := range times {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.admitted, key)
			removed++
		}
	}
	return removed
}

// evictOne removes a single key when the store is at capacity.
// Must be called with the lock held. Map iteration order makes the
// victim effectively random, which is acceptable for an abuse bound.
func (l *Limiter) evictOne() {
	for key := range l.admitted {
		delete(l.admitted, key)
		return
	}
}
