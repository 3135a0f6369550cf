// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/cache"
	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/metrics"
)

// queryEngine scans the active log sequentially, applying all supplied
// filters as AND predicates. Results are memoized in a short-TTL LRU
// keyed by the full filter tuple; the cache is purged on rotation since
// cached result sets reference content that has moved.
type queryEngine struct {
	store *logStore
	cache *cache.LRU[[]Event]

	// leadCap bounds the distinct-lead set held during a statistics
	// scan. Lowered in tests.
	leadCap int

	logger zerolog.Logger
}

func newQueryEngine(store *logStore, cacheSize int, cacheTTL time.Duration) *queryEngine {
	return &queryEngine{
		store:   store,
		cache:   cache.NewLRU[[]Event](cacheSize, cacheTTL),
		leadCap: maxDistinctLeads,
		logger:  logging.With().Str("component", "query").Logger(),
	}
}

// Query returns events matching the filter, in log (commit) order,
// stopping once the limit is reached.
func (q *queryEngine) Query(filter QueryFilter) ([]Event, error) {
	start := time.Now()
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}

	// Callers get their own slice; handing out the cached backing array
	// would let one caller's mutation poison every later hit.
	key := filter.cacheKey()
	if cached, ok := q.cache.Get(key); ok {
		metrics.RecordQuery(time.Since(start), true)
		out := make([]Event, len(cached))
		copy(out, cached)
		return out, nil
	}

	results, err := q.scan(filter)
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		cached := make([]Event, len(results))
		copy(cached, results)
		q.cache.Add(key, cached)
	}
	metrics.RecordQuery(time.Since(start), false)
	return results, nil
}

// scan reads the log file line by line. Lines that fail to parse are
// skipped; a partially written trailing line must not fail the query.
func (q *queryEngine) scan(filter QueryFilter) ([]Event, error) {
	f, err := os.Open(q.store.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	results := make([]Event, 0, filter.Limit)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if len(results) >= filter.Limit {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if !filter.matches(&ev) {
			continue
		}
		results = append(results, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	return results, nil
}

// Statistics performs a single full scan of the log, accumulating
// totals. The distinct-lead set is capped; past the cap the scan stops
// and the result is marked truncated.
func (q *queryEngine) Statistics(workflow string) (*Statistics, error) {
	stats := &Statistics{EventTypes: make(map[string]int64)}

	f, err := os.Open(q.store.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	leads := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if len(leads) >= q.leadCap {
			stats.Truncated = true
			q.logger.Warn().Int("cap", q.leadCap).Msg("Statistics truncated at distinct-lead cap")
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if workflow != "" && ev.Workflow != workflow {
			continue
		}

		stats.TotalEvents++
		stats.EventTypes[ev.EventType]++
		if ev.LeadID != "" {
			leads[ev.LeadID] = struct{}{}
		}
		if ev.EventType == EventError {
			stats.Errors++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	stats.LeadsProcessed = len(leads)
	return stats, nil
}

// LeadHistory returns the complete trail for one lead, in commit order.
func (q *queryEngine) LeadHistory(leadID string) ([]Event, error) {
	return q.Query(QueryFilter{LeadID: leadID, Limit: LeadHistoryLimit})
}

// Purge drops all cached query results.
func (q *queryEngine) Purge() {
	q.cache.Purge()
}

// CacheStats returns query cache hit/miss counts and size.
func (q *queryEngine) CacheStats() (hits, misses int64, size int) {
	return q.cache.Stats()
}

// cacheKey builds a stable key from the full filter tuple.
func (f QueryFilter) cacheKey() string {
	parts := []string{
		f.EventType,
		f.LeadID,
		f.Workflow,
		"",
		"",
		strconv.Itoa(f.Limit),
	}
	if !f.StartTime.IsZero() {
		parts[3] = f.StartTime.Format(time.RFC3339Nano)
	}
	if !f.EndTime.IsZero() {
		parts[4] = f.EndTime.Format(time.RFC3339Nano)
	}
	return strings.Join(parts, "|")
}

// matches applies every set predicate.
func (f QueryFilter) matches(ev *Event) bool {
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.LeadID != "" && ev.LeadID != f.LeadID {
		return false
	}
	if f.Workflow != "" && ev.Workflow != f.Workflow {
		return false
	}
	if !f.StartTime.IsZero() || !f.EndTime.IsZero() {
		t := ev.Time()
		if !f.StartTime.IsZero() && t.Before(f.StartTime) {
			return false
		}
		if !f.EndTime.IsZero() && t.After(f.EndTime) {
			return false
		}
	}
	return true
}
