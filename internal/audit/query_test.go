// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func newTestQueryEngine(t *testing.T) (*queryEngine, *logStore) {
	t.Helper()
	store, err := newLogStore(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("newLogStore() error = %v", err)
	}
	return newQueryEngine(store, 16, time.Minute), store
}

func seedEvents(t *testing.T, store *logStore, events []Event) {
	t.Helper()
	lines := make([][]byte, 0, len(events))
	for i := range events {
		data, err := json.Marshal(&events[i])
		if err != nil {
			t.Fatal(err)
		}
		lines = append(lines, data)
	}
	if err := store.Append(lines); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func ts(hour int) string {
	return fmt.Sprintf("2026-08-25T%02d:00:00.000000Z", hour)
}

func TestQueryFilters(t *testing.T) {
	q, store := newTestQueryEngine(t)
	seedEvents(t, store, []Event{
		{Timestamp: ts(9), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-001", Workflow: "sales"},
		{Timestamp: ts(10), EventType: EventLeadQualified, Actor: "system", LeadID: "LEAD-001", Workflow: "sales"},
		{Timestamp: ts(11), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-002", Workflow: "marketing"},
		{Timestamp: ts(12), EventType: EventError, Actor: "system", Workflow: "sales"},
	})

	tests := []struct {
		name   string
		filter QueryFilter
		want   int
	}{
		{"no filter returns all", QueryFilter{}, 4},
		{"by event type", QueryFilter{EventType: EventLeadIngested}, 2},
		{"by lead", QueryFilter{LeadID: "LEAD-001"}, 2},
		{"by workflow", QueryFilter{Workflow: "marketing"}, 1},
		{"type and lead combined", QueryFilter{EventType: EventLeadIngested, LeadID: "LEAD-001"}, 1},
		{"start time", QueryFilter{StartTime: mustParse(t, ts(11))}, 2},
		{"end time", QueryFilter{EndTime: mustParse(t, ts(9))}, 1},
		{"window", QueryFilter{StartTime: mustParse(t, ts(10)), EndTime: mustParse(t, ts(11))}, 2},
		{"no match", QueryFilter{LeadID: "LEAD-999"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Query() returned %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func TestQueryLimit(t *testing.T) {
	q, store := newTestQueryEngine(t)

	events := make([]Event, 150)
	for i := range events {
		events[i] = Event{Timestamp: ts(10), EventType: EventLeadIngested, Actor: "system"}
	}
	seedEvents(t, store, events)

	// Default limit applies when unset.
	got, err := q.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != DefaultQueryLimit {
		t.Errorf("default limit returned %d events, want %d", len(got), DefaultQueryLimit)
	}

	got, err = q.Query(QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 10 {
		t.Errorf("explicit limit returned %d events, want 10", len(got))
	}
}

func TestQueryMissingLogIsEmpty(t *testing.T) {
	q, _ := newTestQueryEngine(t)
	got, err := q.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Query() on missing log returned %d events, want 0", len(got))
	}
}

func TestQuerySkipsCorruptLines(t *testing.T) {
	q, store := newTestQueryEngine(t)
	seedEvents(t, store, []Event{
		{Timestamp: ts(9), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-001"},
	})
	// Simulate a partially written trailing line.
	if err := store.Append([][]byte{[]byte(`{"timestamp":"2026-08-25T1`)}); err != nil {
		t.Fatal(err)
	}
	seedEvents(t, store, []Event{
		{Timestamp: ts(10), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-002"},
	})

	got, err := q.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Query() returned %d events, want 2 (corrupt line skipped)", len(got))
	}
}

func TestQueryCaching(t *testing.T) {
	q, store := newTestQueryEngine(t)
	seedEvents(t, store, []Event{
		{Timestamp: ts(9), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-001"},
	})

	filter := QueryFilter{LeadID: "LEAD-001"}
	if _, err := q.Query(filter); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	// The log grows, but an identical filter within the TTL is served
	// from cache and does not see the new event.
	seedEvents(t, store, []Event{
		{Timestamp: ts(10), EventType: EventCRMCreate, Actor: "system", LeadID: "LEAD-001"},
	})

	got, err := q.Query(filter)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("cached query returned %d events, want 1", len(got))
	}

	hits, misses, size := q.CacheStats()
	if hits != 1 || misses != 1 {
		t.Errorf("cache stats = %d hits / %d misses, want 1/1", hits, misses)
	}
	if size != 1 {
		t.Errorf("cache size = %d, want 1", size)
	}

	// A different filter is a different cache entry and sees the full log.
	got, err = q.Query(QueryFilter{LeadID: "LEAD-001", EventType: EventCRMCreate})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("distinct filter returned %d events, want 1", len(got))
	}
}

func TestQueryPurgeInvalidatesCache(t *testing.T) {
	q, store := newTestQueryEngine(t)
	seedEvents(t, store, []Event{
		{Timestamp: ts(9), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-001"},
	})

	filter := QueryFilter{LeadID: "LEAD-001"}
	if _, err := q.Query(filter); err != nil {
		t.Fatal(err)
	}
	seedEvents(t, store, []Event{
		{Timestamp: ts(10), EventType: EventCRMCreate, Actor: "system", LeadID: "LEAD-001"},
	})

	q.Purge()

	got, err := q.Query(filter)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("post-purge query returned %d events, want 2", len(got))
	}
}

func TestCacheKeyDistinguishesFilters(t *testing.T) {
	base := QueryFilter{EventType: EventError, Limit: 100}
	variants := []QueryFilter{
		{EventType: EventError, Limit: 50},
		{EventType: EventError, LeadID: "LEAD-001", Limit: 100},
		{EventType: EventError, Workflow: "sales", Limit: 100},
		{EventType: EventError, StartTime: time.Now(), Limit: 100},
		{Limit: 100},
	}
	for i, v := range variants {
		if v.cacheKey() == base.cacheKey() {
			t.Errorf("variant %d collides with base cache key %q", i, base.cacheKey())
		}
	}
	if base.cacheKey() != (QueryFilter{EventType: EventError, Limit: 100}).cacheKey() {
		t.Error("identical filters must share a cache key")
	}
}

func TestStatistics(t *testing.T) {
	q, store := newTestQueryEngine(t)
	seedEvents(t, store, []Event{
		{Timestamp: ts(9), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-001", Workflow: "sales"},
		{Timestamp: ts(10), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-002", Workflow: "sales"},
		{Timestamp: ts(11), EventType: EventCRMCreate, Actor: "system", LeadID: "LEAD-001", Workflow: "sales"},
		{Timestamp: ts(12), EventType: EventError, Actor: "system", Workflow: "sales"},
		{Timestamp: ts(13), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-003", Workflow: "marketing"},
	})

	stats, err := q.Statistics("")
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalEvents != 5 {
		t.Errorf("TotalEvents = %d, want 5", stats.TotalEvents)
	}
	if stats.LeadsProcessed != 3 {
		t.Errorf("LeadsProcessed = %d, want 3", stats.LeadsProcessed)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.EventTypes[EventLeadIngested] != 3 {
		t.Errorf("EventTypes[lead_ingested] = %d, want 3", stats.EventTypes[EventLeadIngested])
	}
	if stats.Truncated {
		t.Error("Truncated = true for a small log")
	}

	// Workflow filter narrows every aggregate.
	stats, err = q.Statistics("marketing")
	if err != nil {
		t.Fatalf("Statistics(marketing) error = %v", err)
	}
	if stats.TotalEvents != 1 || stats.LeadsProcessed != 1 || stats.Errors != 0 {
		t.Errorf("Statistics(marketing) = %+v, want 1 event, 1 lead, 0 errors", stats)
	}
}

func TestStatisticsTruncatesAtLeadCap(t *testing.T) {
	q, store := newTestQueryEngine(t)
	q.leadCap = 3

	events := make([]Event, 5)
	for i := range events {
		events[i] = Event{
			Timestamp: ts(9),
			EventType: EventLeadIngested,
			Actor:     "system",
			LeadID:    fmt.Sprintf("LEAD-%03d", i+1),
			Workflow:  "sales",
		}
	}
	seedEvents(t, store, events)

	stats, err := q.Statistics("")
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if !stats.Truncated {
		t.Fatal("Truncated = false past the distinct-lead cap")
	}
	if stats.LeadsProcessed != 3 {
		t.Errorf("LeadsProcessed = %d, want 3 (capped)", stats.LeadsProcessed)
	}
	// The scan stops at the cap, so totals are partial too.
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
}

func TestQueryResultsDoNotAliasCache(t *testing.T) {
	q, store := newTestQueryEngine(t)
	seedEvents(t, store, []Event{
		{Timestamp: ts(9), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-001"},
	})

	filter := QueryFilter{LeadID: "LEAD-001"}
	first, err := q.Query(filter)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	first[0].EventType = "mangled-by-caller"

	// Served from cache, unaffected by the first caller's mutation.
	second, err := q.Query(filter)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if second[0].EventType != EventLeadIngested {
		t.Errorf("cached result event type = %q, caller mutation leaked into the cache", second[0].EventType)
	}
	second[0].LeadID = "LEAD-999"

	third, err := q.Query(filter)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if third[0].LeadID != "LEAD-001" {
		t.Errorf("cached result lead = %q, cache hit aliased a prior result", third[0].LeadID)
	}
}

func TestStatisticsMissingLog(t *testing.T) {
	q, _ := newTestQueryEngine(t)
	stats, err := q.Statistics("")
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalEvents != 0 || stats.LeadsProcessed != 0 {
		t.Errorf("Statistics() on missing log = %+v, want zeros", stats)
	}
}

func TestLeadHistory(t *testing.T) {
	q, store := newTestQueryEngine(t)
	seedEvents(t, store, []Event{
		{Timestamp: ts(9), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-001"},
		{Timestamp: ts(10), EventType: EventLeadIngested, Actor: "system", LeadID: "LEAD-002"},
		{Timestamp: ts(11), EventType: EventCRMCreate, Actor: "system", LeadID: "LEAD-001"},
	})

	got, err := q.LeadHistory("LEAD-001")
	if err != nil {
		t.Fatalf("LeadHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LeadHistory() returned %d events, want 2", len(got))
	}
	// Commit order is preserved.
	if got[0].EventType != EventLeadIngested || got[1].EventType != EventCRMCreate {
		t.Errorf("LeadHistory() order = %s, %s", got[0].EventType, got[1].EventType)
	}
}
