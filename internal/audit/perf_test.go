// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"math"
	"testing"
)

func TestPerfTrackerStats(t *testing.T) {
	pt := NewPerfTracker()
	for i := 1; i <= 200; i++ {
		pt.Record("query", float64(i)/1000)
	}

	stats := pt.Stats("query")["query"]
	if stats.Count != 200 {
		t.Fatalf("Count = %d, want 200", stats.Count)
	}
	if stats.Min != 0.001 {
		t.Errorf("Min = %v, want 0.001", stats.Min)
	}
	if stats.Max != 0.2 {
		t.Errorf("Max = %v, want 0.2", stats.Max)
	}
	if math.Abs(stats.Avg-0.1005) > 1e-9 {
		t.Errorf("Avg = %v, want 0.1005", stats.Avg)
	}
	if stats.P50 != 0.101 {
		t.Errorf("P50 = %v, want 0.101", stats.P50)
	}
	if stats.P95 != 0.191 {
		t.Errorf("P95 = %v, want 0.191", stats.P95)
	}
	if stats.P99 != 0.199 {
		t.Errorf("P99 = %v, want 0.199", stats.P99)
	}
}

func TestPerfTrackerSmallSampleDegradation(t *testing.T) {
	// With few samples, tail percentiles fall back to the maximum
	// instead of extrapolating.
	pt := NewPerfTracker()
	for i := 1; i <= 10; i++ {
		pt.Record("flush", float64(i))
	}

	stats := pt.Stats("flush")["flush"]
	if stats.P95 != stats.Max {
		t.Errorf("P95 = %v with 10 samples, want max %v", stats.P95, stats.Max)
	}
	if stats.P99 != stats.Max {
		t.Errorf("P99 = %v with 10 samples, want max %v", stats.P99, stats.Max)
	}

	// Past 20 samples p95 becomes a real percentile; p99 still degrades.
	for i := 11; i <= 50; i++ {
		pt.Record("flush", float64(i))
	}
	stats = pt.Stats("flush")["flush"]
	if stats.P95 == stats.Max {
		t.Error("P95 should no longer degrade to max with 50 samples")
	}
	if stats.P99 != stats.Max {
		t.Errorf("P99 = %v with 50 samples, want max %v", stats.P99, stats.Max)
	}
}

func TestPerfTrackerSampleCap(t *testing.T) {
	pt := NewPerfTracker()
	for i := 0; i < maxPerfSamples+500; i++ {
		pt.Record("rotate", float64(i))
	}

	stats := pt.Stats("rotate")["rotate"]
	if stats.Count != maxPerfSamples {
		t.Errorf("Count = %d, want cap %d", stats.Count, maxPerfSamples)
	}
	// Oldest samples are discarded first.
	if stats.Min != 500 {
		t.Errorf("Min = %v, want 500 after cap eviction", stats.Min)
	}
}

func TestPerfTrackerAllOperations(t *testing.T) {
	pt := NewPerfTracker()
	pt.Record("query", 0.01)
	pt.Record("flush", 0.02)

	all := pt.Stats("")
	if len(all) != 2 {
		t.Fatalf("Stats(\"\") returned %d operations, want 2", len(all))
	}
	if _, ok := all["query"]; !ok {
		t.Error("missing query stats")
	}
	if _, ok := all["flush"]; !ok {
		t.Error("missing flush stats")
	}

	if got := pt.Stats("missing"); len(got) != 0 {
		t.Errorf("Stats(missing) returned %d entries, want 0", len(got))
	}
}

func TestPerfTrackerSingleSample(t *testing.T) {
	pt := NewPerfTracker()
	pt.Record("verify", 0.5)

	stats := pt.Stats("verify")["verify"]
	if stats.Count != 1 || stats.Min != 0.5 || stats.Max != 0.5 || stats.P50 != 0.5 {
		t.Errorf("single-sample stats = %+v", stats)
	}
}
