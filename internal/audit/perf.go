// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"sort"
	"sync"
)

// maxPerfSamples caps the per-operation sample list; older samples are
// discarded first.
const maxPerfSamples = 1000

// PerfStats summarizes the recorded latencies of one operation, in
// seconds. Percentiles degrade to the maximum for small sample counts:
// p95 needs more than 20 samples, p99 more than 100.
type PerfStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// PerfTracker records operation latencies for percentile reporting.
type PerfTracker struct {
	mu      sync.Mutex
	samples map[string][]float64
}

// NewPerfTracker creates an empty tracker.
func NewPerfTracker() *PerfTracker {
	return &PerfTracker{samples: make(map[string][]float64)}
}

// Record appends one latency sample for the operation.
func (t *PerfTracker) Record(operation string, seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := append(t.samples[operation], seconds)
	if len(s) > maxPerfSamples {
		s = s[len(s)-maxPerfSamples:]
	}
	t.samples[operation] = s
}

// Stats computes statistics for one operation, or for every operation
// when the name is empty. Operations with no samples are omitted.
func (t *PerfTracker) Stats(operation string) map[string]PerfStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]PerfStats)
	if operation != "" {
		if s := t.samples[operation]; len(s) > 0 {
			out[operation] = summarize(s)
		}
		return out
	}
	for op, s := range t.samples {
		if len(s) > 0 {
			out[op] = summarize(s)
		}
	}
	return out
}

func summarize(samples []float64) PerfStats {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	n := len(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	stats := PerfStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[n-1],
		P99:   sorted[n-1],
	}
	if n > 20 {
		stats.P95 = sorted[int(float64(n)*0.95)]
	}
	if n > 100 {
		stats.P99 = sorted[int(float64(n)*0.99)]
	}
	return stats
}
