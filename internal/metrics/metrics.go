// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package metrics provides Prometheus instrumentation for the audit
// pipeline: ingestion throughput, queue pressure, flush latency, log
// rotation, query cache efficiency, rate limiting, and webhook delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion Metrics
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_recorded_total",
			Help: "Total number of audit events accepted into the pipeline",
		},
		[]string{"event_type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_rejected_total",
			Help: "Total number of events rejected before enqueue",
		},
		[]string{"reason"}, // "validation", "rate_limit", "queue_full"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Current number of events waiting in the write queue",
		},
	)

	// Write Path Metrics
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_flush_duration_seconds",
			Help:    "Duration of batch flushes to disk in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_flush_batch_size",
			Help:    "Number of events in each batch flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		},
	)

	WriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_errors_total",
			Help: "Total number of failed event writes after retry",
		},
	)

	// Rotation Metrics
	Rotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_log_rotations_total",
			Help: "Total number of audit log rotations",
		},
	)

	RotationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_rotation_duration_seconds",
			Help:    "Duration of rotate-and-compress operations in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ArchivesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_archives_deleted_total",
			Help: "Total number of archives removed by retention cleanup",
		},
	)

	ActiveLogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_active_log_bytes",
			Help: "Current size of the active audit log file in bytes",
		},
	)

	// Query Cache Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_query_cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_query_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_query_duration_seconds",
			Help:    "Duration of audit log queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rate Limiting Metrics
	RateLimitBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_rate_limit_blocks_total",
			Help: "Total number of events dropped by the rate limiter",
		},
		[]string{"key"},
	)

	// Security Metrics
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_security_events_total",
			Help: "Total number of security events raised by the pipeline",
		},
		[]string{"type"},
	)

	SignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_signature_failures_total",
			Help: "Total number of signature verification failures",
		},
	)

	// Alert and Webhook Metrics
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_alerts_triggered_total",
			Help: "Total number of error threshold alerts fired",
		},
		[]string{"channel"}, // "email", "webhook"
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	WebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_webhook_duration_seconds",
			Help:    "Duration of webhook deliveries in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	WebhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_webhook_queue_depth",
			Help: "Current number of pending webhook deliveries",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audit_circuit_breaker_state",
			Help: "Webhook circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"target"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audit_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordFlush records a batch flush to disk.
func RecordFlush(batchSize int, duration time.Duration) {
	FlushBatchSize.Observe(float64(batchSize))
	FlushDuration.Observe(duration.Seconds())
}

// RecordRotation records a completed log rotation.
func RecordRotation(duration time.Duration) {
	Rotations.Inc()
	RotationDuration.Observe(duration.Seconds())
}

// RecordQuery records a query and whether it was served from cache.
func RecordQuery(duration time.Duration, cached bool) {
	QueryDuration.Observe(duration.Seconds())
	if cached {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// RecordWebhookDelivery records one webhook delivery attempt.
func RecordWebhookDelivery(result string, duration time.Duration) {
	WebhookDeliveries.WithLabelValues(result).Inc()
	WebhookDuration.Observe(duration.Seconds())
}

// RecordSecurityEvent records a security event by type.
func RecordSecurityEvent(eventType string) {
	SecurityEvents.WithLabelValues(eventType).Inc()
}
