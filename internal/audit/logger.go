// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/metrics"
	"github.com/leadworks/auditflow/internal/ratelimit"
	"github.com/leadworks/auditflow/internal/security"
	"github.com/leadworks/auditflow/internal/validation"
)

// Config holds configuration for the audit logger.
type Config struct {
	// File is the active audit log path.
	File string

	// MaxFileSizeMB triggers rotation past this size.
	MaxFileSizeMB int

	// RetentionDays bounds archive age.
	RetentionDays int

	// BufferSize is the flush batch size.
	BufferSize int

	// FlushInterval is the maximum buffering delay.
	FlushInterval time.Duration

	// QueueCapacity bounds the producer queue.
	QueueCapacity int

	// QueryCacheSize and QueryCacheTTL shape the query result cache.
	QueryCacheSize int
	QueryCacheTTL  time.Duration

	// CompressionLevel is the gzip level for rotated archives.
	CompressionLevel int

	// SecretFile holds the HMAC signing secret. Empty disables
	// integrity signing.
	SecretFile string

	// AnonymizePII enables compliance mode at construction. It can be
	// toggled later with SetComplianceMode.
	AnonymizePII bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		File:             "logs/audit.log",
		MaxFileSizeMB:    50,
		RetentionDays:    90,
		BufferSize:       defaultBatchSize,
		FlushInterval:    defaultFlushInterval,
		QueueCapacity:    defaultQueueCapacity,
		QueryCacheSize:   128,
		QueryCacheTTL:    30 * time.Second,
		CompressionLevel: 6,
		SecretFile:       "config/.audit_secret",
	}
}

// Logger is the audit logging service. One instance per process,
// constructed at startup and passed to callers explicitly.
//
// Record and its convenience wrappers are safe for concurrent use and
// never block on disk: they validate, rate limit, sign, and enqueue.
// A single background consumer owns all file I/O.
type Logger struct {
	cfg *Config

	store    *logStore
	rotator  *rotator
	pipeline *pipeline
	queries  *queryEngine
	signer   *Signer

	limiter    *ratelimit.Limiter
	monitor    *security.Monitor
	anonymizer *security.Anonymizer
	perf       *PerfTracker

	obsMu     sync.RWMutex
	observers []Observer

	closed atomic.Bool
	logger zerolog.Logger
}

// New creates a Logger. The limiter may be nil to disable rate
// limiting; the monitor may be nil to disable security event capture.
func New(cfg *Config, limiter *ratelimit.Limiter, monitor *security.Monitor) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	store, err := newLogStore(cfg.File)
	if err != nil {
		return nil, err
	}

	var signer *Signer
	if cfg.SecretFile != "" {
		secret, generated, err := LoadOrCreateSecret(cfg.SecretFile)
		if err != nil {
			return nil, err
		}
		signer, err = NewSigner(secret)
		if err != nil {
			return nil, err
		}
		if generated && monitor != nil {
			monitor.Record(security.EventSecretGenerated, map[string]string{"path": cfg.SecretFile})
		}
	}

	l := &Logger{
		cfg:        cfg,
		store:      store,
		signer:     signer,
		limiter:    limiter,
		monitor:    monitor,
		anonymizer: security.NewAnonymizer(),
		perf:       NewPerfTracker(),
		logger:     logging.With().Str("component", "audit").Logger(),
	}
	l.anonymizer.SetEnabled(cfg.AnonymizePII)

	l.queries = newQueryEngine(store, cfg.QueryCacheSize, cfg.QueryCacheTTL)
	l.rotator = newRotator(store, cfg.MaxFileSizeMB, cfg.CompressionLevel, cfg.RetentionDays, l.queries.Purge)
	l.pipeline = newPipeline(store, l.rotator, cfg.QueueCapacity, cfg.BufferSize, cfg.FlushInterval)

	l.logger.Info().Str("file", cfg.File).Bool("integrity", signer != nil).Msg("Audit logger initialized")
	return l, nil
}

// AddObserver registers an observer for accepted events. Observers run
// on the producer path and must not block.
func (l *Logger) AddObserver(o Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

// Record logs an audit event.
//
// Validation failures are returned to the caller as *validation.Error
// and recorded as security events; nothing is enqueued. Rate-limited
// events are silently dropped (nil error) with a security event, a
// deliberate backpressure policy: ingestion must never block or fail
// under load. Queue saturation likewise drops the event with a
// security event rather than blocking.
func (l *Logger) Record(eventType string, details map[string]interface{}, actor, leadID, workflow string) error {
	if l.closed.Load() {
		return ErrLoggerClosed
	}

	eventType, err := validation.EventType(eventType)
	if err != nil {
		l.rejectInvalid(eventType, leadID, err)
		return err
	}
	actor = validation.Actor(actor)
	if leadID != "" {
		if leadID, err = validation.LeadID(leadID); err != nil {
			l.rejectInvalid(eventType, leadID, err)
			return err
		}
	}
	if workflow != "" {
		if workflow, err = validation.Workflow(workflow); err != nil {
			l.rejectInvalid(eventType, leadID, err)
			return err
		}
	}
	if err := validation.Details(details); err != nil {
		l.rejectInvalid(eventType, leadID, err)
		return err
	}

	if l.limiter != nil {
		key := ratelimit.Key(workflow, leadID)
		if !l.limiter.Allow(key) {
			metrics.EventsRejected.WithLabelValues("rate_limit").Inc()
			metrics.RateLimitBlocks.WithLabelValues(key).Inc()
			l.securityEvent(security.EventRateLimited, map[string]string{
				"key":   key,
				"limit": strconv.Itoa(l.limiter.Snapshot().Burst),
			})
			return nil
		}
	}

	details = l.anonymizer.Anonymize(details)

	ev := &Event{
		Timestamp: newTimestamp(),
		EventType: eventType,
		Actor:     actor,
		LeadID:    leadID,
		Workflow:  workflow,
		Details:   details,
	}
	if l.signer != nil {
		if err := l.signer.SignEvent(ev); err != nil {
			return fmt.Errorf("failed to sign event: %w", err)
		}
	}

	if !l.pipeline.enqueue(ev) {
		metrics.EventsRejected.WithLabelValues("queue_full").Inc()
		l.securityEvent(security.EventQueueSaturated, map[string]string{"event_type": eventType})
		return nil
	}
	metrics.EventsRecorded.WithLabelValues(eventType).Inc()

	l.obsMu.RLock()
	observers := l.observers
	l.obsMu.RUnlock()
	for _, o := range observers {
		o.ObserveEvent(*ev)
	}

	return nil
}

// rejectInvalid records a validation failure as a security event.
func (l *Logger) rejectInvalid(eventType, leadID string, err error) {
	metrics.EventsRejected.WithLabelValues("validation").Inc()
	details := map[string]string{
		"event_type": truncate(eventType, 50),
		"error":      truncate(err.Error(), 200),
	}
	if leadID != "" {
		details["lead_id"] = truncate(leadID, 50)
	}
	l.securityEvent(security.EventValidationFailed, details)
}

func (l *Logger) securityEvent(eventType string, details map[string]string) {
	metrics.RecordSecurityEvent(eventType)
	if l.monitor != nil {
		l.monitor.Record(eventType, details)
	}
}

// Flush forces an immediate flush and waits, bounded, for the queue to
// drain.
func (l *Logger) Flush() error {
	return l.pipeline.Flush()
}

// Shutdown flushes remaining events and stops the background consumer.
// Record calls after Shutdown return ErrLoggerClosed.
func (l *Logger) Shutdown(timeout time.Duration) error {
	if l.closed.Swap(true) {
		return nil
	}
	l.logger.Info().Msg("Shutting down audit logger")
	err := l.pipeline.Shutdown(timeout)
	l.logger.Info().Msg("Audit logger shutdown complete")
	return err
}

// Query returns events matching the filter.
func (l *Logger) Query(filter QueryFilter) ([]Event, error) {
	return l.queries.Query(filter)
}

// Statistics aggregates the full log, optionally filtered by workflow.
func (l *Logger) Statistics(workflow string) (*Statistics, error) {
	return l.queries.Statistics(workflow)
}

// LeadHistory returns the complete audit trail for one lead.
func (l *Logger) LeadHistory(leadID string) ([]Event, error) {
	leadID, err := validation.LeadID(leadID)
	if err != nil {
		return nil, err
	}
	return l.queries.LeadHistory(leadID)
}

// VerifyIntegrity runs the offline signature check over the active log.
func (l *Logger) VerifyIntegrity() (*VerifyReport, error) {
	if l.signer == nil {
		return nil, fmt.Errorf("integrity signing is disabled")
	}
	if err := l.Flush(); err != nil {
		return nil, err
	}
	report, err := l.signer.VerifyLogFile(l.store.Path())
	if err != nil {
		return nil, err
	}
	if len(report.Invalid) > 0 {
		metrics.SignatureFailures.Add(float64(len(report.Invalid)))
		l.securityEvent(security.EventSignatureInvalid, map[string]string{
			"invalid_lines": strconv.Itoa(len(report.Invalid)),
		})
	}
	return report, nil
}

// RateLimitStats exposes limiter state for health dashboards.
func (l *Logger) RateLimitStats() ratelimit.Stats {
	if l.limiter == nil {
		return ratelimit.Stats{}
	}
	return l.limiter.Snapshot()
}

// SecurityEvents returns recent security events from the monitor ring.
func (l *Logger) SecurityEvents(eventType string, limit int) []security.Event {
	if l.monitor == nil {
		return nil
	}
	return l.monitor.Recent(eventType, limit)
}

// TrackPerformance records one operation latency sample.
func (l *Logger) TrackPerformance(operation string, seconds float64) {
	l.perf.Record(operation, seconds)
}

// PerformanceStats returns latency statistics per operation.
func (l *Logger) PerformanceStats(operation string) map[string]PerfStats {
	return l.perf.Stats(operation)
}

// CacheStats returns query cache statistics.
func (l *Logger) CacheStats() (hits, misses int64, size int) {
	return l.queries.CacheStats()
}

// SetComplianceMode toggles PII anonymization for subsequent events.
func (l *Logger) SetComplianceMode(anonymize bool) {
	l.anonymizer.SetEnabled(anonymize)
	l.logger.Info().Bool("anonymize_pii", anonymize).Msg("Compliance mode updated")
}

// truncate caps a string for inclusion in security event details.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
