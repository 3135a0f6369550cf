// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package security records pipeline security events and anonymizes PII
// before audit events are persisted.
package security

import (
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/logging"
)

// Well-known security event types raised by the pipeline.
const (
	EventValidationFailed = "validation_failed"
	EventRateLimited      = "rate_limit_exceeded"
	EventQueueSaturated   = "queue_saturated"
	EventSignatureInvalid = "signature_invalid"
	EventWebhookRejected  = "webhook_rejected"
	EventWebhookTLSError  = "webhook_tls_error"
	EventSecretGenerated  = "signing_secret_generated"
	EventInvalidEmail     = "invalid_email_logged"
)

// DefaultRingSize bounds the in-memory security event history.
const DefaultRingSize = 1000

// Event is a single security-relevant occurrence inside the pipeline.
type Event struct {
	Timestamp string            `json:"timestamp"`
	Type      string            `json:"type"`
	Details   map[string]string `json:"details,omitempty"`
}

// Monitor keeps a bounded in-memory ring of security events and mirrors
// each one to a JSONL side log and the structured logger. Recording never
// returns an error: a security event must not be able to fail the
// operation that raised it, so side log write failures are logged and
// swallowed.
type Monitor struct {
	mu       sync.RWMutex
	events   []Event
	ringSize int
	total    int64

	sidePath string
	logger   zerolog.Logger
}

// NewMonitor creates a Monitor. sidePath is the JSONL side log; empty
// disables the side log. ringSize <= 0 falls back to DefaultRingSize.
func NewMonitor(sidePath string, ringSize int) *Monitor {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Monitor{
		events:   make([]Event, 0, ringSize),
		ringSize: ringSize,
		sidePath: sidePath,
		logger:   logging.With().Str("component", "security").Logger(),
	}
}

// SetLogger replaces the monitor's logger. Useful for testing.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func (m *Monitor) SetLogger(l zerolog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l.With().Str("component", "security").Logger()
}

// Record registers a security event. The oldest event is dropped when the
// ring is full. Detail values are logged as-is, so callers must not pass
// raw PII; pass identifiers or anonymized tokens instead.
func (m *Monitor) Record(eventType string, details map[string]string) {
	ev := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Details:   details,
	}

	m.mu.Lock()
	if len(m.events) >= m.ringSize {
		m.events = m.events[1:]
	}
	m.events = append(m.events, ev)
	m.total++
	logger := m.logger
	sidePath := m.sidePath
	m.mu.Unlock()

	e := logger.Warn().Str("event", eventType)
	for k, v := range details {
		e = e.Str(k, v)
	}
	e.Msg("Security event")

	if sidePath != "" {
		if err := appendJSONL(sidePath, ev); err != nil {
			logger.Error().Err(err).Str("path", sidePath).Msg("Failed to write security side log")
		}
	}
}

// Recent returns up to limit events, newest first. An empty eventType
// matches all types; limit <= 0 means no limit.
func (m *Monitor) Recent(eventType string, limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, limit)
	for i := len(m.events) - 1; i >= 0; i-- {
		if eventType != "" && m.events[i].Type != eventType {
			continue
		}
		out = append(out, m.events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Total returns the count of events recorded since construction,
// including events already rotated out of the ring.
func (m *Monitor) Total() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// CountByType returns event counts per type for events still in the ring.
func (m *Monitor) CountByType() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, ev := range m.events {
		counts[ev.Type]++
	}
	return counts
}

// appendJSONL appends one JSON line to the side log, creating it 0600.
func appendJSONL(path string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}
