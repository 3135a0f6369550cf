// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/audit"
	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/metrics"
)

// Manager defaults.
const (
	DefaultErrorThreshold = 10
	DefaultCooldown       = 5 * time.Minute
)

// Manager counts error-typed audit events and fires every registered
// notifier when the count reaches the threshold, at most once per
// cooldown window. The counter resets after each alert. Implements
// audit.Observer; it runs on the ingestion path, so firing happens on a
// detached goroutine.
type Manager struct {
	mu         sync.Mutex
	threshold  int
	cooldown   time.Duration
	errorCount int
	lastAlert  time.Time
	notifiers  []Notifier

	// now is swapped in tests to step through cooldown windows.
	now func() time.Time

	logger zerolog.Logger
}

// NewManager creates a Manager. Threshold and cooldown fall back to the
// defaults when zero or negative.
func NewManager(threshold int, cooldown time.Duration) *Manager {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Manager{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logging.With().Str("component", "alerts").Logger(),
	}
}

// AddNotifier registers a notification sink.
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// ObserveEvent implements audit.Observer. Only error-typed events move
// the counter.
func (m *Manager) ObserveEvent(ev audit.Event) {
	if ev.EventType != audit.EventError {
		return
	}

	m.mu.Lock()
	m.errorCount++
	fire := m.errorCount >= m.threshold && m.now().Sub(m.lastAlert) >= m.cooldown
	count := m.errorCount
	if fire {
		m.errorCount = 0
		m.lastAlert = m.now()
	}
	notifiers := m.notifiers
	m.mu.Unlock()

	if !fire {
		return
	}

	message := fmt.Sprintf(
		"%d error events recorded since the last alert. Latest: workflow=%s lead=%s at %s.",
		count, ev.Workflow, ev.LeadID, ev.Timestamp,
	)
	m.logger.Warn().Int("errors", count).Msg("Error threshold exceeded, dispatching alerts")

	go m.notifyAll(notifiers, message)
}

// notifyAll invokes every sink. A failing sink is logged and skipped;
// one broken channel must not silence the others.
func (m *Manager) notifyAll(notifiers []Notifier, message string) {
	for _, n := range notifiers {
		if err := n.Notify(message); err != nil {
			m.logger.Error().Err(err).Str("channel", n.Name()).Msg("Alert delivery failed")
			continue
		}
		metrics.AlertsTriggered.WithLabelValues(n.Name()).Inc()
	}
}

// ErrorCount returns the rolling error counter, for health endpoints.
func (m *Manager) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount
}
