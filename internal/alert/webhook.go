// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/leadworks/auditflow/internal/audit"
	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/metrics"
	"github.com/leadworks/auditflow/internal/security"
	"github.com/leadworks/auditflow/internal/validation"
)

// Dispatcher defaults.
const (
	DefaultWebhookTimeout = 2 * time.Second
	DefaultWebhookWorkers = 8
	DefaultWebhookQueue   = 4096
	DefaultWebhookRate    = 50
)

// breakerTimeout is how long an open webhook circuit stays open before
// probing the target again.
const breakerTimeout = 30 * time.Second

// target is one registered webhook URL with its own circuit breaker, so
// a dead endpoint cannot burn worker time that healthy ones need.
type target struct {
	url     string
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// Dispatcher fans accepted audit events out to registered webhook URLs
// over a bounded worker pool. Deliveries are fire-and-forget: failures
// are logged and counted, never retried, never propagated to the
// ingestion path. Implements audit.Observer and suture.Service.
type Dispatcher struct {
	queue   chan audit.Event
	workers int
	client  *http.Client
	limiter *rate.Limiter
	monitor *security.Monitor

	mu      sync.RWMutex
	targets []*target

	logger zerolog.Logger
}

// DispatcherOptions configures a Dispatcher. Zero values fall back to
// package defaults.
type DispatcherOptions struct {
	Timeout       time.Duration
	Workers       int
	QueueSize     int
	RatePerSecond float64
}

// NewDispatcher creates a Dispatcher. The monitor may be nil.
func NewDispatcher(opts DispatcherOptions, monitor *security.Monitor) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWebhookTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWebhookWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultWebhookQueue
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultWebhookRate
	}

	return &Dispatcher{
		queue:   make(chan audit.Event, opts.QueueSize),
		workers: opts.Workers,
		client: &http.Client{
			// TLS certificate verification stays on: webhooks carry
			// audit data to external systems.
			Timeout: opts.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Workers),
		monitor: monitor,
		logger:  logging.With().Str("component", "webhooks").Logger(),
	}
}

// Register validates and adds a webhook URL. HTTPS is mandatory and the
// hostname must not resolve to loopback, private, link-local, or
// metadata ranges. Validation happens once here, not per dispatch; a
// rejected URL is recorded as a security event.
func (d *Dispatcher) Register(rawURL string) error {
	normalized, err := validation.WebhookURL(rawURL)
	if err != nil {
		metrics.RecordSecurityEvent(security.EventWebhookRejected)
		if d.monitor != nil {
			d.monitor.Record(security.EventWebhookRejected, map[string]string{
				"error": err.Error(),
			})
		}
		return fmt.Errorf("webhook registration rejected: %w", err)
	}

	d.addTarget(normalized)
	d.logger.Info().Str("url", normalized).Msg("Webhook registered")
	return nil
}

// addTarget wires a breaker around an already validated URL.
func (d *Dispatcher) addTarget(url string) {
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    url,
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			d.logger.Info().Str("target", name).Str("from", from.String()).Str("to", to.String()).Msg("Webhook circuit state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(url).Set(0)

	d.mu.Lock()
	d.targets = append(d.targets, &target{url: url, breaker: breaker})
	d.mu.Unlock()
}

// Targets returns the registered webhook URLs.
func (d *Dispatcher) Targets() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	urls := make([]string, len(d.targets))
	for i, t := range d.targets {
		urls[i] = t.url
	}
	return urls
}

// ObserveEvent implements audit.Observer. Enqueues the event for
// delivery without blocking; when the delivery queue is saturated the
// event is dropped, keeping the ingestion path unaffected.
func (d *Dispatcher) ObserveEvent(ev audit.Event) {
	d.mu.RLock()
	hasTargets := len(d.targets) > 0
	d.mu.RUnlock()
	if !hasTargets {
		return
	}

	select {
	case d.queue <- ev:
		metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
	default:
		metrics.RecordWebhookDelivery("rejected", 0)
		d.logger.Warn().Str("event_type", ev.EventType).Msg("Webhook queue saturated, dropping delivery")
	}
}

// Serve runs the delivery worker pool until the context is cancelled.
// Implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (d *Dispatcher) String() string {
	return "webhook-dispatcher"
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
			d.deliver(ctx, ev)
		}
	}
}

// deliver posts one event to every registered target.
func (d *Dispatcher) deliver(ctx context.Context, ev audit.Event) {
	payload, err := json.Marshal(&ev)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to serialize webhook payload")
		return
	}

	d.mu.RLock()
	targets := d.targets
	d.mu.RUnlock()

	for _, t := range targets {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		_, err := t.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, d.post(ctx, t.url, payload)
		})
		elapsed := time.Since(start)

		switch {
		case err == nil:
			metrics.RecordWebhookDelivery("success", elapsed)
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.RecordWebhookDelivery("rejected", elapsed)
		default:
			metrics.RecordWebhookDelivery("failure", elapsed)
			if isTLSError(err) {
				// A certificate failure on a validated HTTPS target is an
				// interception indicator, not a routine delivery error.
				metrics.RecordSecurityEvent(security.EventWebhookTLSError)
				if d.monitor != nil {
					d.monitor.Record(security.EventWebhookTLSError, map[string]string{
						"url":   truncate(t.url, 100),
						"error": truncate(err.Error(), 200),
					})
				}
			}
			d.logger.Warn().Err(err).Str("url", t.url).Msg("Webhook delivery failed")
		}
	}
}

// post sends one HTTP POST with the raw event JSON.
func (d *Dispatcher) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Auditflow/1.0")
	req.Header.Set("X-Auditflow-Delivery", uuid.NewString())

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// isTLSError reports whether a delivery failure came from certificate
// verification rather than the remote application.
func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	return errors.As(err, &certErr) || errors.As(err, &authErr) || errors.As(err, &hostErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
