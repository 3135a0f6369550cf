// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/metrics"
)

// Pipeline defaults.
const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultQueueCapacity = 65536
)

// flushPoll paces the bounded wait inside Flush.
const (
	flushPollInterval = 20 * time.Millisecond
	flushPollTimeout  = 5 * time.Second
)

// pipeline is the single background consumer that drains the producer
// queue and appends batches to the log store. The queue is bounded:
// when it saturates, new events are dropped rather than blocking the
// producer, and the drop is surfaced as a security event by the caller.
type pipeline struct {
	store *logStore
	rot   *rotator

	queue    chan *Event
	flushReq chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// pending counts events enqueued but not yet durably written.
	// Flush polls it to observe the queue draining.
	pending atomic.Int64

	logger zerolog.Logger
}

func newPipeline(store *logStore, rot *rotator, queueCapacity, batchSize int, flushInterval time.Duration) *pipeline {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	p := &pipeline{
		store:         store,
		rot:           rot,
		queue:         make(chan *Event, queueCapacity),
		flushReq:      make(chan struct{}, 1),
		stop:          make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logging.With().Str("component", "pipeline").Logger(),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// enqueue submits an event for durable write. Returns false when the
// queue is saturated; the event is dropped and the caller records the
// drop. Never blocks.
func (p *pipeline) enqueue(ev *Event) bool {
	select {
	case p.queue <- ev:
		p.pending.Add(1)
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		return false
	}
}

// run is the consumer loop. It accumulates a batch and flushes when the
// batch is full, the flush interval elapses, or an explicit flush is
// requested. On stop it drains the queue and performs a final flush.
func (p *pipeline) run() {
	defer p.wg.Done()

	batch := make([]*Event, 0, p.batchSize)
	timer := time.NewTimer(p.flushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) > 0 {
			p.writeBatch(batch)
			batch = batch[:0]
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.flushInterval)
	}

	for {
		select {
		case <-p.stop:
			// Drain whatever producers managed to enqueue, then stop.
			for {
				select {
				case ev := <-p.queue:
					batch = append(batch, ev)
					if len(batch) >= p.batchSize {
						p.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						p.writeBatch(batch)
					}
					return
				}
			}
		case ev := <-p.queue:
			batch = append(batch, ev)
			metrics.QueueDepth.Set(float64(len(p.queue)))
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-p.flushReq:
			flush()
		case <-timer.C:
			flush()
		}
	}
}

// writeBatch serializes and appends one batch. The whole batch is
// retried once on failure, then degraded to per-event writes so one
// unwritable event cannot take down its neighbors. Irrecoverable
// events are logged and dropped; the consumer never terminates on a
// bad batch.
func (p *pipeline) writeBatch(batch []*Event) {
	start := time.Now()

	if err := p.rot.maybeRotate(); err != nil {
		p.logger.Error().Err(err).Msg("Log rotation failed")
	}

	lines := make([][]byte, 0, len(batch))
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error().Err(err).Str("event_type", ev.EventType).Msg("Failed to serialize audit event")
			metrics.WriteErrors.Inc()
			continue
		}
		lines = append(lines, data)
	}

	if err := p.store.Append(lines); err != nil {
		p.logger.Error().Err(err).Int("batch", len(lines)).Msg("Batch write failed, retrying per event")
		for _, line := range lines {
			if err := p.store.Append([][]byte{line}); err != nil {
				p.logger.Error().Err(err).Msg("Failed to write single audit event, dropping")
				metrics.WriteErrors.Inc()
			}
		}
	}

	p.pending.Add(int64(-len(batch)))
	metrics.QueueDepth.Set(float64(len(p.queue)))
	metrics.RecordFlush(len(batch), time.Since(start))
	metrics.ActiveLogSize.Set(float64(p.store.Size()))
	p.logger.Debug().Int("events", len(batch)).Msg("Flushed audit events")
}

// Flush requests an immediate flush and waits, with a bounded poll, for
// the queue to observably drain. Intended for operational tooling and
// tests, not for event producers.
func (p *pipeline) Flush() error {
	select {
	case p.flushReq <- struct{}{}:
	default:
	}

	deadline := time.Now().Add(flushPollTimeout)
	for time.Now().Before(deadline) {
		if p.pending.Load() == 0 {
			return nil
		}
		select {
		case p.flushReq <- struct{}{}:
		default:
		}
		time.Sleep(flushPollInterval)
	}
	return ErrFlushTimeout
}

// Shutdown stops the consumer after a final flush of everything already
// enqueued. Returns ErrShutdownTimeout if the consumer does not finish
// within the timeout.
func (p *pipeline) Shutdown(timeout time.Duration) error {
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}
