// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestPipeline(t *testing.T, queueCapacity, batchSize int, flushInterval time.Duration) (*pipeline, *logStore) {
	t.Helper()
	store, err := newLogStore(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("newLogStore() error = %v", err)
	}
	rot := newRotator(store, 50, 6, 90, nil)
	p := newPipeline(store, rot, queueCapacity, batchSize, flushInterval)
	t.Cleanup(func() { p.Shutdown(5 * time.Second) })
	return p, store
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() != "" {
			n++
		}
	}
	return n
}

func TestPipelineFlush(t *testing.T) {
	p, store := newTestPipeline(t, 1024, 100, time.Hour)

	for i := 0; i < 7; i++ {
		ev := &Event{Timestamp: newTimestamp(), EventType: EventLeadIngested, Actor: "system"}
		if !p.enqueue(ev) {
			t.Fatal("enqueue() = false with spare capacity")
		}
	}

	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := countLines(t, store.Path()); got != 7 {
		t.Errorf("log holds %d events after flush, want 7", got)
	}
}

func TestPipelineBatchSizeTriggersFlush(t *testing.T) {
	p, store := newTestPipeline(t, 1024, 5, time.Hour)

	for i := 0; i < 5; i++ {
		p.enqueue(&Event{Timestamp: newTimestamp(), EventType: EventError, Actor: "system"})
	}

	// A full batch flushes without an explicit request or timer.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countLines(t, store.Path()) == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("log holds %d events, want 5 from batch-size flush", countLines(t, store.Path()))
}

func TestPipelineIntervalTriggersFlush(t *testing.T) {
	p, store := newTestPipeline(t, 1024, 100, 50*time.Millisecond)

	p.enqueue(&Event{Timestamp: newTimestamp(), EventType: EventError, Actor: "system"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countLines(t, store.Path()) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("interval flush never wrote the event")
}

func TestPipelineShutdownDrains(t *testing.T) {
	store, err := newLogStore(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	p := newPipeline(store, newRotator(store, 50, 6, 90, nil), 1024, 100, time.Hour)

	for i := 0; i < 42; i++ {
		p.enqueue(&Event{Timestamp: newTimestamp(), EventType: EventLeadIngested, Actor: "system"})
	}

	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := countLines(t, store.Path()); got != 42 {
		t.Errorf("log holds %d events after shutdown, want 42", got)
	}
}

func TestEnqueueSaturatedQueue(t *testing.T) {
	// No consumer: the queue fills and enqueue must refuse without
	// blocking.
	p := &pipeline{queue: make(chan *Event, 2)}

	ev := &Event{Timestamp: newTimestamp(), EventType: EventError, Actor: "system"}
	if !p.enqueue(ev) || !p.enqueue(ev) {
		t.Fatal("enqueue() = false with spare capacity")
	}

	done := make(chan bool, 1)
	go func() { done <- p.enqueue(ev) }()
	select {
	case accepted := <-done:
		if accepted {
			t.Error("enqueue() = true on a saturated queue")
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue() blocked on a saturated queue")
	}
}

func TestPipelineConcurrentProducers(t *testing.T) {
	p, store := newTestPipeline(t, 4096, 50, time.Hour)

	const producers = 8
	const perProducer = 25

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				p.enqueue(&Event{Timestamp: newTimestamp(), EventType: EventLeadIngested, Actor: "system"})
			}
		}()
	}
	wg.Wait()

	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := countLines(t, store.Path()); got != producers*perProducer {
		t.Errorf("log holds %d events, want %d", got, producers*perProducer)
	}
}

func TestPipelineFlushEmptyQueue(t *testing.T) {
	p, _ := newTestPipeline(t, 16, 100, time.Hour)
	if err := p.Flush(); err != nil {
		t.Errorf("Flush() on empty queue error = %v", err)
	}
}
