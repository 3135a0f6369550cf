// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	starts atomic.Int64
	fail   atomic.Bool
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.fail.Load() {
		s.fail.Store(false)
		return io.ErrUnexpectedEOF
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return "counting-service" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(testLogger(), DefaultTreeConfig())

	svc := &countingService{}
	tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && svc.starts.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.starts.Load() == 0 {
		t.Fatal("service never started")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after context cancellation")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   50 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	svc := &countingService{}
	svc.fail.Store(true)
	tree.AddAPIService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	// The first run fails; the supervisor restarts it.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && svc.starts.Load() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.starts.Load() < 2 {
		t.Errorf("service started %d times, want a restart after failure", svc.starts.Load())
	}
}

func TestTreeConfigDefaults(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", tree.config.ShutdownTimeout)
	}
}
