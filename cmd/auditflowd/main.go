// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package main is the entry point for the Auditflow daemon.
//
// Auditflow is a single-process, tamper-evident audit log for lead
// automation systems. The daemon assembles the audit pipeline, wires
// the alert and webhook observers, and runs the background services
// (retention sweeper, webhook dispatcher, operational HTTP API) under
// a supervisor tree.
//
// Configuration is loaded via Koanf with layered sources, highest
// priority last: built-in defaults, an optional YAML file (auditflow.yaml
// or AUDITFLOW_CONFIG), then AUDITFLOW_* environment variables.
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the
// supervisor tree stops its services, then the audit logger performs a
// final flush before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/leadworks/auditflow/internal/alert"
	"github.com/leadworks/auditflow/internal/audit"
	"github.com/leadworks/auditflow/internal/config"
	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/metrics"
	"github.com/leadworks/auditflow/internal/ops"
	"github.com/leadworks/auditflow/internal/ratelimit"
	"github.com/leadworks/auditflow/internal/security"
	"github.com/leadworks/auditflow/internal/supervisor"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "auditflow: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("Starting Auditflow")
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	monitor := security.NewMonitor(cfg.Security.SideLogFile, cfg.Security.RingSize)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Burst, cfg.RateLimit.MaxKeys)
	}

	auditLogger, err := audit.New(&audit.Config{
		File:             cfg.Audit.File,
		MaxFileSizeMB:    cfg.Audit.MaxFileSizeMB,
		RetentionDays:    cfg.Audit.RetentionDays,
		BufferSize:       cfg.Audit.BufferSize,
		FlushInterval:    cfg.Audit.FlushInterval,
		QueueCapacity:    cfg.Audit.QueueCapacity,
		QueryCacheSize:   cfg.Audit.QueryCacheSize,
		QueryCacheTTL:    cfg.Audit.QueryCacheTTL,
		CompressionLevel: cfg.Audit.CompressionLevel,
		SecretFile:       cfg.Audit.SecretFile,
		AnonymizePII:     cfg.Audit.AnonymizePII,
	}, limiter, monitor)
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}

	// Alerting: error threshold manager plus optional email sink.
	alertManager := alert.NewManager(cfg.Alerts.ErrorThreshold, cfg.Alerts.Cooldown)
	if cfg.Alerts.SMTPHost != "" {
		emailer, err := alert.NewEmailNotifier(cfg.Alerts.SMTPHost, cfg.Alerts.SMTPPort, cfg.Alerts.SMTPFrom, cfg.Alerts.AlertTo)
		if err != nil {
			return fmt.Errorf("email notifier: %w", err)
		}
		alertManager.AddNotifier(emailer)
	}
	auditLogger.AddObserver(alertManager)

	// Webhook fan-out. A URL that fails SSRF validation aborts startup
	// rather than being silently skipped.
	dispatcher := alert.NewDispatcher(alert.DispatcherOptions{
		Timeout:       cfg.Alerts.WebhookTimeout,
		Workers:       cfg.Alerts.WebhookWorkers,
		QueueSize:     cfg.Alerts.WebhookQueueSize,
		RatePerSecond: cfg.Alerts.WebhookRatePerSecond,
	}, monitor)
	for _, url := range cfg.Alerts.WebhookURLs {
		if err := dispatcher.Register(url); err != nil {
			return err
		}
	}
	auditLogger.AddObserver(dispatcher)

	// Supervised background services.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(audit.NewRetentionSweeper(auditLogger, cfg.Audit.RetentionSweepInterval))
	if len(cfg.Alerts.WebhookURLs) > 0 {
		tree.AddPipelineService(dispatcher)
	}
	if cfg.Server.Enabled {
		tree.AddAPIService(ops.NewServer(ops.Options{
			Host:          cfg.Server.Host,
			Port:          cfg.Server.Port,
			Timeout:       cfg.Server.Timeout,
			RateLimitReqs: cfg.Server.RateLimitReqs,
		}, auditLogger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	startedAt := time.Now()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.AppUptime.Set(time.Since(startedAt).Seconds())
			}
		}
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	// Final flush: events accepted before the signal must reach disk.
	if err := auditLogger.Shutdown(shutdownTimeout); err != nil {
		logging.Error().Err(err).Msg("Audit logger shutdown incomplete")
		return err
	}

	logging.Info().Msg("Auditflow stopped")
	return nil
}
