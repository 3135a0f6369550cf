// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package config defines the Auditflow configuration and loads it from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, in increasing priority.
package config

import (
	"time"

	"github.com/leadworks/auditflow/internal/validation"
)

// Config is the root configuration.
type Config struct {
	Audit     AuditConfig     `koanf:"audit"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Security  SecurityConfig  `koanf:"security"`
	Alerts    AlertConfig     `koanf:"alerts"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// AuditConfig controls the audit log write path.
type AuditConfig struct {
	// File is the active audit log path.
	File string `koanf:"file" validate:"required"`

	// MaxFileSizeMB triggers rotation when the active log exceeds it.
	MaxFileSizeMB int `koanf:"max_file_size_mb" validate:"min=1,max=10240"`

	// RetentionDays bounds how long compressed archives are kept.
	RetentionDays int `koanf:"retention_days" validate:"min=1,max=3650"`

	// RetentionSweepInterval is how often the retention sweeper runs.
	RetentionSweepInterval time.Duration `koanf:"retention_sweep_interval"`

	// BufferSize is the batch size for buffered writes.
	BufferSize int `koanf:"buffer_size" validate:"min=1,max=10000"`

	// FlushInterval is the maximum time an event waits in the buffer.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// QueueCapacity bounds the in-flight event queue. Events beyond it
	// are dropped rather than blocking callers.
	QueueCapacity int `koanf:"queue_capacity" validate:"min=1"`

	// QueryCacheSize is the query result cache capacity.
	QueryCacheSize int `koanf:"query_cache_size" validate:"min=1,max=100000"`

	// QueryCacheTTL is how long cached query results stay valid.
	QueryCacheTTL time.Duration `koanf:"query_cache_ttl"`

	// CompressionLevel is the gzip level for rotated archives (1-9).
	CompressionLevel int `koanf:"compression_level" validate:"min=1,max=9"`

	// SecretFile holds the HMAC signing secret.
	SecretFile string `koanf:"secret_file" validate:"required"`

	// AnonymizePII enables compliance mode redaction of PII fields.
	AnonymizePII bool `koanf:"anonymize_pii"`
}

// RateLimitConfig controls per-source ingestion limits.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled"`
	Window  time.Duration `koanf:"window"`
	Burst   int           `koanf:"burst" validate:"min=1"`
	MaxKeys int           `koanf:"max_keys" validate:"min=1"`
}

// SecurityConfig controls the security event monitor.
type SecurityConfig struct {
	// SideLogFile is the JSONL security event log. Empty disables it.
	SideLogFile string `koanf:"side_log_file"`

	// RingSize bounds the in-memory security event history.
	RingSize int `koanf:"ring_size" validate:"min=1"`
}

// AlertConfig controls error threshold alerting and webhook fan-out.
type AlertConfig struct {
	// ErrorThreshold is the error event count that triggers an alert.
	ErrorThreshold int `koanf:"error_threshold" validate:"min=1"`

	// Cooldown suppresses repeat alerts after one fires.
	Cooldown time.Duration `koanf:"cooldown"`

	// WebhookURLs receive every recorded audit event.
	WebhookURLs []string `koanf:"webhook_urls"`

	// WebhookTimeout bounds a single delivery attempt.
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`

	// WebhookWorkers is the dispatcher pool size.
	WebhookWorkers int `koanf:"webhook_workers" validate:"min=1,max=64"`

	// WebhookQueueSize bounds pending deliveries.
	WebhookQueueSize int `koanf:"webhook_queue_size" validate:"min=1"`

	// WebhookRatePerSecond throttles outbound deliveries per target.
	WebhookRatePerSecond float64 `koanf:"webhook_rate_per_second"`

	// SMTP settings for email alerts. Host empty disables email.
	SMTPHost string   `koanf:"smtp_host"`
	SMTPPort int      `koanf:"smtp_port" validate:"min=0,max=65535"`
	SMTPFrom string   `koanf:"smtp_from"`
	AlertTo  []string `koanf:"alert_to"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs caps requests per client per minute on the API.
	RateLimitReqs int `koanf:"rate_limit_reqs" validate:"min=1"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns a Config with all default values. Defaults are applied
// first, then overridden by the config file and environment variables.
func Default() *Config {
	return &Config{
		Audit: AuditConfig{
			File:                   "logs/audit.log",
			MaxFileSizeMB:          50,
			RetentionDays:          90,
			RetentionSweepInterval: time.Hour,
			BufferSize:             100,
			FlushInterval:          5 * time.Second,
			QueueCapacity:          65536,
			QueryCacheSize:         128,
			QueryCacheTTL:          30 * time.Second,
			CompressionLevel:       6,
			SecretFile:             "config/.audit_secret",
			AnonymizePII:           false,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Window:  time.Second,
			Burst:   200,
			MaxKeys: 10000,
		},
		Security: SecurityConfig{
			SideLogFile: "logs/security_events.log",
			RingSize:    1000,
		},
		Alerts: AlertConfig{
			ErrorThreshold:       10,
			Cooldown:             5 * time.Minute,
			WebhookURLs:          []string{},
			WebhookTimeout:       2 * time.Second,
			WebhookWorkers:       8,
			WebhookQueueSize:     4096,
			WebhookRatePerSecond: 50,
			SMTPHost:             "",
			SMTPPort:             587,
			SMTPFrom:             "",
			AlertTo:              []string{},
		},
		Server: ServerConfig{
			Enabled:       true,
			Host:          "0.0.0.0",
			Port:          8437,
			Timeout:       30 * time.Second,
			RateLimitReqs: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c)
}
