// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"auditflow.yaml",
	"auditflow.yml",
	"/etc/auditflow/config.yaml",
	"/etc/auditflow/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "AUDITFLOW_CONFIG"

// envPrefix namespaces Auditflow environment variables.
const envPrefix = "AUDITFLOW_"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// AUDITFLOW_AUDIT_FILE -> audit.file
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file.
// Returns the first path that exists, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are the config paths parsed as comma-separated slices
// when set from environment variables.
var sliceConfigPaths = []string{
	"alerts.webhook_urls",
	"alerts.alert_to",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as strings, the config wants slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML), skip.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - AUDITFLOW_AUDIT_FILE -> audit.file
//   - AUDITFLOW_RATE_LIMIT_BURST -> rate_limit.burst
//   - AUDITFLOW_ALERT_WEBHOOK_URLS -> alerts.webhook_urls
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	envMappings := map[string]string{
		// Audit write path
		"audit_file":              "audit.file",
		"audit_max_file_size_mb":  "audit.max_file_size_mb",
		"audit_retention_days":    "audit.retention_days",
		"audit_sweep_interval":    "audit.retention_sweep_interval",
		"audit_buffer_size":       "audit.buffer_size",
		"audit_flush_interval":    "audit.flush_interval",
		"audit_queue_capacity":    "audit.queue_capacity",
		"audit_query_cache_size":  "audit.query_cache_size",
		"audit_query_cache_ttl":   "audit.query_cache_ttl",
		"audit_compression_level": "audit.compression_level",
		"audit_secret_file":       "audit.secret_file",
		"audit_anonymize_pii":     "audit.anonymize_pii",

		// Rate limiting
		"rate_limit_enabled":  "rate_limit.enabled",
		"rate_limit_window":   "rate_limit.window",
		"rate_limit_burst":    "rate_limit.burst",
		"rate_limit_max_keys": "rate_limit.max_keys",

		// Security monitoring
		"security_side_log":  "security.side_log_file",
		"security_ring_size": "security.ring_size",

		// Alerting and webhooks
		"alert_error_threshold": "alerts.error_threshold",
		"alert_cooldown":        "alerts.cooldown",
		"alert_webhook_urls":    "alerts.webhook_urls",
		"alert_webhook_timeout": "alerts.webhook_timeout",
		"alert_webhook_workers": "alerts.webhook_workers",
		"alert_webhook_queue":   "alerts.webhook_queue_size",
		"alert_webhook_rate":    "alerts.webhook_rate_per_second",
		"alert_smtp_host":       "alerts.smtp_host",
		"alert_smtp_port":       "alerts.smtp_port",
		"alert_smtp_from":       "alerts.smtp_from",
		"alert_to":              "alerts.alert_to",

		// Operational server
		"server_enabled":         "server.enabled",
		"server_host":            "server.host",
		"server_port":            "server.port",
		"server_timeout":         "server.timeout",
		"server_rate_limit_reqs": "server.rate_limit_reqs",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so stray environment variables cannot
	// pollute the configuration.
	return ""
}
