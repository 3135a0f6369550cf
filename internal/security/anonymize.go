// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
)

// piiFields are the detail keys treated as PII under compliance mode.
var piiFields = []string{"email", "phone", "name", "address", "ssn"}

// Anonymizer replaces PII detail fields with deterministic redaction
// tokens when compliance mode is enabled. The token embeds a truncated
// SHA-256 of the original value, so equal values map to equal tokens and
// events for the same contact remain joinable after redaction.
type Anonymizer struct {
	enabled atomic.Bool
}

// NewAnonymizer creates an Anonymizer. Compliance mode starts disabled.
func NewAnonymizer() *Anonymizer {
	return &Anonymizer{}
}

// SetEnabled toggles compliance mode.
func (a *Anonymizer) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// Enabled reports whether compliance mode is active.
func (a *Anonymizer) Enabled() bool {
	return a.enabled.Load()
}

// Anonymize returns a copy of details with PII fields redacted. When
// compliance mode is disabled, or no PII field is present, the input map
// is returned unchanged without copying.
func (a *Anonymizer) Anonymize(details map[string]interface{}) map[string]interface{} {
	if !a.enabled.Load() || details == nil {
		return details
	}

	touched := false
	for _, field := range piiFields {
		if _, ok := details[field]; ok {
			touched = true
			break
		}
	}
	if !touched {
		return details
	}

	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = v
	}
	for _, field := range piiFields {
		if v, ok := out[field]; ok {
			out[field] = RedactionToken(fmt.Sprintf("%v", v))
		}
	}
	return out
}

// RedactionToken builds the deterministic token for a PII value.
func RedactionToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "[REDACTED_" + hex.EncodeToString(sum[:])[:16] + "]"
}

// MaskEmail masks an email's local part, keeping the first three
// characters and the full domain. Used for human-readable surfaces like
// alert notifications where a redaction token would be useless.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	if len(local) > 3 {
		return local[:3] + strings.Repeat("*", len(local)-3) + domain
	}
	return strings.Repeat("*", len(local)) + domain
}

// MaskText keeps the first n characters and masks the rest. Used where
// a value of unknown shape must reach a log without leaking.
func MaskText(text string, n int) string {
	if len(text) <= n {
		return strings.Repeat("*", len(text))
	}
	return text[:n] + strings.Repeat("*", len(text)-n)
}
