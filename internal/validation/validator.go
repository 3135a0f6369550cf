// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package validation provides syntactic validation for audit event inputs.
//
// Two layers are combined here:
//
//   - Field validators with fixed charsets and length caps (lead IDs,
//     workflow names, event types, email addresses, webhook URLs). These
//     carry security semantics: SMTP header-injection and SSRF defenses
//     live in this package.
//   - A thread-safe singleton go-playground/validator instance used for
//     struct-tag validation of configuration.
//
// All field failures are reported as *Error so callers can distinguish
// bad input (caller's fault, never retried) from infrastructure errors.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Input limits. These bound every field that crosses the ingestion API.
const (
	MaxDetailsSize   = 50 * 1024 // serialized details ceiling
	MaxLeadIDLength  = 100
	MaxWorkflowLen   = 100
	MaxEventTypeLen  = 50
	MaxActorLength   = 200
	MaxEmailLength   = 254
	MaxHeaderLength  = 998
	MaxWebhookURLLen = 2048
)

var (
	leadIDRegex   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	workflowRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Error is a typed validation failure. It is always the caller's fault:
// the input never entered the pipeline and retrying without fixing the
// input will fail the same way.
type Error struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a *Error.
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// EventType checks an event type string: non-empty, length-capped, no
// control characters.
func EventType(eventType string) (string, error) {
	eventType = sanitize(eventType)
	if eventType == "" {
		return "", &Error{Field: "event_type", Reason: "must not be empty"}
	}
	if len(eventType) > MaxEventTypeLen {
		return "", &Error{Field: "event_type", Reason: fmt.Sprintf("exceeds %d characters", MaxEventTypeLen)}
	}
	return eventType, nil
}

// Actor sanitizes an actor identifier, applying the default and the
// length cap. Actor is free text, so it is truncated rather than rejected.
func Actor(actor string) string {
	actor = sanitize(actor)
	if actor == "" {
		return "system"
	}
	if len(actor) > MaxActorLength {
		actor = actor[:MaxActorLength]
	}
	return actor
}

// LeadID checks a lead identifier against the allowed charset.
func LeadID(leadID string) (string, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return "", &Error{Field: "lead_id", Reason: "must not be empty"}
	}
	if !leadIDRegex.MatchString(leadID) {
		return "", &Error{
			Field:  "lead_id",
			Reason: "must be alphanumeric with hyphens/underscores, max 100 chars",
		}
	}
	return leadID, nil
}

// Workflow checks a workflow name against the allowed charset.
func Workflow(workflow string) (string, error) {
	workflow = strings.TrimSpace(workflow)
	if workflow == "" {
		return "", &Error{Field: "workflow", Reason: "must not be empty"}
	}
	if !workflowRegex.MatchString(workflow) {
		return "", &Error{
			Field:  "workflow",
			Reason: "must be alphanumeric with hyphens/underscores, max 100 chars",
		}
	}
	return workflow, nil
}

// Details checks that the serialized details map fits the size ceiling.
// The serialized size is what lands on disk, so that is what is bounded.
func Details(details map[string]interface{}) error {
	if details == nil {
		return nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return &Error{Field: "details", Reason: fmt.Sprintf("not serializable: %v", err)}
	}
	if len(data) > MaxDetailsSize {
		return &Error{
			Field:  "details",
			Reason: fmt.Sprintf("serialized size %d exceeds %d bytes", len(data), MaxDetailsSize),
		}
	}
	return nil
}

// Email validates an email address. CR/LF is rejected outright to block
// SMTP header injection before format checking.
func Email(email string) (string, error) {
	if email == "" || len(email) > MaxEmailLength {
		return "", &Error{Field: "email", Reason: "invalid length"}
	}
	if strings.ContainsAny(email, "\r\n") {
		return "", &Error{Field: "email", Reason: "contains CR/LF"}
	}
	if !emailRegex.MatchString(email) {
		return "", &Error{Field: "email", Reason: "malformed address"}
	}
	return strings.ToLower(email), nil
}

// SanitizeHeader strips CR/LF from header-bound text and caps its length.
// Used for email subjects and any value that reaches an SMTP header.
func SanitizeHeader(text string, maxLen int) string {
	if maxLen <= 0 || maxLen > MaxHeaderLength {
		maxLen = MaxHeaderLength
	}
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > maxLen {
		text = text[:maxLen]
	}
	return text
}

// WebhookURL validates a webhook URL for outbound delivery. HTTPS only;
// the hostname is resolved and every resulting address is checked against
// loopback, private, link-local, multicast, and unspecified ranges, which
// covers the cloud metadata endpoints (169.254.169.254 is link-local).
// This runs once at registration, not per dispatch.
func WebhookURL(rawURL string) (string, error) {
	if rawURL == "" || len(rawURL) > MaxWebhookURLLen {
		return "", &Error{Field: "webhook_url", Reason: "invalid length"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", &Error{Field: "webhook_url", Reason: "malformed URL"}
	}
	if parsed.Scheme != "https" {
		return "", &Error{Field: "webhook_url", Reason: "scheme must be https"}
	}
	host := parsed.Hostname()
	if host == "" {
		return "", &Error{Field: "webhook_url", Reason: "missing hostname"}
	}

	lower := strings.ToLower(host)
	for _, blocked := range []string{"localhost", "metadata.google.internal"} {
		if lower == blocked {
			return "", &Error{Field: "webhook_url", Reason: "hostname resolves to a blocked target"}
		}
	}

	ips, err := lookupIP(host)
	if err != nil {
		return "", &Error{Field: "webhook_url", Reason: "hostname does not resolve"}
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return "", &Error{Field: "webhook_url", Reason: "hostname resolves to a blocked network"}
		}
	}

	return rawURL, nil
}

// lookupIP resolves a hostname. Overridable in tests to avoid real DNS.
var lookupIP = net.LookupIP

// isBlockedIP reports whether an address falls in a range outbound
// webhooks must never reach.
func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

// sanitize removes control characters (except tab) from a string.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// singleton validator instance for struct-tag validation
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the singleton validator instance.
// This function is thread-safe; the instance caches struct metadata.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates a struct using the singleton validator,
// translating field errors into a single combined message.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
}
