// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package alert watches the audit event stream for error bursts and
// fans accepted events out to registered webhooks.
package alert

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/security"
	"github.com/leadworks/auditflow/internal/validation"
)

// Notifier delivers one alert message to a sink. Implementations are
// registered with the Manager and invoked off the ingestion path.
type Notifier interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Notify delivers the message. Failures are logged by the Manager,
	// never retried.
	Notify(message string) error
}

// maxAlertBodyLen caps the alert message body sent over SMTP.
const maxAlertBodyLen = 4096

// EmailNotifier sends alert summaries over SMTP. Subject and body are
// sanitized against header injection before they reach the wire.
type EmailNotifier struct {
	host string
	port int
	from string
	to   []string

	// sendMail is swapped in tests.
	sendMail func(addr, from string, to []string, msg []byte) error

	logger zerolog.Logger
}

// NewEmailNotifier validates every recipient address up front; a bad
// address fails construction rather than every later alert.
func NewEmailNotifier(host string, port int, from string, to []string) (*EmailNotifier, error) {
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	from, err := validation.Email(from)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		normalized, err := validation.Email(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", addr, err)
		}
		recipients = append(recipients, normalized)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	return &EmailNotifier{
		host: host,
		port: port,
		from: from,
		to:   recipients,
		sendMail: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
		logger: logging.With().Str("component", "alerts").Logger(),
	}, nil
}

// Name implements Notifier.
func (n *EmailNotifier) Name() string {
	return "email"
}

// Notify sends the alert to every configured recipient in one message.
func (n *EmailNotifier) Notify(message string) error {
	subject := validation.SanitizeHeader("Auditflow alert: error threshold exceeded", 0)
	body := validation.SanitizeHeader(message, 0)
	if len(body) > maxAlertBodyLen {
		body = body[:maxAlertBodyLen]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := n.sendMail(addr, n.from, n.to, []byte(b.String())); err != nil {
		return err
	}

	// Recipients are masked in log output; logs travel further than the
	// alert itself.
	masked := make([]string, len(n.to))
	for i, rcpt := range n.to {
		masked[i] = security.MaskEmail(rcpt)
	}
	n.logger.Info().Strs("recipients", masked).Msg("Alert email sent")
	return nil
}
