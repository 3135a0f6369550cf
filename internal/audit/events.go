// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"github.com/leadworks/auditflow/internal/security"
	"github.com/leadworks/auditflow/internal/validation"
)

// Convenience wrappers for the domain event vocabulary. Each pre-fills
// the details map and delegates to Record. Wrappers that carry an email
// address validate it first so a malformed or injection-bearing address
// never reaches the log.

// maxHeaderLen caps header-bound strings in email events.
const maxHeaderLen = 500

// LogLeadIngested records a lead entering the system. Only the field
// names of the lead payload are logged, plus the email address, which
// compliance mode redacts downstream.
func (l *Logger) LogLeadIngested(leadID, source string, leadData map[string]interface{}, workflow string) error {
	fields := make([]string, 0, len(leadData))
	for k := range leadData {
		fields = append(fields, k)
	}
	email := "N/A"
	if v, ok := leadData["email"].(string); ok && v != "" {
		email = v
	}
	return l.Record(EventLeadIngested, map[string]interface{}{
		"source": source,
		"fields": fields,
		"email":  email,
	}, "system", leadID, workflow)
}

// LogLeadQualified records the outcome of lead qualification.
func (l *Logger) LogLeadQualified(leadID string, qualified bool, reason, workflow string) error {
	return l.Record(EventLeadQualified, map[string]interface{}{
		"qualified": qualified,
		"reason":    reason,
	}, "system", leadID, workflow)
}

// LogLeadRouted records a routing decision.
func (l *Logger) LogLeadRouted(leadID, destination, condition, workflow string) error {
	return l.Record(EventLeadRouted, map[string]interface{}{
		"destination": destination,
		"condition":   condition,
	}, "system", leadID, workflow)
}

// LogCRMCreate records creation of a CRM record for a lead.
func (l *Logger) LogCRMCreate(leadID, crmRecordID, crmType, workflow string) error {
	return l.Record(EventCRMCreate, map[string]interface{}{
		"crm_record_id": crmRecordID,
		"crm_type":      crmType,
	}, "system", leadID, workflow)
}

// LogCRMUpdate records an update to an existing CRM record.
func (l *Logger) LogCRMUpdate(leadID, crmRecordID string, fieldsUpdated []string, workflow string) error {
	return l.Record(EventCRMUpdate, map[string]interface{}{
		"crm_record_id":  crmRecordID,
		"fields_updated": fieldsUpdated,
	}, "system", leadID, workflow)
}

// LogEmailSent records an outbound email. The recipient address and
// subject are validated and sanitized first; a bad address is recorded
// as a security event and returned to the caller.
func (l *Logger) LogEmailSent(leadID, recipient, subject string, sequenceStep int, workflow string) error {
	recipient, err := l.validEmail(recipient, workflow)
	if err != nil {
		return err
	}
	return l.Record(EventEmailSent, map[string]interface{}{
		"recipient":     recipient,
		"subject":       validation.SanitizeHeader(subject, maxHeaderLen),
		"sequence_step": sequenceStep,
	}, "system", leadID, workflow)
}

// LogEmailScheduled records an email sequence being scheduled.
func (l *Logger) LogEmailScheduled(leadID, recipient string, sequenceLength int, workflow string) error {
	recipient, err := l.validEmail(recipient, workflow)
	if err != nil {
		return err
	}
	return l.Record(EventEmailScheduled, map[string]interface{}{
		"recipient":       recipient,
		"sequence_length": sequenceLength,
	}, "system", leadID, workflow)
}

// LogEmailCancelled records cancellation of a scheduled email sequence.
func (l *Logger) LogEmailCancelled(leadID, recipient, reason, workflow string) error {
	recipient, err := l.validEmail(recipient, workflow)
	if err != nil {
		return err
	}
	return l.Record(EventEmailCancelled, map[string]interface{}{
		"recipient": recipient,
		"reason":    validation.SanitizeHeader(reason, maxHeaderLen),
	}, "system", leadID, workflow)
}

// LogWorkflowStarted records a workflow starting.
func (l *Logger) LogWorkflowStarted(workflow string) error {
	return l.Record(EventWorkflowStarted, map[string]interface{}{}, "system", "", workflow)
}

// LogWorkflowStopped records a workflow stopping with a reason.
func (l *Logger) LogWorkflowStopped(workflow, reason string) error {
	return l.Record(EventWorkflowStopped, map[string]interface{}{
		"reason": reason,
	}, "system", "", workflow)
}

// LogError records an error event. Lead ID and workflow are optional.
func (l *Logger) LogError(errorType, errorMessage, leadID, workflow string) error {
	return l.Record(EventError, map[string]interface{}{
		"error_type":    errorType,
		"error_message": errorMessage,
	}, "system", leadID, workflow)
}

// validEmail normalizes the address, recording a security event on
// failure. The rejected value is masked before it reaches the monitor;
// an invalid address can still carry a real one.
func (l *Logger) validEmail(email, workflow string) (string, error) {
	normalized, err := validation.Email(email)
	if err != nil {
		l.securityEvent(security.EventInvalidEmail, map[string]string{
			"recipient": security.MaskText(truncate(email, 40), 3),
			"error":     truncate(err.Error(), 200),
			"workflow":  truncate(workflow, 100),
		})
		return "", err
	}
	return normalized, nil
}
