// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"time"
)

// Domain event types recorded by the pipeline.
const (
	EventLeadIngested    = "lead_ingested"
	EventLeadQualified   = "lead_qualified"
	EventLeadRouted      = "lead_routed"
	EventCRMCreate       = "crm_create"
	EventCRMUpdate       = "crm_update"
	EventEmailSent       = "email_sent"
	EventEmailScheduled  = "email_scheduled"
	EventEmailCancelled  = "email_cancelled"
	EventWorkflowStarted = "workflow_started"
	EventWorkflowStopped = "workflow_stopped"
	EventError           = "error"
)

// timestampFormat is the wire format for event timestamps: UTC,
// microsecond precision, Z suffix.
const timestampFormat = "2006-01-02T15:04:05.999999Z07:00"

// Event is a single immutable audit record. One event is serialized per
// line in the log file (JSON Lines). The signature, when present, is an
// HMAC over the canonical form of every other field.
type Event struct {
	Timestamp string                 `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Actor     string                 `json:"actor"`
	LeadID    string                 `json:"lead_id,omitempty"`
	Workflow  string                 `json:"workflow,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Signature string                 `json:"signature,omitempty"`
}

// Time parses the event timestamp. Returns the zero time if it does not
// parse, which sorts such events before any real filter window.
func (e *Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// QueryFilter selects events. All set fields are combined as AND
// predicates; zero values mean "no constraint". Limit <= 0 falls back
// to DefaultQueryLimit.
type QueryFilter struct {
	EventType string
	LeadID    string
	Workflow  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// DefaultQueryLimit caps query results when the filter does not set one.
const DefaultQueryLimit = 100

// LeadHistoryLimit is the limit used for complete per-lead trails.
const LeadHistoryLimit = 1000

// Statistics is the aggregate of a full log scan.
type Statistics struct {
	TotalEvents    int64            `json:"total_events"`
	EventTypes     map[string]int64 `json:"event_types"`
	LeadsProcessed int              `json:"leads_processed"`
	Errors         int64            `json:"errors"`

	// Truncated is set when the distinct-lead set hit its memory cap
	// and LeadsProcessed is a partial count.
	Truncated bool `json:"truncated,omitempty"`
}

// maxDistinctLeads caps the distinct-lead set held in memory during a
// statistics scan.
const maxDistinctLeads = 10000

// Observer receives each event accepted by Record, after it has been
// enqueued for durable write. Implementations must not block: they run
// on the producer's call path and anything slow belongs behind the
// observer's own queue.
type Observer interface {
	ObserveEvent(ev Event)
}

// newTimestamp formats the current UTC time in the wire format.
func newTimestamp() string {
	return time.Now().UTC().Format(timestampFormat)
}
