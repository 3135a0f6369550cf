// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package audit implements the durable, tamper-evident event log at the
// core of Auditflow.
//
// Events enter through Logger.Record (or a domain wrapper), which
// validates, rate limits, optionally anonymizes, timestamps, and HMAC
// signs each event before handing it to a bounded in-memory queue. A
// single background consumer batches queued events and appends them to
// a JSON Lines file, rotating it into gzip archives past a size
// ceiling and expiring archives past the retention horizon.
//
// Reads are independent of the write path: the query engine scans the
// active log with AND-combined filters and memoizes results in a
// short-TTL LRU, and the offline verifier recomputes signatures to
// detect tampering.
package audit
