// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import "errors"

var (
	// ErrFlushTimeout is returned by Flush when the queue does not
	// drain within the bounded poll window.
	ErrFlushTimeout = errors.New("audit: flush timed out waiting for queue to drain")

	// ErrShutdownTimeout is returned by Shutdown when the consumer
	// does not terminate in time. Events still in the queue may be
	// lost.
	ErrShutdownTimeout = errors.New("audit: shutdown timed out")

	// ErrLoggerClosed is returned by Record after Shutdown.
	ErrLoggerClosed = errors.New("audit: logger is shut down")
)
