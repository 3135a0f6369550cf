// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// logStore serializes appends to the active audit log file. The mutex
// covers both appends and rotation, so a rotation can never interleave
// with a batch write. The file is opened per append; the log is a
// low-frequency batch target, not a hot path, and reopening keeps
// rotation free of file-handle handoff.
type logStore struct {
	mu   sync.Mutex
	path string
}

func newLogStore(path string) (*logStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	return &logStore{path: path}, nil
}

// Path returns the active log file path.
func (s *logStore) Path() string {
	return s.path
}

// Append writes the given pre-serialized lines to the active log file.
// Each line must already be a complete JSON object without a trailing
// newline.
func (s *logStore) Append(lines [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(lines)
}

func (s *logStore) appendLocked(lines [][]byte) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	for _, line := range lines {
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
	}
	return f.Sync()
}

// Size returns the current size of the active log file in bytes.
// A missing file counts as zero.
func (s *logStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked()
}

func (s *logStore) sizeLocked() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// withLock runs fn while holding the store lock. Used by rotation to
// swap the active file without racing a concurrent append.
func (s *logStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
