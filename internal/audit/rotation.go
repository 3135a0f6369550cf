// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/logging"
	"github.com/leadworks/auditflow/internal/metrics"
)

// rotationStamp is the timestamp layout embedded in rotated file names:
// <base>.<YYYYMMDD_HHMMSS>.log.gz
const rotationStamp = "20060102_150405"

// compressChunkSize bounds memory during archive compression.
const compressChunkSize = 64 * 1024

// rotator replaces an oversized active log with a fresh empty one,
// compressing the old content into a timestamped gzip archive, and
// sweeps archives past the retention horizon.
type rotator struct {
	store            *logStore
	maxSize          int64
	compressionLevel int
	retention        time.Duration
	onRotate         func()
	logger           zerolog.Logger
}

func newRotator(store *logStore, maxSizeMB, compressionLevel, retentionDays int, onRotate func()) *rotator {
	return &rotator{
		store:            store,
		maxSize:          int64(maxSizeMB) * 1024 * 1024,
		compressionLevel: compressionLevel,
		retention:        time.Duration(retentionDays) * 24 * time.Hour,
		onRotate:         onRotate,
		logger:           logging.With().Str("component", "rotation").Logger(),
	}
}

// maybeRotate rotates the active log if it has reached the size ceiling.
// Called by the write pipeline before each flush, so rotation is always
// serialized against batch appends.
func (r *rotator) maybeRotate() error {
	if r.maxSize <= 0 || r.store.Size() < r.maxSize {
		return nil
	}
	return r.rotate()
}

// rotate compresses the active log into a timestamped archive and
// starts a fresh file. The query cache is invalidated afterwards since
// cached result sets reference content that has moved.
func (r *rotator) rotate() error {
	start := time.Now()
	var archive string

	err := r.store.withLock(func() error {
		if r.store.sizeLocked() == 0 {
			return nil
		}

		stamp := time.Now().Format(rotationStamp)
		base := strings.TrimSuffix(r.store.Path(), ".log")
		archive = fmt.Sprintf("%s.%s.log.gz", base, stamp)

		if err := compressFile(r.store.Path(), archive, r.compressionLevel); err != nil {
			return fmt.Errorf("failed to compress rotated log: %w", err)
		}
		if err := os.Remove(r.store.Path()); err != nil {
			return fmt.Errorf("failed to remove rotated log: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if archive == "" {
		return nil
	}

	metrics.RecordRotation(time.Since(start))
	r.logger.Info().Str("archive", archive).Dur("duration", time.Since(start)).Msg("Audit log rotated")

	if r.onRotate != nil {
		r.onRotate()
	}
	if removed, err := r.cleanupArchives(); err != nil {
		r.logger.Error().Err(err).Msg("Archive cleanup failed")
	} else if removed > 0 {
		r.logger.Info().Int("removed", removed).Msg("Expired audit archives removed")
	}
	return nil
}

// cleanupArchives deletes compressed archives whose embedded rotation
// timestamp is older than the retention horizon. Files that do not
// parse as rotation artifacts are left untouched.
func (r *rotator) cleanupArchives() (int, error) {
	dir := filepath.Dir(r.store.Path())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list log directory: %w", err)
	}

	cutoff := time.Now().Add(-r.retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log.gz") {
			continue
		}
		stamp, ok := parseRotationStamp(entry.Name())
		if !ok {
			continue
		}
		if stamp.Before(cutoff) {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				r.logger.Error().Err(err).Str("file", path).Msg("Failed to delete expired archive")
				continue
			}
			metrics.ArchivesDeleted.Inc()
			removed++
		}
	}
	return removed, nil
}

// parseRotationStamp extracts the rotation timestamp from an archive
// name of the form <base>.<YYYYMMDD_HHMMSS>.log.gz.
func parseRotationStamp(name string) (time.Time, bool) {
	trimmed := strings.TrimSuffix(name, ".log.gz")
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 {
		return time.Time{}, false
	}
	stamp, err := time.ParseInLocation(rotationStamp, trimmed[idx+1:], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}

// compressFile gzips src into dst, reading in bounded chunks.
func compressFile(src, dst string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return err
	}

	buf := make([]byte, compressChunkSize)
	if _, err := io.CopyBuffer(gz, in, buf); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Sync()
}

// RetentionSweeper periodically removes expired archives independent of
// rotation, so retention holds even when the log never fills. It is run
// as a supervised service.
type RetentionSweeper struct {
	rot      *rotator
	interval time.Duration
	logger   zerolog.Logger
}

// NewRetentionSweeper creates a sweeper for the logger's archives.
func NewRetentionSweeper(l *Logger, interval time.Duration) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		rot:      l.rotator,
		interval: interval,
		logger:   logging.With().Str("component", "retention").Logger(),
	}
}

// Serve runs the sweep loop until the context is cancelled. Implements
// suture.Service.
func (s *RetentionSweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := s.rot.cleanupArchives()
			if err != nil {
				s.logger.Error().Err(err).Msg("Retention sweep failed")
				continue
			}
			if removed > 0 {
				s.logger.Info().Int("removed", removed).Msg("Retention sweep removed expired archives")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *RetentionSweeper) String() string {
	return "audit-retention-sweeper"
}
