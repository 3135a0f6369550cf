// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// secretHexLen is the length of the hex-encoded 256-bit signing secret.
const secretHexLen = 64

// Signer computes HMAC-SHA256 integrity signatures over audit events.
// The canonical form of an event is its compact JSON encoding with keys
// sorted and the signature field removed, so any stored event can be
// re-verified by stripping the signature and recomputing.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from a hex-encoded 64-character secret.
func NewSigner(secretHex string) (*Signer, error) {
	secretHex = strings.TrimSpace(secretHex)
	if len(secretHex) != secretHexLen {
		return nil, fmt.Errorf("signing secret must be %d hex characters, got %d", secretHexLen, len(secretHex))
	}
	if _, err := hex.DecodeString(secretHex); err != nil {
		return nil, fmt.Errorf("signing secret is not valid hex: %w", err)
	}
	return &Signer{secret: []byte(secretHex)}, nil
}

// LoadOrCreateSecret loads the signing secret from path, generating and
// persisting a fresh one with owner-only permissions when the file is
// missing or holds an invalid secret. An existing valid secret is never
// regenerated, so signatures stay verifiable across restarts.
func LoadOrCreateSecret(path string) (string, bool, error) {
	if data, err := os.ReadFile(path); err == nil {
		secret := strings.TrimSpace(string(data))
		if len(secret) == secretHexLen {
			if _, err := hex.DecodeString(secret); err == nil {
				return secret, false, nil
			}
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", false, fmt.Errorf("failed to create secret directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", false, fmt.Errorf("failed to persist signing secret: %w", err)
	}

	return secret, true, nil
}

// Sign returns the hex HMAC-SHA256 of data.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignEvent computes and sets the event's signature over its canonical
// form. Any existing signature is ignored and replaced.
func (s *Signer) SignEvent(ev *Event) error {
	canonical, err := canonicalJSON(ev)
	if err != nil {
		return fmt.Errorf("failed to canonicalize event: %w", err)
	}
	ev.Signature = s.Sign(canonical)
	return nil
}

// VerifyEvent recomputes the event's signature and compares it in
// constant time. Events without a signature are treated as valid legacy
// lines, not as tampering.
func (s *Signer) VerifyEvent(ev *Event) (bool, error) {
	if ev.Signature == "" {
		return true, nil
	}

	stripped := *ev
	stripped.Signature = ""
	canonical, err := canonicalJSON(&stripped)
	if err != nil {
		return false, fmt.Errorf("failed to canonicalize event: %w", err)
	}

	expected := s.Sign(canonical)
	return hmac.Equal([]byte(expected), []byte(ev.Signature)), nil
}

// LineError describes a single bad line found by VerifyLogFile.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// VerifyReport is the result of an offline integrity check.
type VerifyReport struct {
	Checked  int         `json:"checked"`
	Valid    int         `json:"valid"`
	Unsigned int         `json:"unsigned"`
	Invalid  []LineError `json:"invalid,omitempty"`
}

// VerifyLogFile reads a JSONL audit log line by line, verifying every
// signature. Lines that do not parse as JSON are reported alongside
// signature mismatches, with 1-based line numbers.
func (s *Signer) VerifyLogFile(path string) (*VerifyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	report := &VerifyReport{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		report.Checked++

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			report.Invalid = append(report.Invalid, LineError{Line: lineNum, Reason: "parse failure"})
			continue
		}

		if ev.Signature == "" {
			report.Unsigned++
			report.Valid++
			continue
		}

		ok, err := s.VerifyEvent(&ev)
		if err != nil {
			report.Invalid = append(report.Invalid, LineError{Line: lineNum, Reason: err.Error()})
			continue
		}
		if !ok {
			report.Invalid = append(report.Invalid, LineError{Line: lineNum, Reason: "invalid signature"})
			continue
		}
		report.Valid++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	return report, nil
}

// canonicalJSON produces the canonical byte form of an event: compact
// JSON with keys sorted lexicographically and no signature field. Going
// through a map makes the encoder sort keys, and normalizes numeric
// types the same way at sign and verify time.
func canonicalJSON(ev *Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "signature")

	return json.Marshal(m)
}
