// Auditflow - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadworks/auditflow

// Package ops exposes the operational HTTP API: health, Prometheus
// metrics, audit queries, and pipeline introspection. It is a read
// surface for dashboards and the CLI; events are never ingested over
// HTTP.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/leadworks/auditflow/internal/audit"
	"github.com/leadworks/auditflow/internal/logging"
)

// Server serves the operational API. Implements suture.Service.
type Server struct {
	addr    string
	timeout time.Duration
	limit   int

	audit  *audit.Logger
	start  time.Time
	logger zerolog.Logger
}

// Options configures the server.
type Options struct {
	Host    string
	Port    int
	Timeout time.Duration

	// RateLimitReqs caps requests per client IP per minute.
	RateLimitReqs int
}

// NewServer creates the operational API server around an audit logger.
func NewServer(opts Options, auditLogger *audit.Logger) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimitReqs <= 0 {
		opts.RateLimitReqs = 100
	}
	return &Server{
		addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		timeout: opts.Timeout,
		limit:   opts.RateLimitReqs,
		audit:   auditLogger,
		start:   time.Now(),
		logger:  logging.With().Str("component", "ops").Logger(),
	}
}

// Routes builds the chi handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.limit, time.Minute))

		r.Get("/events", s.handleEvents)
		r.Get("/stats", s.handleStats)
		r.Get("/leads/{leadID}/history", s.handleLeadHistory)
		r.Get("/ratelimit", s.handleRateLimit)
		r.Get("/security-events", s.handleSecurityEvents)
		r.Get("/performance", s.handlePerformance)
		r.Get("/cache", s.handleCache)
		r.Get("/verify", s.handleVerify)
		r.Post("/flush", s.handleFlush)
	})

	return r
}

// Serve runs the HTTP server until the context is cancelled. Implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
		IdleTimeout:  2 * s.timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Operational API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "ops-server"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.start).Seconds()),
	})
}

// handleEvents maps query parameters onto an audit filter. Invalid
// times or limits are client errors.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		EventType: q.Get("event_type"),
		LeadID:    q.Get("lead_id"),
		Workflow:  q.Get("workflow"),
	}

	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		filter.StartTime = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC 3339")
			return
		}
		filter.EndTime = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 10000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 10000")
			return
		}
		filter.Limit = n
	}

	events, err := s.audit.Query(filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Event query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.audit.Statistics(r.URL.Query().Get("workflow"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Statistics scan failed")
		writeError(w, http.StatusInternalServerError, "statistics failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeadHistory(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	events, err := s.audit.LeadHistory(leadID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lead_id": leadID,
		"events":  events,
		"count":   len(events),
	})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.audit.RateLimitStats())
}

func (s *Server) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	events := s.audit.SecurityEvents(q.Get("type"), limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.audit.PerformanceStats(r.URL.Query().Get("operation")))
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	hits, misses, size := s.audit.CacheStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hits":   hits,
		"misses": misses,
		"size":   size,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.audit.VerifyIntegrity()
	if err != nil {
		s.logger.Error().Err(err).Msg("Integrity verification failed")
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.audit.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("Flush request failed")
		writeError(w, http.StatusServiceUnavailable, "flush timed out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
