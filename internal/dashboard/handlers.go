package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/report"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status    string                    `json:"status"`
	Platforms []upstream.PlatformHealth `json:"platforms"`
}

// handleReport serves GET /api/v1/report.
// Query params: platforms, ids (comma lists), status, from, to, rates.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := report.Query{
		Platforms: splitParam(r.URL.Query().Get("platforms")),
		EntityIDs: splitParam(r.URL.Query().Get("ids")),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		switch upstream.EntityStatus(status) {
		case upstream.StatusActive, upstream.StatusPaused, upstream.StatusArchived:
			q.Status = upstream.EntityStatus(status)
		default:
			s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("invalid status %q", status))
			return
		}
	}

	window, err := parseWindow(r)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	q.Window = window

	if rates := r.URL.Query().Get("rates"); rates != "" {
		include, err := strconv.ParseBool(rates)
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("invalid rates value %q", rates))
			return
		}
		q.IncludeRates = include
	}

	rep, err := s.service.BuildReport(r.Context(), q)
	if err != nil {
		s.respondError(w, r, statusForError(err), err)
		return
	}

	s.respondJSON(w, http.StatusOK, rep)
}

// handleReplies serves GET /api/v1/replies.
// Query params: platform, page, page_size, from, to.
func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	q := report.RepliesQuery{
		Platform: r.URL.Query().Get("platform"),
	}

	var err error
	if q.Page, err = intParam(r, "page", 1); err != nil {
		s.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	if q.PageSize, err = intParam(r, "page_size", 20); err != nil {
		s.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}

	if q.Window, err = parseWindow(r); err != nil {
		s.respondError(w, r, http.StatusBadRequest, err)
		return
	}

	page, err := s.service.Replies(r.Context(), q)
	if err != nil {
		s.respondError(w, r, statusForError(err), err)
		return
	}

	s.respondJSON(w, http.StatusOK, page)
}

// handleHealth serves GET /api/v1/health with per-platform upstream health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	platforms := s.service.Health()

	status := "ok"
	for _, p := range platforms {
		if p.CircuitState == "open" {
			status = "degraded"
			break
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	s.respondJSON(w, code, healthResponse{Status: status, Platforms: platforms})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil && s.logger != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if s.logger != nil && code >= 500 {
		s.logger.LogError(r.Context(), "request failed", err, "path", r.URL.Path)
	}
	if s.metrics != nil && code >= 500 {
		s.metrics.RecordError(r.Context(), "http_request")
	}
	s.respondJSON(w, code, errorResponse{Error: err.Error()})
}

// statusForError maps service errors to HTTP status codes. Upstream
// failures surface as 502 so callers can tell them from our own faults.
func statusForError(err error) int {
	switch {
	case errors.Is(err, report.ErrUnknownPlatform):
		return http.StatusBadRequest
	case upstream.IsTransient(err):
		return http.StatusBadGateway
	default:
		var ue *upstream.Error
		if errors.As(err, &ue) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid %s value %q", name, raw)
	}
	return v, nil
}

// parseWindow reads the from/to params. Both sides are optional and
// accept RFC3339 timestamps or plain dates.
func parseWindow(r *http.Request) (upstream.DateRange, error) {
	var window upstream.DateRange

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	var err error
	if from != "" {
		if window.Start, err = parseTime(from); err != nil {
			return upstream.DateRange{}, fmt.Errorf("invalid from value %q", from)
		}
	}
	if to != "" {
		if window.End, err = parseTime(to); err != nil {
			return upstream.DateRange{}, fmt.Errorf("invalid to value %q", to)
		}
	}

	if !window.Start.IsZero() && !window.End.IsZero() && window.End.Before(window.Start) {
		return upstream.DateRange{}, fmt.Errorf("window end %s precedes start %s", to, from)
	}

	return window, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
