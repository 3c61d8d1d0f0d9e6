package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/retry"
)

const (
	maxReportHistory = 100

	eventHeartbeat  = 25 * time.Second
	eventRetryMs    = 3000
	eventNameChange = "entries-changed"
)

type reportRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	var req reportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.reports.Generate(r.Context(), user, sanitizeInput(req.Start), sanitizeInput(req.End))
	if err != nil {
		var remote *retry.RemoteOperationFailedError
		if errors.As(err, &remote) || errors.Is(err, retry.ErrCanceled) {
			atomic.AddInt64(&s.appMetrics.reportsFailed, 1)
		}
		writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.reportsGenerated, 1)
	NewResponse().Status(http.StatusCreated).JSON(toReportJSON(report)).Write(w)
}

func (s *Server) handleReportHistory(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	limit, err := ParseLimit(r.URL.Query(), maxReportHistory)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reports, err := s.reports.History(r.Context(), user.PatientID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]reportJSON, len(reports))
	for i, rep := range reports {
		out[i] = toReportJSON(rep)
	}
	NewResponse().JSON(map[string]any{"reports": out}).Write(w)
}

// handleEvents streams "entries-changed" server-sent events for the caller's
// patient. Clients refetch the journal on every event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	if s.broker == nil {
		ErrorResponse(http.StatusServiceUnavailable, "realtime_unavailable", "Live updates are not available.").Write(w)
		return
	}
	rc := http.NewResponseController(w)

	changes, unsubscribe := s.broker.Subscribe(user.PatientID)
	defer unsubscribe()

	atomic.AddInt64(&s.appMetrics.eventStreams, 1)
	defer atomic.AddInt64(&s.appMetrics.eventStreams, -1)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", eventRetryMs); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Event stream cannot flush", applog.FieldError, err)
		return
	}

	ctx := r.Context()
	logger := applog.FromContext(ctx)
	logger.DebugContext(ctx, "Event stream opened", applog.FieldComponent, applog.ComponentRealtime)

	heartbeat := time.NewTicker(eventHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to encode change", applog.FieldError, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventNameChange, data); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
