package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yenshow/ba-backend-sub000/internal/alert"
)

// defaultListLimit caps alert listings when the client does not ask
// for a specific page size.
const defaultListLimit = 100

// statusActionRequest is the body of resolve/ignore/unignore calls.
// Actor is the operator performing the action; empty means system.
type statusActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// handleListAlerts returns alerts filtered by status and source kind.
//
// Query parameters:
//   - status: active, resolved or ignored (default all)
//   - source_kind: filter by source kind
//   - limit, offset: pagination
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := alert.ListFilter{Limit: defaultListLimit}

	if v := r.URL.Query().Get("status"); v != "" {
		status := alert.Status(v)
		if !status.Valid() {
			writeBadRequest(w, "unrecognised status: "+v)
			return
		}
		filter.Status = status
	}
	filter.SourceKind = r.URL.Query().Get("source_kind")

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	alerts, err := s.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list alerts", "error", err)
		writeInternalError(w, "failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// handleAlertCount returns the number of unresolved alerts, matching
// the alert:count WebSocket event.
func (s *Server) handleAlertCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.alerts.CountUnresolved(r.Context())
	if err != nil {
		s.logger.Error("failed to count alerts", "error", err)
		writeInternalError(w, "failed to count alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleGetAlert returns a single alert by ID.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := s.alerts.GetAlert(r.Context(), id)
	if err != nil {
		s.writeAlertError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAlertHistory returns the status transition history of an
// alert, oldest first.
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.alerts.GetAlert(r.Context(), id); err != nil {
		s.writeAlertError(w, err, id)
		return
	}

	history, err := s.alerts.ListHistory(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list alert history", "alert_id", id, "error", err)
		writeInternalError(w, "failed to list alert history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alert_id": id,
		"history":  history,
	})
}

// handleResolveAlert transitions an alert to resolved.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	s.handleStatusAction(w, r, alert.StatusResolved)
}

// handleIgnoreAlert transitions an alert to ignored, suppressing
// re-raise and escalation until unignored.
func (s *Server) handleIgnoreAlert(w http.ResponseWriter, r *http.Request) {
	s.handleStatusAction(w, r, alert.StatusIgnored)
}

// handleUnignoreAlert reactivates an ignored alert. If the underlying
// condition has recovered in the meantime, the alert resolves
// immediately.
func (s *Server) handleUnignoreAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	a, err := s.alerts.UnignoreAlertByID(r.Context(), id, req.Actor)
	if err != nil {
		s.writeAlertError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleStatusAction(w http.ResponseWriter, r *http.Request, newStatus alert.Status) {
	id := chi.URLParam(r, "id")

	var req statusActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	a, err := s.alerts.UpdateAlertStatusByID(r.Context(), id, newStatus, req.Actor, req.Reason)
	if err != nil {
		s.writeAlertError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// writeAlertError maps alert service errors onto HTTP responses.
func (s *Server) writeAlertError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, alert.ErrAlertNotFound):
		writeNotFound(w, "alert not found: "+id)
	case errors.Is(err, alert.ErrInvalidTransition):
		writeConflict(w, err.Error())
	case errors.Is(err, alert.ErrInvalidStatus), errors.Is(err, alert.ErrInvalidSeverity):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("alert operation failed", "alert_id", id, "error", err)
		writeInternalError(w, "alert operation failed")
	}
}

// decodeBody decodes an optional JSON body. An empty body is allowed;
// malformed JSON is not.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
