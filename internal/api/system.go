package api

import (
	"net/http"
	"time"

	"github.com/yenshow/ba-backend-sub000/internal/monitor"
)

// taskStatusResponse is the JSON shape of one monitoring task.
type taskStatusResponse struct {
	Name              string     `json:"name"`
	IntervalSeconds   float64    `json:"interval_seconds"`
	LastRun           *time.Time `json:"last_run,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
}

// handleSystemStatus reports scheduler and notification channel state.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"websocket_clients": s.hub.ClientCount(),
	}

	if s.scheduler != nil {
		resp["ticks_total"] = s.scheduler.TicksTotal()
		resp["ticks_skipped"] = s.scheduler.TicksSkipped()
		resp["tasks"] = taskStatuses(s.scheduler.Status())
	}

	if count, err := s.alerts.CountUnresolved(r.Context()); err == nil {
		resp["unresolved_alerts"] = count
	}

	writeJSON(w, http.StatusOK, resp)
}

func taskStatuses(tasks []monitor.TaskStatus) []taskStatusResponse {
	out := make([]taskStatusResponse, 0, len(tasks))
	for _, t := range tasks {
		entry := taskStatusResponse{
			Name:              t.Name,
			IntervalSeconds:   t.Interval.Seconds(),
			ConsecutiveErrors: t.ConsecutiveErrors,
		}
		if !t.LastRun.IsZero() {
			lastRun := t.LastRun
			entry.LastRun = &lastRun
		}
		out = append(out, entry)
	}
	return out
}
