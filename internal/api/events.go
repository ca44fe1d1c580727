package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/history"
)

// defaultRecentEvents is how many bus records /events returns without a limit.
const defaultRecentEvents = 100

// handleRecentEvents returns the newest bus records, oldest first.
//
// Query parameters:
//   - limit: maximum records (default 100)
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentEvents
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records := s.bus.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": records, "count": len(records)})
}

// handleEventHistory queries the archived event log.
//
// Query parameters:
//   - device: restrict to one device
//   - level: info, warning or error
//   - since, until: RFC 3339 timestamps
//   - limit: maximum records
func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}

	q := r.URL.Query()
	f := history.EventFilter{DeviceID: q.Get("device")}

	if v := q.Get("level"); v != "" {
		switch lvl := events.Level(v); lvl {
		case events.LevelInfo, events.LevelWarning, events.LevelError:
			f.Level = lvl
		default:
			writeBadRequest(w, "level must be info, warning or error")
			return
		}
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, p.name+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	records, err := s.history.Events(r.Context(), f)
	if err != nil {
		s.logger.Error("event history query failed", "error", err)
		writeInternalError(w, "failed to query event history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records, "count": len(records)})
}
