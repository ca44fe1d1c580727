package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/graytap-core/internal/worker"
)

// startRequest is the optional body of a start request.
type startRequest struct {
	DurationMinutes float64 `json:"duration_minutes"`

	// Devices limits start-all to these IDs. Empty means every cached device.
	Devices []string `json:"devices,omitempty"`
}

// stateResponse reports a session state after a control call.
type stateResponse struct {
	DeviceID string       `json:"device_id"`
	State    worker.State `json:"state"`
}

// decodeStart reads an optional start body. An empty body is valid.
func (s *Server) decodeStart(r *http.Request) (startRequest, time.Duration, error) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, 0, err
	}
	if req.DurationMinutes < 0 {
		return req, 0, worker.ErrInvalidDuration
	}
	duration := s.defaultDuration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes * float64(time.Minute))
	}
	return req, duration, nil
}

// handleStartSession starts (or restarts) a session on one device.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, duration, err := s.decodeStart(r)
	if err != nil {
		if errors.Is(err, worker.ErrInvalidDuration) {
			writeDomainError(w, err)
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.sessions.Start(id, duration); err != nil {
		writeDomainError(w, err)
		return
	}

	p, err := s.sessions.Progress(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	s.applyState(w, r, s.sessions.Pause)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	s.applyState(w, r, s.sessions.Resume)
}

func (s *Server) handleToggleSession(w http.ResponseWriter, r *http.Request) {
	s.applyState(w, r, s.sessions.TogglePause)
}

func (s *Server) applyState(w http.ResponseWriter, r *http.Request, fn func(string) (worker.State, error)) {
	id := chi.URLParam(r, "id")
	state, err := fn(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{DeviceID: id, State: state})
}

// handleStopSession stops one device's session.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Stop(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{DeviceID: id, State: worker.StateStopped})
}

// handleGetSession returns the progress of one device's session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	p, err := s.sessions.Progress(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleListSessions returns progress for every known session.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.sessions.ProgressAll()
	running, paused := s.sessions.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
		"running":  running,
		"paused":   paused,
	})
}

// handleStartAll starts a session on every cached device, or on the
// listed subset. Per-device failures are reported, not fatal.
func (s *Server) handleStartAll(w http.ResponseWriter, r *http.Request) {
	req, duration, err := s.decodeStart(r)
	if err != nil {
		if errors.Is(err, worker.ErrInvalidDuration) {
			writeDomainError(w, err)
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ids := req.Devices
	if len(ids) == 0 {
		for _, rec := range s.devices.Discover(r.Context(), false) {
			ids = append(ids, rec.ID)
		}
	}

	started := make([]string, 0, len(ids))
	failed := make(map[string]string)
	for _, id := range ids {
		if err := s.sessions.Start(id, duration); err != nil {
			failed[id] = err.Error()
			continue
		}
		started = append(started, id)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": started,
		"failed":  failed,
	})
}

func (s *Server) handlePauseAll(w http.ResponseWriter, _ *http.Request) {
	s.sessions.PauseAll()
	s.writeCounts(w)
}

func (s *Server) handleResumeAll(w http.ResponseWriter, _ *http.Request) {
	s.sessions.ResumeAll()
	s.writeCounts(w)
}

func (s *Server) handleStopAll(w http.ResponseWriter, _ *http.Request) {
	s.sessions.StopAll()
	s.writeCounts(w)
}

func (s *Server) writeCounts(w http.ResponseWriter) {
	running, paused := s.sessions.Counts()
	writeJSON(w, http.StatusOK, map[string]int{"running": running, "paused": paused})
}

// handleSessionHistory returns archived sessions, newest first.
//
// Query parameters:
//   - device: restrict to one device
//   - limit: maximum rows (default 50)
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.history.Sessions(r.Context(), r.URL.Query().Get("device"), limit)
	if err != nil {
		s.logger.Error("session history query failed", "error", err)
		writeInternalError(w, "failed to query session history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}
