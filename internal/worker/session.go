package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a device session.
type State string

const (
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Terminal reports whether the worker has exited.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// signals are the cooperative controls shared by the supervisor (writer) and
// one worker (reader). The worker writes only the pause flag, on abort.
type signals struct {
	stop     chan struct{}
	stopOnce sync.Once
	paused   atomic.Bool
}

func newSignals() *signals {
	return &signals{stop: make(chan struct{})}
}

func (s *signals) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *signals) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// session is the supervisor's record of one worker run.
type session struct {
	id        string
	deviceID  string
	label     string
	planned   time.Duration
	startedAt time.Time
	sig       *signals
	done      chan struct{} // closed when the worker goroutine returns

	// cancel aborts the worker's in-flight capture or tap.
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	lastClick time.Time
	clicks    int
	endedAt   time.Time
	stopped   bool // stop was requested through the supervisor
}

func newSession(id, deviceID, label string, planned time.Duration) *session {
	return &session{
		id:        id,
		deviceID:  deviceID,
		label:     label,
		planned:   planned,
		startedAt: time.Now(),
		sig:       newSignals(),
		done:      make(chan struct{}),
		state:     StateRunning,
	}
}

func (s *session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || (s.state == StateStopping && !st.Terminal()) {
		return
	}
	s.state = st
	if st.Terminal() {
		s.endedAt = time.Now()
	}
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) recordClick(at time.Time) {
	s.mu.Lock()
	s.lastClick = at
	s.clicks++
	s.mu.Unlock()
}

func (s *session) sinceLastClick(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastClick.IsZero() {
		return 0, false
	}
	return now.Sub(s.lastClick), true
}

func (s *session) markStopped() {
	s.mu.Lock()
	s.stopped = true
	if !s.state.Terminal() {
		s.state = StateStopping
	}
	s.mu.Unlock()
	s.sig.requestStop()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Progress is a point-in-time view of a session.
type Progress struct {
	SessionID string        `json:"session_id"`
	DeviceID  string        `json:"device_id"`
	Label     string        `json:"label"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Planned   time.Duration `json:"planned"`
	LastClick time.Time     `json:"last_click,omitempty"`
	Clicks    int           `json:"clicks"`
}

func (s *session) progress(now time.Time) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := now
	if !s.endedAt.IsZero() {
		end = s.endedAt
	}
	elapsed := end.Sub(s.startedAt)
	remaining := s.planned - elapsed
	if remaining < 0 {
		remaining = 0
	}

	state := s.state
	if !state.Terminal() && state != StateStopping && s.sig.paused.Load() {
		state = StatePaused
	}

	return Progress{
		SessionID: s.id,
		DeviceID:  s.deviceID,
		Label:     s.label,
		State:     state,
		StartedAt: s.startedAt,
		Elapsed:   elapsed,
		Remaining: remaining,
		Planned:   s.planned,
		LastClick: s.lastClick,
		Clicks:    s.clicks,
	}
}
