package worker

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/graytap-core/internal/device"
	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/policy"
	"github.com/nerrad567/graytap-core/internal/template"
)

// systemLabel labels supervisor-wide events.
const systemLabel = "system"

// Directory resolves device labels. *device.Registry implements it.
type Directory interface {
	Lookup(id string) (device.Record, error)
}

// Observer is told when sessions begin and end. Calls are made from the
// goroutine that caused the transition and must not block for long.
type Observer interface {
	SessionStarted(p Progress)
	SessionEnded(p Progress)
}

type pauseMode int

const (
	modeToggle pauseMode = iota
	modePause
	modeResume
)

// Supervisor owns every device session.
//
// Start, Stop, StopAll and resumes that restart a worker are serialised by
// startMu, which guarantees at most one live worker per device. The session
// map has its own lock that is never held while waiting on a worker.
type Supervisor struct {
	screen    Screen
	matcher   Matcher
	catalog   *template.Catalog
	policy    *policy.Table
	aborts    []template.Spec
	actions   []template.Spec
	timings   Timings
	directory Directory

	logger    Logger
	publisher Publisher
	recorder  Recorder
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
	seed   atomic.Int64

	startMu  sync.Mutex
	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewSupervisor creates a supervisor.
//
// Parameters:
//   - screen: Capture and tap transport shared by all workers
//   - matcher: Template matcher shared by all workers
//   - catalog: Loaded templates; read-only from here on
//   - table: Per-template rules
//   - timings: Loop delays; zero StopTimeout falls back to 2s
//
// Returns:
//   - *Supervisor: Ready to Start sessions
func NewSupervisor(screen Screen, matcher Matcher, catalog *template.Catalog, table *policy.Table, timings Timings) *Supervisor {
	if table == nil {
		table = policy.DefaultTable()
	}
	if timings.StopTimeout <= 0 {
		timings.StopTimeout = 2 * time.Second
	}

	s := &Supervisor{
		screen:    screen,
		matcher:   matcher,
		catalog:   catalog,
		policy:    table,
		timings:   timings,
		logger:    noopLogger{},
		publisher: noopPublisher{},
		recorder:  noopRecorder{},
		sessions:  make(map[string]*session),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.seed.Store(time.Now().UnixNano())

	if catalog != nil {
		names := catalog.Names()
		s.aborts = specs(catalog, table.AbortTemplates(names))
		s.actions = specs(catalog, table.ActionTemplates(names))
	}
	return s
}

func specs(c *template.Catalog, names []string) []template.Spec {
	out := make([]template.Spec, 0, len(names))
	for _, n := range names {
		if sp, ok := c.Get(n); ok {
			out = append(out, sp)
		}
	}
	return out
}

// SetLogger sets the logger for the supervisor and its workers.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// SetEventPublisher sets where session events go.
func (s *Supervisor) SetEventPublisher(p Publisher) {
	s.publisher = p
}

// SetRecorder sets the metrics recorder.
func (s *Supervisor) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetDirectory sets the label source for new sessions.
func (s *Supervisor) SetDirectory(d Directory) {
	s.directory = d
}

// AddObserver registers a session lifecycle observer. Call before Start.
func (s *Supervisor) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// SetSeed makes worker randomness reproducible. Each worker draws its own
// seed from this base.
func (s *Supervisor) SetSeed(seed int64) {
	s.seed.Store(seed)
}

// Start begins a session for deviceID, stopping any live one first.
//
// Returns an error only when the session cannot be set up.
func (s *Supervisor) Start(deviceID string, duration time.Duration) error {
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	if duration <= 0 {
		return ErrInvalidDuration
	}
	if s.catalog == nil || s.catalog.Len() == 0 {
		return ErrEmptyCatalog
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	if old := s.get(deviceID); old != nil && !old.exited() {
		s.logger.Info("replacing live session", "device", deviceID, "session", old.id)
		s.stopAndWait([]*session{old})
		// The old worker's context is cancelled; its replacement must not
		// overlap whatever transport call it is still unwinding.
		<-old.done
	}

	s.spawn(deviceID, s.label(deviceID), duration)
	return nil
}

// spawn installs a fresh session and starts its worker. Caller holds startMu.
func (s *Supervisor) spawn(deviceID, label string, duration time.Duration) *session {
	sess := newSession(uuid.NewString(), deviceID, label, duration)
	ctx, cancel := context.WithCancel(s.ctx)
	sess.cancel = cancel

	w := &worker{
		sess:      sess,
		screen:    s.screen,
		matcher:   s.matcher,
		catalog:   s.catalog,
		policy:    s.policy,
		aborts:    s.aborts,
		actions:   s.actions,
		timings:   s.timings,
		rng:       rand.New(rand.NewSource(s.seed.Add(1))), //nolint:gosec // tap jitter, not security
		logger:    s.logger,
		publisher: s.publisher,
		recorder:  s.recorder,
	}

	s.mu.Lock()
	s.sessions[deviceID] = sess
	s.mu.Unlock()

	s.logger.Info("session started",
		"device", deviceID,
		"session", sess.id,
		"duration", duration,
	)
	start := sess.progress(time.Now())
	for _, o := range s.observers {
		o.SessionStarted(start)
	}

	go func() {
		w.run(ctx)
		cancel()
		end := sess.progress(time.Now())
		for _, o := range s.observers {
			o.SessionEnded(end)
		}
	}()
	return sess
}

func (s *Supervisor) label(deviceID string) string {
	if s.directory == nil {
		return deviceID
	}
	rec, err := s.directory.Lookup(deviceID)
	if err != nil {
		return deviceID
	}
	return rec.Label
}

func (s *Supervisor) get(deviceID string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[deviceID]
}

func (s *Supervisor) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// live returns sessions whose worker has not exited.
func (s *Supervisor) live() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.exited() {
			out = append(out, sess)
		}
	}
	return out
}

// stopAndWait signals and cancels every session, then waits up to
// StopTimeout for each. A worker that overruns is logged and left to exit
// on its own.
func (s *Supervisor) stopAndWait(list []*session) {
	for _, sess := range list {
		sess.markStopped()
	}
	for _, sess := range list {
		t := time.NewTimer(s.timings.StopTimeout)
		select {
		case <-sess.done:
		case <-t.C:
			s.logger.Warn("worker did not stop in time",
				"device", sess.deviceID,
				"session", sess.id,
				"timeout", s.timings.StopTimeout,
			)
		}
		t.Stop()
	}
}

// TogglePause flips a session between paused and running.
//
// Resuming a session whose worker has already exited, without having been
// stopped on request, starts a new worker for the remaining time, or for the
// full planned time when none remains.
func (s *Supervisor) TogglePause(deviceID string) (State, error) {
	return s.setPause(deviceID, modeToggle)
}

// Pause pauses a live session. Pausing an exited session is a no-op.
func (s *Supervisor) Pause(deviceID string) (State, error) {
	return s.setPause(deviceID, modePause)
}

// Resume resumes a paused session, restarting it if its worker has exited.
func (s *Supervisor) Resume(deviceID string) (State, error) {
	return s.setPause(deviceID, modeResume)
}

func (s *Supervisor) setPause(deviceID string, mode pauseMode) (State, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	sess := s.get(deviceID)
	if sess == nil {
		return "", ErrNoSession
	}

	if sess.exited() {
		if mode == modePause {
			return sess.getState(), nil
		}
		return s.restart(sess)
	}

	resume := mode == modeResume || (mode == modeToggle && sess.sig.paused.Load())
	if resume {
		if sess.sig.paused.CompareAndSwap(true, false) {
			sess.setState(StateRunning)
			s.publisher.Emit(events.LevelInfo, deviceID, sess.label, "resumed")
		}
		return StateRunning, nil
	}

	if sess.sig.paused.CompareAndSwap(false, true) {
		sess.setState(StatePaused)
		s.publisher.Emit(events.LevelInfo, deviceID, sess.label, "paused")
	}
	return StatePaused, nil
}

// restart replaces an exited session. Caller holds startMu.
func (s *Supervisor) restart(old *session) (State, error) {
	old.mu.Lock()
	stopped := old.stopped
	old.mu.Unlock()
	if stopped {
		return old.getState(), ErrSessionStopped
	}
	if s.isClosed() {
		return old.getState(), ErrClosed
	}

	duration := old.progress(time.Now()).Remaining
	if duration <= 0 {
		duration = old.planned
	}
	s.publisher.Emit(events.LevelInfo, old.deviceID, old.label, "restarting session")
	s.spawn(old.deviceID, old.label, duration)
	return StateRunning, nil
}

// Stop ends the session for deviceID and waits up to StopTimeout.
func (s *Supervisor) Stop(deviceID string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	sess := s.get(deviceID)
	if sess == nil {
		return ErrNoSession
	}
	if sess.exited() {
		sess.markStopped()
		return nil
	}
	s.stopAndWait([]*session{sess})
	s.publisher.Emit(events.LevelInfo, deviceID, sess.label, "stopped")
	return nil
}

// StopAll ends every live session.
func (s *Supervisor) StopAll() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.stopAll()
}

func (s *Supervisor) stopAll() {
	list := s.live()
	if len(list) == 0 {
		return
	}
	s.stopAndWait(list)
	s.publisher.Emit(events.LevelInfo, "", systemLabel, "stopped all devices")
	s.logger.Info("all sessions stopped", "count", len(list))
}

// PauseAll pauses every live session without waiting.
func (s *Supervisor) PauseAll() {
	s.setAll(true)
}

// ResumeAll resumes every live session. Exited sessions are not restarted.
func (s *Supervisor) ResumeAll() {
	s.setAll(false)
}

func (s *Supervisor) setAll(paused bool) {
	for _, sess := range s.live() {
		sess.sig.paused.Store(paused)
		if paused {
			sess.setState(StatePaused)
		} else {
			sess.setState(StateRunning)
		}
	}
	msg := "resumed all devices"
	if paused {
		msg = "paused all devices"
	}
	s.publisher.Emit(events.LevelInfo, "", systemLabel, msg)
}

// Progress returns the current view of one session.
func (s *Supervisor) Progress(deviceID string) (Progress, error) {
	sess := s.get(deviceID)
	if sess == nil {
		return Progress{}, ErrNoSession
	}
	return sess.progress(time.Now()), nil
}

// ProgressAll returns every known session ordered by device ID.
func (s *Supervisor) ProgressAll() []Progress {
	s.mu.RLock()
	list := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.RUnlock()

	now := time.Now()
	out := make([]Progress, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.progress(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Counts returns how many live sessions are running and paused.
func (s *Supervisor) Counts() (running, paused int) {
	now := time.Now()
	for _, sess := range s.live() {
		switch sess.progress(now).State {
		case StateRunning:
			running++
		case StatePaused:
			paused++
		}
	}
	return running, paused
}

// Close stops every session and rejects further starts.
func (s *Supervisor) Close() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return
	}

	s.stopAll()
	s.cancel()
}

// IsSetupError reports whether err came from Start's argument or state checks.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrEmptyDeviceID) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrEmptyCatalog) ||
		errors.Is(err, ErrClosed)
}
