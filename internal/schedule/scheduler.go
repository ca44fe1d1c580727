package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/graytap-core/internal/device"
	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
)

const systemLabel = "scheduler"

// specParser accepts five-field expressions and descriptors.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Starter starts a session. Implemented by *worker.Supervisor.
type Starter interface {
	Start(deviceID string, duration time.Duration) error
}

// DeviceLister returns known devices. Implemented by *device.Registry.
type DeviceLister interface {
	Discover(ctx context.Context, force bool) []device.Record
}

// EventPublisher receives user-facing schedule events.
type EventPublisher interface {
	Emit(level events.Level, deviceID, label, message string)
}

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopPublisher struct{}

func (noopPublisher) Emit(events.Level, string, string, string) {}

// Entry describes one registered timetable.
type Entry struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Devices []string  `json:"devices,omitempty"`
	Next    time.Time `json:"next"`
}

// Scheduler fires configured entries against the session supervisor.
type Scheduler struct {
	cron      *cron.Cron
	sessions  Starter
	devices   DeviceLister
	logger    Logger
	publisher EventPublisher

	mu      sync.Mutex
	entries map[cron.EntryID]config.ScheduleEntry
}

// New creates a scheduler with no entries.
//
// Parameters:
//   - sessions: Where sessions are started
//   - devices: Consulted when an entry names no devices
//
// Returns:
//   - *Scheduler: Idle scheduler; call Add or Load, then Start
func New(sessions Starter, devices DeviceLister) *Scheduler {
	s := &Scheduler{
		sessions:  sessions,
		devices:   devices,
		logger:    noopLogger{},
		publisher: noopPublisher{},
		entries:   make(map[cron.EntryID]config.ScheduleEntry),
	}
	s.cron = cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.Recover(cronLogger{s}), cron.SkipIfStillRunning(cronLogger{s})),
	)
	return s
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetEventPublisher sets where schedule events go.
func (s *Scheduler) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

// Add registers one entry.
func (s *Scheduler) Add(entry config.ScheduleEntry) error {
	if entry.DurationMinutes <= 0 {
		return fmt.Errorf("%w: entry %q", ErrInvalidDuration, entry.Name)
	}
	sched, err := specParser.Parse(entry.Spec)
	if err != nil {
		return fmt.Errorf("%w: entry %q: %w", ErrInvalidSpec, entry.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(context.Background(), entry) }))
	s.entries[id] = entry

	s.logger.Info("schedule entry added", "name", entry.Name, "spec", entry.Spec)
	return nil
}

// Load registers every entry, stopping at the first invalid one.
func (s *Scheduler) Load(entries []config.ScheduleEntry) error {
	for _, e := range entries {
		if err := s.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for jobs")
	}
}

// Entries returns registered entries with their next fire time. Next is
// zero until the scheduler has started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, ce := range s.cron.Entries() {
		cfg, ok := s.entries[ce.ID]
		if !ok {
			continue
		}
		out = append(out, Entry{Name: cfg.Name, Spec: cfg.Spec, Devices: cfg.Devices, Next: ce.Next})
	}
	return out
}

// fire starts sessions for one entry. Per-device failures are reported and
// do not stop the others.
func (s *Scheduler) fire(ctx context.Context, entry config.ScheduleEntry) int {
	ids := entry.Devices
	if len(ids) == 0 {
		for _, rec := range s.devices.Discover(ctx, false) {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		s.publisher.Emit(events.LevelWarning, "", systemLabel, fmt.Sprintf("schedule %q fired with no devices", entry.Name))
		return 0
	}

	duration := time.Duration(entry.DurationMinutes) * time.Minute
	started := 0
	for _, id := range ids {
		if err := s.sessions.Start(id, duration); err != nil {
			s.logger.Warn("scheduled start failed", "name", entry.Name, "device", id, "error", err)
			s.publisher.Emit(events.LevelError, id, systemLabel, fmt.Sprintf("schedule %q could not start: %v", entry.Name, err))
			continue
		}
		started++
	}

	s.publisher.Emit(events.LevelInfo, "", systemLabel,
		fmt.Sprintf("schedule %q started %d of %d sessions", entry.Name, started, len(ids)))
	s.logger.Info("schedule fired", "name", entry.Name, "started", started, "targets", len(ids))
	return started
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct{ s *Scheduler }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
