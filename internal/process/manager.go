package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// maxLineLength caps a single captured output line.
const maxLineLength = 64 * 1024

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name identifies the process in logs.
	Name string

	// Binary is the executable to run.
	Binary string

	// Args are passed to Binary.
	Args []string

	// RestartOnFailure restarts the process when it exits without Stop.
	RestartOnFailure bool

	// RestartDelay is the first restart delay. It doubles on each consecutive
	// failure up to MaxRestartDelay.
	RestartDelay time.Duration

	// MaxRestartDelay caps the restart backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last before the backoff and the
	// consecutive failure count are reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after the terminate signal
	// before killing the process.
	GracefulTimeout time.Duration

	// Probe checks that the running process is serving. Nil disables probing.
	Probe func(ctx context.Context) error

	// ProbeInterval is the time between probes.
	ProbeInterval time.Duration

	// ProbeFailures is how many consecutive probe failures kill the process.
	ProbeFailures int

	// OnExit is called after every exit with nil for a requested stop.
	OnExit func(err error)
}

// DefaultConfig returns a Config with restart enabled.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Second,
		MaxRestartDelay:    5 * time.Minute,
		StableThreshold:    2 * time.Minute,
		MaxRestartAttempts: 10,
		GracefulTimeout:    10 * time.Second,
		ProbeInterval:      30 * time.Second,
		ProbeFailures:      3,
	}
}

// ADBServerArgs runs the adb server in the foreground so it can be supervised.
var ADBServerArgs = []string{"nodaemon", "server"}

// Logger defines the logging interface for the process manager.
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

// Manager runs one subprocess and restarts it when it dies.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	exited        chan error // receives the current cmd's Wait result
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	stop          chan struct{} // closed by Stop
	done          chan struct{} // closed when monitor returns
}

// NewManager creates a process manager. Zero durations get defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeFailures <= 0 {
		cfg.ProbeFailures = 3
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the process and a monitor goroutine that restarts it.
// It returns an error only when the first launch fails.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

// launch starts one process instance.
func (m *Manager) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from configuration
	cmd.SysProcAttr = newProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	var pipes sync.WaitGroup
	pipes.Add(2)
	go m.captureLines(&pipes, "stdout", stdout)
	go m.captureLines(&pipes, "stderr", stderr)

	// Wait must not run before the pipes are drained.
	exited := make(chan error, 1)
	go func() {
		pipes.Wait()
		exited <- cmd.Wait()
	}()

	m.mu.Lock()
	m.cmd = cmd
	m.exited = exited
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
		"args", m.config.Args,
	)
	return nil
}

// captureLines logs each output line at debug level.
func (m *Manager) captureLines(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		m.logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"line", scanner.Text(),
		)
	}
	// Drain anything left after an over-long line so the child never blocks.
	_, _ = io.Copy(io.Discard, r)
}

// waitExit waits for the process to exit. When a probe is configured and
// fails ProbeFailures times in a row, the process is killed.
func (m *Manager) waitExit(ctx context.Context, cmd *exec.Cmd, exited <-chan error) error {
	if m.config.Probe == nil {
		return <-exited
	}

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeInterval)
			err := m.config.Probe(probeCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("probe recovered", "name", m.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("probe failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
			if failures < m.config.ProbeFailures {
				continue
			}

			m.logger.Error("process unresponsive, killing", "name", m.config.Name, "failures", failures)
			killGroup(cmd)
			exitErr := <-exited
			return fmt.Errorf("killed after %d failed probes: %v", failures, exitErr)
		}
	}
}

// backoff returns the delay before the given consecutive restart attempt.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return d
}

// monitor waits for each exit and restarts the process until Stop, context
// cancellation or the restart limit.
func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	consecutive := 0
	for {
		m.mu.RLock()
		cmd, exited, started := m.cmd, m.exited, m.startTime
		m.mu.RUnlock()

		err := m.waitExit(ctx, cmd, exited)

		m.mu.Lock()
		stopRequested := m.stopRequested
		if stopRequested {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
		}
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped", "name", m.config.Name)
			m.notifyExit(nil)
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
		m.notifyExit(err)

		if !m.config.RestartOnFailure || ctx.Err() != nil {
			return
		}

		if time.Since(started) >= m.config.StableThreshold {
			consecutive = 0
		}
		consecutive++
		if m.config.MaxRestartAttempts > 0 && consecutive > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", consecutive-1)
			return
		}

		delay := m.backoff(consecutive)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", consecutive, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			m.setStatus(StatusStopped)
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.stopRequested {
			m.status = StatusStopped
			m.mu.Unlock()
			return
		}
		m.restartCount++
		m.mu.Unlock()

		for {
			lerr := m.launch(ctx)
			if lerr == nil {
				break
			}
			m.logger.Error("restart failed", "name", m.config.Name, "error", lerr)
			consecutive++
			if m.config.MaxRestartAttempts > 0 && consecutive > m.config.MaxRestartAttempts {
				m.mu.Lock()
				m.lastError = lerr
				m.mu.Unlock()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				m.setStatus(StatusStopped)
				return
			case <-time.After(m.backoff(consecutive)):
			}
		}
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) notifyExit(err error) {
	if m.config.OnExit != nil {
		m.config.OnExit(err)
	}
}

// Stop terminates the process group, escalating to a kill after
// GracefulTimeout. It returns once the monitor has exited.
func (m *Manager) Stop() error {
	m.mu.Lock()
	done := m.done
	if done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stop)
	}
	cmd := m.cmd
	running := m.status == StatusRunning
	m.mu.Unlock()

	if running && cmd != nil && cmd.Process != nil {
		m.logger.Info("stopping process", "name", m.config.Name, "pid", cmd.Process.Pid)
		terminateGroup(cmd)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful stop timed out, killing", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	m.mu.RLock()
	cmd = m.cmd
	m.mu.RUnlock()
	if cmd != nil {
		killGroup(cmd)
	}
	<-done
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error from the last unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restarts since Start.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current instance has been running, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if not started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats describes the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
