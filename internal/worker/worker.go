package worker

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/policy"
	"github.com/nerrad567/graytap-core/internal/template"
)

// Screen is the part of device.Link a worker drives.
type Screen interface {
	Capture(ctx context.Context, deviceID string) (image.Image, error)
	Tap(ctx context.Context, deviceID string, x, y int) error
}

// Matcher finds a template in a frame.
type Matcher interface {
	Match(frame *template.Frame, spec template.Spec) (template.Match, bool)
}

// Publisher receives user-facing session events. *events.Bus implements it.
type Publisher interface {
	Emit(level events.Level, deviceID, label, message string)
}

// Recorder observes worker activity for metrics.
type Recorder interface {
	RecordCapture(deviceID string, took time.Duration, err error)
	RecordMatch(deviceID string, m template.Match)
	RecordClick(deviceID, templateName string)
	RecordAbort(deviceID, reason string)
}

// Logger defines the logging interface for workers and the supervisor.
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

type noopRecorder struct{}

func (noopRecorder) RecordCapture(string, time.Duration, error) {}
func (noopRecorder) RecordMatch(string, template.Match)         {}
func (noopRecorder) RecordClick(string, string)                 {}
func (noopRecorder) RecordAbort(string, string)                 {}

// worker runs the capture, match and act loop for one session. Every method
// runs on the worker's own goroutine.
type worker struct {
	sess    *session
	screen  Screen
	matcher Matcher
	catalog *template.Catalog
	policy  *policy.Table
	aborts  []template.Spec
	actions []template.Spec
	timings Timings
	rng     *rand.Rand

	logger    Logger
	publisher Publisher
	recorder  Recorder

	lastVerbose time.Time
}

// run is the worker goroutine. It always closes sess.done.
func (w *worker) run(ctx context.Context) {
	defer close(w.sess.done)
	defer func() {
		if r := recover(); r != nil {
			w.sess.setState(StateFailed)
			w.logger.Error("worker crashed",
				"device", w.sess.deviceID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			w.emit(events.LevelError, fmt.Sprintf("worker failed: %v", r))
			return
		}
		w.sess.setState(StateStopped)
		w.emit(events.LevelInfo, "task complete")
		w.logger.Info("session finished", "device", w.sess.deviceID, "session", w.sess.id)
	}()

	w.emit(events.LevelInfo, fmt.Sprintf("starting task, %d minutes", int(w.sess.planned.Round(time.Minute)/time.Minute)))

	for !w.finished(ctx) {
		if w.sess.sig.paused.Load() {
			w.sess.setState(StatePaused)
			w.sleep(ctx, w.timings.PauseTick)
			continue
		}
		w.sess.setState(StateRunning)
		w.iterate(ctx)
	}
}

// finished reports a stop request, cancellation or an expired duration.
func (w *worker) finished(ctx context.Context) bool {
	if ctx.Err() != nil || w.sess.sig.stopRequested() {
		return true
	}
	return time.Since(w.sess.startedAt) >= w.sess.planned
}

// halted reports whether the worker must not capture or tap right now:
// the session is ending or paused.
func (w *worker) halted(ctx context.Context) bool {
	return w.sess.sig.paused.Load() || w.finished(ctx)
}

// sleep waits for d and reports false if stop or cancellation cut it short.
func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !w.finished(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.sess.sig.stop:
		return false
	case <-t.C:
		return true
	}
}

// iterate runs one loop body. A panic is contained here so the loop survives.
func (w *worker) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("iteration panic", "device", w.sess.deviceID, "panic", r)
			w.emit(events.LevelError, fmt.Sprintf("iteration error: %v", r))
			w.sleep(ctx, w.timings.ErrorBackoff)
		}
	}()

	if w.halted(ctx) {
		return
	}
	frame, ok := w.capture(ctx)
	if !ok {
		w.sleep(ctx, w.timings.CaptureBackoff)
		return
	}
	if w.halted(ctx) {
		return
	}

	if w.checkAborts(frame) {
		return
	}

	if w.act(ctx, frame) {
		return
	}

	if time.Since(w.lastVerbose) >= w.timings.VerboseInterval {
		w.lastVerbose = time.Now()
		w.emit(events.LevelInfo, "no actionable marker found")
	}
	w.sleep(ctx, w.timings.IdleSleep)
}

// capture grabs and wraps one frame. A failure is reported as an error event
// unless the session is already ending.
func (w *worker) capture(ctx context.Context) (*template.Frame, bool) {
	start := time.Now()
	img, err := w.screen.Capture(ctx, w.sess.deviceID)
	w.recorder.RecordCapture(w.sess.deviceID, time.Since(start), err)

	if err == nil && img == nil {
		err = fmt.Errorf("empty frame")
	}
	if err != nil {
		if w.finished(ctx) {
			return nil, false
		}
		w.logger.Warn("capture failed", "device", w.sess.deviceID, "error", err)
		w.emit(events.LevelError, fmt.Sprintf("capture failed: %v", err))
		return nil, false
	}
	return template.NewFrame(img), true
}

// checkAborts tests abort triggers and pauses on the first hit.
func (w *worker) checkAborts(frame *template.Frame) bool {
	for _, spec := range w.aborts {
		m, ok := w.matcher.Match(frame, spec)
		if !ok {
			continue
		}
		w.recorder.RecordMatch(w.sess.deviceID, m)
		w.abort(w.policy.Lookup(spec.Name).AbortReason(), m)
		return true
	}
	return false
}

// abort raises the pause flag. Only the caller that flips it reports the
// transition.
func (w *worker) abort(reason string, m template.Match) {
	if !w.sess.sig.paused.CompareAndSwap(false, true) {
		w.logger.Debug("abort trigger seen while already paused", "device", w.sess.deviceID, "reason", reason)
		return
	}
	w.sess.setState(StatePaused)
	w.recorder.RecordAbort(w.sess.deviceID, reason)
	w.logger.Warn("abort trigger detected, pausing",
		"device", w.sess.deviceID,
		"template", m.Template,
		"confidence", m.Confidence,
		"reason", reason,
	)
	w.emit(events.LevelWarning, fmt.Sprintf("%s, pausing", reason))
}

// inCooldown reports whether fewer than d has passed since the last click.
func (w *worker) inCooldown(d time.Duration) bool {
	since, clicked := w.sess.sinceLastClick(time.Now())
	return clicked && since < d
}

// act tries action templates in order until one tap succeeds.
func (w *worker) act(ctx context.Context, frame *template.Frame) bool {
	if w.inCooldown(w.timings.ClickCooldown) {
		return false
	}

	fw, fh := frame.Size()
	for _, spec := range w.actions {
		if w.halted(ctx) {
			return true
		}
		rule := w.policy.Lookup(spec.Name)
		if rule.Cooldown > 0 && w.inCooldown(rule.Cooldown) {
			continue
		}

		m, ok := w.matcher.Match(frame, spec)
		if !ok {
			continue
		}
		w.recorder.RecordMatch(w.sess.deviceID, m)

		if w.click(ctx, rule, m, fw, fh) {
			return true
		}
	}
	return false
}

// click performs the rule's pre-wait, tap and follow-up. It returns true once
// a tap was dispatched. No tap is sent if the session was paused or stopped
// during the wait. Taps are kept inside the fw x fh frame.
func (w *worker) click(ctx context.Context, rule policy.Rule, m template.Match, fw, fh int) bool {
	if rule.PreClickWait != nil {
		wait := rule.PreClickWait.Pick(w.rng)
		w.emit(events.LevelInfo, fmt.Sprintf("found %s, waiting %.1fs before click", m.Template, wait.Seconds()))
		if !w.sleep(ctx, wait) {
			return false
		}
	}
	if w.halted(ctx) {
		return false
	}

	x, y := w.timings.TapJitter.Apply(w.rng, m.X, m.Y)
	x, y = clamp(x, 0, fw-1), clamp(y, 0, fh-1)
	if err := w.screen.Tap(ctx, w.sess.deviceID, x, y); err != nil {
		w.logger.Warn("tap failed", "device", w.sess.deviceID, "template", m.Template, "error", err)
		w.emit(events.LevelError, fmt.Sprintf("tap on %s failed: %v", m.Template, err))
		return false
	}

	w.sess.recordClick(time.Now())
	w.recorder.RecordClick(w.sess.deviceID, m.Template)
	w.logger.Debug("tapped",
		"device", w.sess.deviceID,
		"template", m.Template,
		"confidence", m.Confidence,
		"x", x, "y", y,
	)
	w.emit(events.LevelInfo, fmt.Sprintf("clicked %s (%.2f)", m.Template, m.Confidence))

	if rule.Recheck != "" {
		w.recheck(ctx, rule.Recheck)
		return true
	}

	w.sleep(ctx, w.timings.PostClick.Pick(w.rng))
	return true
}

// recheck captures again after the settle delay and pauses if the named
// template is present. The click that preceded it stands either way.
func (w *worker) recheck(ctx context.Context, name string) {
	if !w.sleep(ctx, w.timings.RecheckSettle) || w.halted(ctx) {
		return
	}
	spec, ok := w.catalog.Get(name)
	if !ok {
		return
	}
	frame, ok := w.capture(ctx)
	if !ok {
		return
	}
	if m, ok := w.matcher.Match(frame, spec); ok {
		w.recorder.RecordMatch(w.sess.deviceID, m)
		w.abort(w.policy.Lookup(name).AbortReason(), m)
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func (w *worker) emit(level events.Level, message string) {
	w.publisher.Emit(level, w.sess.deviceID, w.sess.label, message)
}
