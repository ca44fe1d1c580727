package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/graytap-core/internal/device"
	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/graytap-core/internal/worker"
)

// Broker is the subset of *mqtt.Client the bridge uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Topics() mqtt.Topics
	QoS() byte
}

// Sessions is the subset of *worker.Supervisor commands are applied to.
type Sessions interface {
	Start(deviceID string, duration time.Duration) error
	Pause(deviceID string) (worker.State, error)
	Resume(deviceID string) (worker.State, error)
	TogglePause(deviceID string) (worker.State, error)
	Stop(deviceID string) error
	StopAll()
	PauseAll()
	ResumeAll()
	ProgressAll() []worker.Progress
}

// DeviceLister supplies the devices a start-all command targets.
type DeviceLister interface {
	Devices() []device.Record
}

// Logger defines the logging interface for the bridge.
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

// Command actions.
const (
	ActionStart  = "start"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionToggle = "toggle"
	ActionStop   = "stop"
)

// Command is the JSON body of a command message.
type Command struct {
	Action          string  `json:"action"`
	DurationMinutes float64 `json:"duration_minutes,omitempty"`
}

// StatusMessage is the retained body of a device status topic.
type StatusMessage struct {
	worker.Progress
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// Bridge connects the event bus and supervisor to an MQTT broker.
type Bridge struct {
	broker   Broker
	sessions Sessions
	devices  DeviceLister
	logger   Logger

	defaultDuration time.Duration
}

// New creates a bridge. Start commands without a duration use defaultDuration.
func New(broker Broker, sessions Sessions, defaultDuration time.Duration) *Bridge {
	return &Bridge{
		broker:          broker,
		sessions:        sessions,
		logger:          noopLogger{},
		defaultDuration: defaultDuration,
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// SetDeviceLister sets the device source for commands addressed to all devices.
func (b *Bridge) SetDeviceLister(d DeviceLister) {
	b.devices = d
}

// Attach forwards bus records to MQTT until the returned function is called.
func (b *Bridge) Attach(bus *events.Bus) (func(), error) {
	return bus.Subscribe(b.forward)
}

func (b *Bridge) forward(rec events.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		b.logger.Error("encoding event", "error", err)
		return
	}
	topics := b.broker.Topics()
	topic := topics.SystemEvent()
	if rec.DeviceID != "" {
		topic = topics.DeviceEvent(rec.DeviceID)
	}
	if err := b.broker.Publish(topic, payload, b.broker.QoS(), false); err != nil {
		b.logger.Debug("event not forwarded", "topic", topic, "error", err)
	}
}

// SessionStarted implements worker.Observer.
func (b *Bridge) SessionStarted(p worker.Progress) {
	b.publishStatus(p)
}

// SessionEnded implements worker.Observer.
func (b *Bridge) SessionEnded(p worker.Progress) {
	b.publishStatus(p)
}

func (b *Bridge) publishStatus(p worker.Progress) {
	payload, err := json.Marshal(StatusMessage{
		Progress:         p,
		ElapsedSeconds:   p.Elapsed.Seconds(),
		RemainingSeconds: p.Remaining.Seconds(),
	})
	if err != nil {
		b.logger.Error("encoding status", "device", p.DeviceID, "error", err)
		return
	}
	topic := b.broker.Topics().DeviceStatus(p.DeviceID)
	if err := b.broker.Publish(topic, payload, b.broker.QoS(), true); err != nil {
		b.logger.Debug("status not published", "topic", topic, "error", err)
	}
}

// PublishStatus publishes the current progress of every known session.
func (b *Bridge) PublishStatus() {
	for _, p := range b.sessions.ProgressAll() {
		b.publishStatus(p)
	}
}

// RunStatus publishes status every interval until ctx is cancelled.
func (b *Bridge) RunStatus(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.PublishStatus()
		}
	}
}

// Listen subscribes to the command topics.
func (b *Bridge) Listen() error {
	topic := b.broker.Topics().AllCommands()
	if err := b.broker.Subscribe(topic, b.broker.QoS(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.logger.Info("listening for remote commands", "topic", topic)
	return nil
}

// Close unsubscribes from the command topics.
func (b *Bridge) Close() error {
	return b.broker.Unsubscribe(b.broker.Topics().AllCommands())
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	target, ok := b.broker.Topics().CommandTarget(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrBadCommand, err)
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))

	b.logger.Info("remote command", "target", target, "action", cmd.Action)

	if target == mqtt.CommandTargetAll {
		return b.applyAll(cmd)
	}
	return b.apply(target, cmd)
}

// apply runs cmd against one device.
func (b *Bridge) apply(deviceID string, cmd Command) error {
	var err error
	switch cmd.Action {
	case ActionStart:
		err = b.sessions.Start(deviceID, b.duration(cmd))
	case ActionPause:
		_, err = b.sessions.Pause(deviceID)
	case ActionResume:
		_, err = b.sessions.Resume(deviceID)
	case ActionToggle:
		_, err = b.sessions.TogglePause(deviceID)
	case ActionStop:
		err = b.sessions.Stop(deviceID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd.Action, deviceID, err)
	}
	return nil
}

// applyAll runs cmd against every device.
func (b *Bridge) applyAll(cmd Command) error {
	switch cmd.Action {
	case ActionPause:
		b.sessions.PauseAll()
	case ActionResume:
		b.sessions.ResumeAll()
	case ActionStop:
		b.sessions.StopAll()
	case ActionStart:
		if b.devices == nil {
			return nil
		}
		for _, rec := range b.devices.Devices() {
			if err := b.sessions.Start(rec.ID, b.duration(cmd)); err != nil {
				b.logger.Warn("remote start failed", "device", rec.ID, "error", err)
			}
		}
	default:
		return fmt.Errorf("%w: %q for all devices", ErrUnknownAction, cmd.Action)
	}
	return nil
}

func (b *Bridge) duration(cmd Command) time.Duration {
	if cmd.DurationMinutes > 0 {
		return time.Duration(cmd.DurationMinutes * float64(time.Minute))
	}
	return b.defaultDuration
}
