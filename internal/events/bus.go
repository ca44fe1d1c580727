package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an event record.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultCapacity is the number of records retained in history.
const DefaultCapacity = 1000

// defaultQueueSize is the per-subscriber notification buffer.
const defaultQueueSize = 256

// Record is one entry of the event history.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id,omitempty"`
	DeviceLabel string    `json:"device_label"`
	Message     string    `json:"message"`
	Level       Level     `json:"level"`
}

// Handler consumes records delivered by the bus.
type Handler func(Record)

// Logger defines the logging interface for the bus.
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

type subscriber struct {
	queue chan Record
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.queue) })
}

// Bus is a bounded, append-only event log with asynchronous fan-out.
//
// Thread Safety: All methods are safe for concurrent use. The single mutex is
// held only while appending to or reading from the ring and while enqueuing
// notifications (which never block).
type Bus struct {
	mu       sync.Mutex
	ring     []Record
	start    int
	count    int
	subs     map[int]*subscriber
	nextSub  int
	closed   bool
	queueLen int

	dropped atomic.Uint64
	logger  Logger
	now     func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity overrides the history size. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.ring = make([]Record, n)
		}
	}
}

// WithQueueSize overrides the per-subscriber queue length.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueLen = n
		}
	}
}

// NewBus creates an empty bus holding up to DefaultCapacity records.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		ring:     make([]Record, DefaultCapacity),
		subs:     make(map[int]*subscriber),
		queueLen: defaultQueueSize,
		logger:   noopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Publish appends a record to history and notifies subscribers.
// Missing ID, timestamp and level are filled in.
func (b *Bus) Publish(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = b.now()
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.ring)
	if b.count < capacity {
		b.ring[(b.start+b.count)%capacity] = rec
		b.count++
	} else {
		// Overwrite the oldest entry.
		b.ring[b.start] = rec
		b.start = (b.start + 1) % capacity
	}

	for id, s := range b.subs {
		select {
		case s.queue <- rec:
		default:
			b.dropped.Add(1)
			b.logger.Debug("event notification dropped", "subscriber", id, "event_id", rec.ID)
		}
	}
}

// Emit is shorthand for publishing a record built from its parts.
func (b *Bus) Emit(level Level, deviceID, label, message string) {
	b.Publish(Record{
		DeviceID:    deviceID,
		DeviceLabel: label,
		Message:     message,
		Level:       level,
	})
}

// Info publishes an info record.
func (b *Bus) Info(deviceID, label, message string) {
	b.Emit(LevelInfo, deviceID, label, message)
}

// Warn publishes a warning record.
func (b *Bus) Warn(deviceID, label, message string) {
	b.Emit(LevelWarning, deviceID, label, message)
}

// Error publishes an error record.
func (b *Bus) Error(deviceID, label, message string) {
	b.Emit(LevelError, deviceID, label, message)
}

// Recent returns up to n of the most recent records, oldest first.
func (b *Bus) Recent(n int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.count == 0 {
		return []Record{}
	}
	if n > b.count {
		n = b.count
	}

	out := make([]Record, n)
	capacity := len(b.ring)
	first := b.start + b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.ring[(first+i)%capacity]
	}
	return out
}

// Len returns the number of records currently retained.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns how many subscriber notifications were discarded because
// the subscriber's queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers fn to receive every record published from now on.
//
// fn runs on a dedicated goroutine, one record at a time, in publish order.
// A panic inside fn is recovered and logged; delivery continues.
//
// Returns:
//   - func(): Unsubscribe; safe to call more than once
//   - error: ErrClosed if the bus has been closed
func (b *Bus) Subscribe(fn Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}, ErrClosed
	}
	id := b.nextSub
	b.nextSub++
	s := &subscriber{
		queue: make(chan Record, b.queueLen),
		done:  make(chan struct{}),
	}
	b.subs[id] = s
	b.mu.Unlock()

	go b.dispatch(id, s, fn)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.close()
		<-s.done
	}, nil
}

func (b *Bus) dispatch(id int, s *subscriber, fn Handler) {
	defer close(s.done)
	for rec := range s.queue {
		b.deliver(id, fn, rec)
	}
}

func (b *Bus) deliver(id int, fn Handler, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in event subscriber", "subscriber", id, "panic", r)
		}
	}()
	fn(rec)
}

// Close stops every dispatcher after its queue drains. Publish keeps
// recording history after Close; only notification stops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
		<-s.done
	}
}
