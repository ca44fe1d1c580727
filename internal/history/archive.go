package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/infrastructure/database"
	"github.com/nerrad567/graytap-core/internal/worker"
)

// writeTimeout bounds a single archive write.
const writeTimeout = 5 * time.Second

// defaultLimit caps a query without an explicit limit.
const defaultLimit = 200

// Logger defines the logging interface for the archive.
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

// Archive persists events and sessions.
type Archive struct {
	db        *database.DB
	logger    Logger
	retention time.Duration
}

var _ worker.Observer = (*Archive)(nil)

// New creates an archive on a migrated database.
func New(db *database.DB) *Archive {
	return &Archive{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger for the archive.
func (a *Archive) SetLogger(logger Logger) {
	a.logger = logger
}

// SetRetention sets how long rows are kept by Prune. Zero keeps everything.
func (a *Archive) SetRetention(d time.Duration) {
	a.retention = d
}

// Attach subscribes the archive to bus and returns the unsubscribe function.
func (a *Archive) Attach(bus *events.Bus) (func(), error) {
	return bus.Subscribe(func(rec events.Record) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := a.RecordEvent(ctx, rec); err != nil {
			a.logger.Warn("archiving event failed", "event_id", rec.ID, "error", err)
		}
	})
}

// RecordEvent stores one event. Re-recording the same ID is a no-op.
func (a *Archive) RecordEvent(ctx context.Context, rec events.Record) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, ts, device_id, device_label, level, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixMilli(), rec.DeviceID, rec.DeviceLabel, string(rec.Level), rec.Message,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// EventFilter narrows an event query. Zero fields match everything.
type EventFilter struct {
	DeviceID string
	Level    events.Level
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Events returns matching events, oldest first. When more rows match than
// Limit, the most recent Limit are returned.
func (a *Archive) Events(ctx context.Context, f EventFilter) ([]events.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.Level != "" {
		where = append(where, "level = ?")
		args = append(args, string(f.Level))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.Until.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	q := "SELECT id, ts, device_id, device_label, level, message FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	out := make([]events.Record, 0, limit)
	for rows.Next() {
		var (
			rec   events.Record
			ts    int64
			level string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.DeviceID, &rec.DeviceLabel, &level, &rec.Message); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts).UTC()
		rec.Level = events.Level(level)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SessionRecord is one archived session run.
type SessionRecord struct {
	ID          string        `json:"id"`
	DeviceID    string        `json:"device_id"`
	DeviceLabel string        `json:"device_label"`
	StartedAt   time.Time     `json:"started_at"`
	Planned     time.Duration `json:"planned"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	FinalState  string        `json:"final_state,omitempty"`
	Clicks      int           `json:"clicks"`
}

// SessionStarted records a new session.
func (a *Archive) SessionStarted(p worker.Progress) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, device_id, device_label, started_at, planned_ms)
		VALUES (?, ?, ?, ?, ?)`,
		p.SessionID, p.DeviceID, p.Label, p.StartedAt.UnixMilli(), p.Planned.Milliseconds(),
	)
	if err != nil {
		a.logger.Warn("archiving session start failed", "session", p.SessionID, "error", err)
	}
}

// SessionEnded records the outcome of a session.
func (a *Archive) SessionEnded(p worker.Progress) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	ended := p.StartedAt.Add(p.Elapsed)
	_, err := a.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, final_state = ?, clicks = ? WHERE id = ?`,
		ended.UnixMilli(), string(p.State), p.Clicks, p.SessionID,
	)
	if err != nil {
		a.logger.Warn("archiving session end failed", "session", p.SessionID, "error", err)
	}
}

// Sessions returns the most recent sessions, newest first. An empty
// deviceID matches every device.
func (a *Archive) Sessions(ctx context.Context, deviceID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	q := `SELECT id, device_id, device_label, started_at, planned_ms, ended_at, final_state, clicks FROM sessions`
	var args []any
	if deviceID != "" {
		q += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	q += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r         SessionRecord
			started   int64
			plannedMS int64
			ended     sql.NullInt64
			state     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.DeviceLabel, &started, &plannedMS, &ended, &state, &r.Clicks); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.Planned = time.Duration(plannedMS) * time.Millisecond
		if ended.Valid {
			t := time.UnixMilli(ended.Int64).UTC()
			r.EndedAt = &t
		}
		r.FinalState = state.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes events and finished sessions older than the retention
// period, measured from now. It is a no-op without a retention.
func (a *Archive) Prune(ctx context.Context, now time.Time) (eventsDeleted, sessionsDeleted int64, err error) {
	if a.retention <= 0 {
		return 0, 0, nil
	}
	cutoff := now.Add(-a.retention).UnixMilli()

	err = a.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff)
		if err != nil {
			return fmt.Errorf("pruning events: %w", err)
		}
		eventsDeleted, _ = res.RowsAffected() //nolint:errcheck // sqlite always reports it

		res, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("pruning sessions: %w", err)
		}
		sessionsDeleted, _ = res.RowsAffected() //nolint:errcheck // sqlite always reports it
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if eventsDeleted > 0 || sessionsDeleted > 0 {
		a.logger.Info("history pruned", "events", eventsDeleted, "sessions", sessionsDeleted)
	}
	return eventsDeleted, sessionsDeleted, nil
}

// RunPruner prunes once per interval until ctx is cancelled.
func (a *Archive) RunPruner(ctx context.Context, interval time.Duration) {
	if a.retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, _, err := a.Prune(ctx, time.Now()); err != nil {
			a.logger.Warn("history prune failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
