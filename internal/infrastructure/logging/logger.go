package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
)

const serviceName = "graytap"

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is the engine's operator log. Every entry carries the service
// name and build version. A single instance satisfies the narrow Logger
// interfaces of the device, worker, adb and remote packages.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg. Unknown formats fall back to JSON and
// unknown outputs to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, outputFor(cfg.Output))
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	base := slog.New(h).With("service", serviceName, "version", version)
	return &Logger{Logger: base}
}

// parseLevel maps a config level name to slog, defaulting to info.
func parseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// With returns a child Logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the emitting subsystem, e.g. "worker".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the bootstrap logger used until the config has loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
