package adb

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/graytap-core/internal/device"
)

// Default settings used when Config leaves them empty.
const (
	defaultBinary         = "adb"
	defaultRemotePath     = "/sdcard/screenshot.png"
	defaultCommandTimeout = 15 * time.Second
)

// Logger defines the logging interface for the adb client.
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

// Config holds adb client settings.
type Config struct {
	// Binary is the adb executable. Default: "adb" from PATH.
	Binary string

	// ScreenshotDir receives pulled frames before they are decoded.
	// Default: the OS temp directory.
	ScreenshotDir string

	// RemotePath is where screencap writes on the device.
	RemotePath string

	// CommandTimeout bounds every adb invocation.
	CommandTimeout time.Duration
}

// Client is a device.Link backed by the adb CLI.
//
// Thread Safety: Client is stateless apart from configuration; concurrent
// calls for different devices are safe. Concurrent captures of the same
// device would share a remote path and must not overlap, which the
// one-worker-per-device rule guarantees.
type Client struct {
	cfg    Config
	runner Runner
	logger Logger
}

var (
	_ device.Link           = (*Client)(nil)
	_ device.ServerResetter = (*Client)(nil)
)

// NewClient creates an adb client.
func NewClient(cfg Config) *Client {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = os.TempDir()
	}
	if cfg.RemotePath == "" {
		cfg.RemotePath = defaultRemotePath
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	return &Client{
		cfg:    cfg,
		runner: ExecRunner{},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetRunner replaces the command runner.
func (c *Client) SetRunner(r Runner) {
	c.runner = r
}

// Binary returns the adb executable path.
func (c *Client) Binary() string {
	return c.cfg.Binary
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	return c.runner.Run(ctx, c.cfg.Binary, args...)
}

func (c *Client) shell(ctx context.Context, serial string, args ...string) ([]byte, error) {
	return c.run(ctx, append([]string{"-s", serial, "shell"}, args...)...)
}

// Capture takes a screenshot on the device, pulls it and decodes it.
// The remote and local files are removed whether or not decoding succeeds.
func (c *Client) Capture(ctx context.Context, deviceID string) (image.Image, error) {
	if _, err := c.shell(ctx, deviceID, "screencap", "-p", c.cfg.RemotePath); err != nil {
		return nil, fmt.Errorf("%w: screencap: %v", device.ErrCaptureFailed, err)
	}

	local := filepath.Join(c.cfg.ScreenshotDir, localName(deviceID))
	_, pullErr := c.run(ctx, "-s", deviceID, "pull", c.cfg.RemotePath, local)

	if _, err := c.shell(ctx, deviceID, "rm", c.cfg.RemotePath); err != nil {
		c.logger.Debug("removing remote screenshot failed", "device", deviceID, "error", err)
	}

	if pullErr != nil {
		return nil, fmt.Errorf("%w: pull: %v", device.ErrCaptureFailed, pullErr)
	}
	defer os.Remove(local)

	f, err := os.Open(local) //nolint:gosec // path built from configured dir and sanitised serial
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", device.ErrCaptureFailed, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", device.ErrCaptureFailed, err)
	}
	return img, nil
}

// localName builds a per-device file name safe on every filesystem.
func localName(deviceID string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return "screenshot_" + r.Replace(deviceID) + ".png"
}

// Tap injects a touch at (x, y).
func (c *Client) Tap(ctx context.Context, deviceID string, x, y int) error {
	if _, err := c.shell(ctx, deviceID, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("%w: %v", device.ErrTapFailed, err)
	}
	return nil
}

// Query reads a system property with getprop.
func (c *Client) Query(ctx context.Context, deviceID, key string) (string, error) {
	out, err := c.shell(ctx, deviceID, "getprop", key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// DiscoverCandidates lists serials in the "device" state.
func (c *Client) DiscoverCandidates(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(string(out)), nil
}

// parseDevices extracts ready serials from "adb devices" output.
// Offline, unauthorized and header lines are skipped.
func parseDevices(out string) []string {
	var serials []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials
}

// Connect runs "adb connect". adb exits zero even when the connection fails,
// so the output text decides the result.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	out, err := c.run(ctx, "connect", endpoint)
	if err != nil {
		return err
	}
	text := strings.ToLower(string(out))
	if strings.Contains(text, "connected to") && !strings.Contains(text, "cannot") {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrConnectRefused, endpoint, strings.TrimSpace(string(out)))
}

// ResetServer restarts the adb server. A kill-server failure is ignored
// since the server may simply not be running.
func (c *Client) ResetServer(ctx context.Context) error {
	if _, err := c.run(ctx, "kill-server"); err != nil {
		c.logger.Debug("adb kill-server failed", "error", err)
	}
	if _, err := c.run(ctx, "start-server"); err != nil {
		return fmt.Errorf("starting adb server: %w", err)
	}
	c.logger.Info("adb server reset")
	return nil
}
