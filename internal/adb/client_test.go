package adb

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/graytap-core/internal/device"
)

// ─── Mock Runner ────────────────────────────────────────────────────

type call struct {
	name string
	args []string
}

func (c call) String() string {
	return c.name + " " + strings.Join(c.args, " ")
}

type mockRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string]string // joined args -> stdout
	fail    map[string]bool   // joined args -> error
	onPull  func(local string) error
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		outputs: make(map[string]string),
		fail:    make(map[string]bool),
	}
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{name: name, args: args})
	key := strings.Join(args, " ")
	out, failed, onPull := m.outputs[key], m.fail[key], m.onPull
	m.mu.Unlock()

	if failed {
		return nil, ErrCommandFailed
	}
	if len(args) >= 3 && args[2] == "pull" && onPull != nil {
		if err := onPull(args[len(args)-1]); err != nil {
			return nil, err
		}
	}
	return []byte(out), nil
}

func (m *mockRunner) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.String()
	}
	return out
}

func writeTestPNG(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func newTestClient(t *testing.T) (*Client, *mockRunner, string) {
	t.Helper()
	dir := t.TempDir()
	runner := newMockRunner()
	c := NewClient(Config{Binary: "adb", ScreenshotDir: dir})
	c.SetRunner(runner)
	return c, runner, dir
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestClient_Capture(t *testing.T) {
	c, runner, dir := newTestClient(t)
	runner.onPull = writeTestPNG

	img, err := c.Capture(context.Background(), "127.0.0.1:16384")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("frame size = %v, want 4x3", b)
	}

	local := filepath.Join(dir, "screenshot_127.0.0.1_16384.png")
	want := []string{
		"adb -s 127.0.0.1:16384 shell screencap -p /sdcard/screenshot.png",
		"adb -s 127.0.0.1:16384 pull /sdcard/screenshot.png " + local,
		"adb -s 127.0.0.1:16384 shell rm /sdcard/screenshot.png",
	}
	if got := runner.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands =\n%v\nwant\n%v", got, want)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("local screenshot should be removed after decoding")
	}
}

func TestClient_CaptureFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *mockRunner)
		remove bool // remote rm still attempted
	}{
		{
			name: "screencap fails",
			setup: func(r *mockRunner) {
				r.fail["-s d shell screencap -p /sdcard/screenshot.png"] = true
			},
		},
		{
			name:   "pull fails",
			setup:  func(r *mockRunner) { r.onPull = func(string) error { return ErrCommandFailed } },
			remove: true,
		},
		{
			name: "corrupt image",
			setup: func(r *mockRunner) {
				r.onPull = func(local string) error { return os.WriteFile(local, []byte("garbage"), 0600) }
			},
			remove: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, runner, _ := newTestClient(t)
			tt.setup(runner)

			img, err := c.Capture(context.Background(), "d")
			if img != nil {
				t.Error("expected nil frame")
			}
			if !errors.Is(err, device.ErrCaptureFailed) {
				t.Errorf("Capture() error = %v, want ErrCaptureFailed", err)
			}

			removed := false
			for _, cmd := range runner.commands() {
				if strings.HasSuffix(cmd, "shell rm /sdcard/screenshot.png") {
					removed = true
				}
			}
			if removed != tt.remove {
				t.Errorf("remote cleanup attempted = %v, want %v", removed, tt.remove)
			}
		})
	}
}

func TestClient_Tap(t *testing.T) {
	c, runner, _ := newTestClient(t)

	if err := c.Tap(context.Background(), "d", 120, 340); err != nil {
		t.Fatalf("Tap() error = %v", err)
	}
	if got := runner.commands(); len(got) != 1 || got[0] != "adb -s d shell input tap 120 340" {
		t.Errorf("commands = %v", got)
	}

	runner.fail["-s d shell input tap 1 2"] = true
	if err := c.Tap(context.Background(), "d", 1, 2); !errors.Is(err, device.ErrTapFailed) {
		t.Errorf("Tap() error = %v, want ErrTapFailed", err)
	}
}

func TestClient_Query(t *testing.T) {
	c, runner, _ := newTestClient(t)
	runner.outputs["-s d shell getprop ro.product.model"] = "MI 9\r\n"

	got, err := c.Query(context.Background(), "d", device.PropModel)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "MI 9" {
		t.Errorf("Query() = %q, want %q", got, "MI 9")
	}
}

func TestClient_DiscoverCandidates(t *testing.T) {
	c, runner, _ := newTestClient(t)
	runner.outputs["devices"] = `* daemon not running; starting now at tcp:5037
* daemon started successfully
List of devices attached
127.0.0.1:16384	device
emulator-5554	offline
R58M123ABC	unauthorized
127.0.0.1:5555	device

`
	got, err := c.DiscoverCandidates(context.Background())
	if err != nil {
		t.Fatalf("DiscoverCandidates() error = %v", err)
	}
	want := []string{"127.0.0.1:16384", "127.0.0.1:5555"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DiscoverCandidates() = %v, want %v", got, want)
	}
}

func TestClient_Connect(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{"connected", "connected to 127.0.0.1:16384", false},
		{"already connected", "already connected to 127.0.0.1:16384", false},
		{"refused", "failed to connect to '127.0.0.1:16384': Connection refused", true},
		{"cannot connect", "cannot connect to 127.0.0.1:16384: No connection could be made", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, runner, _ := newTestClient(t)
			runner.outputs["connect 127.0.0.1:16384"] = tt.output

			err := c.Connect(context.Background(), "127.0.0.1:16384")
			if (err != nil) != tt.wantErr {
				t.Errorf("Connect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrConnectRefused) {
				t.Errorf("Connect() error = %v, want ErrConnectRefused", err)
			}
		})
	}
}

func TestClient_ResetServer(t *testing.T) {
	c, runner, _ := newTestClient(t)
	runner.fail["kill-server"] = true

	if err := c.ResetServer(context.Background()); err != nil {
		t.Fatalf("ResetServer() error = %v", err)
	}
	want := []string{"adb kill-server", "adb start-server"}
	if got := runner.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}

	runner.fail["start-server"] = true
	if err := c.ResetServer(context.Background()); err == nil {
		t.Error("expected error when start-server fails")
	}
}

func TestLocalName(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:16384": "screenshot_127.0.0.1_16384.png",
		"emulator-5554":   "screenshot_emulator-5554.png",
		"usb/dev":         "screenshot_usb_dev.png",
	}
	for in, want := range tests {
		if got := localName(in); got != want {
			t.Errorf("localName(%q) = %q, want %q", in, got, want)
		}
	}
}
