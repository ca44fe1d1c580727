package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/graytap-core/internal/api"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a config with every optional integration disabled.
func writeConfig(t *testing.T, port int, extra string) string {
	t.Helper()
	dir := t.TempDir()
	templates := filepath.Join(dir, "templates")
	if err := os.Mkdir(templates, 0o755); err != nil {
		t.Fatal(err)
	}

	content := `
templates:
  dir: "` + templates + `"
  threshold: 0.8

adb:
  binary: "` + filepath.Join(dir, "no-such-adb") + `"
  reset_server: false
  connect_settle_ms: 0
  default_ports: []
  extra_ports: []

database:
  enabled: true
  path: "` + filepath.Join(dir, "graytap.db") + `"
  wal_mode: true
  busy_timeout: 5

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: ` + strconv.Itoa(port) + `

security:
  jwt:
    secret: "` + testSecret + `"
` + extra

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingTemplateDir(t *testing.T) {
	path := writeConfig(t, freePort(t), "")
	t.Setenv("GRAYTAP_TEMPLATES_DIR", "/nonexistent/templates")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "loading templates") {
		t.Fatalf("run() error = %v, want template loading failure", err)
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	path := writeConfig(t, freePort(t), `
schedule:
  entries:
    - name: broken
      spec: "not a cron spec"
      duration_minutes: 10
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "loading schedule") {
		t.Fatalf("run() error = %v, want schedule failure", err)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, port, `
schedule:
  entries:
    - name: nightly
      spec: "0 2 * * *"
      duration_minutes: 30
`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/api/v1/health"
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API never came up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, freePort(t), "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--subject", "ci", "--ttl", "5m"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command: %v", err)
	}

	subject, err := api.ParseToken(testSecret, strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("ParseToken() error: %v", err)
	}
	if subject != "ci" {
		t.Errorf("subject = %q, want ci", subject)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "graytap "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYTAP_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYTAP_CONFIG", expected)
	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
