package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/graytap-core/internal/device"
	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/history"
	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
	"github.com/nerrad567/graytap-core/internal/infrastructure/logging"
	"github.com/nerrad567/graytap-core/internal/metrics"
	"github.com/nerrad567/graytap-core/internal/worker"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// ─── Mock Dependencies ──────────────────────────────────────────────

type fakeDevices struct {
	mu      sync.Mutex
	records []device.Record
	forced  []bool
}

func (f *fakeDevices) Discover(_ context.Context, force bool) []device.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	return append([]device.Record(nil), f.records...)
}

func (f *fakeDevices) Lookup(id string) (device.Record, error) {
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return device.Record{}, device.ErrDeviceNotFound
}

func (f *fakeDevices) GetStats() device.Stats {
	return device.Stats{Devices: len(f.records), Scans: 1}
}

type fakeSessions struct {
	mu       sync.Mutex
	calls    []string
	startErr map[string]error
	stateErr error
	state    worker.State
}

func (f *fakeSessions) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSessions) Start(id string, d time.Duration) error {
	f.record("start %s %s", id, d)
	return f.startErr[id]
}

func (f *fakeSessions) Pause(id string) (worker.State, error) {
	f.record("pause %s", id)
	return f.state, f.stateErr
}

func (f *fakeSessions) Resume(id string) (worker.State, error) {
	f.record("resume %s", id)
	return f.state, f.stateErr
}

func (f *fakeSessions) TogglePause(id string) (worker.State, error) {
	f.record("toggle %s", id)
	return f.state, f.stateErr
}

func (f *fakeSessions) Stop(id string) error {
	f.record("stop %s", id)
	return f.stateErr
}

func (f *fakeSessions) StopAll()   { f.record("stop-all") }
func (f *fakeSessions) PauseAll()  { f.record("pause-all") }
func (f *fakeSessions) ResumeAll() { f.record("resume-all") }

func (f *fakeSessions) Progress(id string) (worker.Progress, error) {
	if f.stateErr != nil {
		return worker.Progress{}, f.stateErr
	}
	return worker.Progress{DeviceID: id, State: worker.StateRunning}, nil
}

func (f *fakeSessions) ProgressAll() []worker.Progress {
	return []worker.Progress{{DeviceID: "dev1", State: worker.StateRunning}}
}

func (f *fakeSessions) Counts() (int, int) { return 1, 2 }

func (f *fakeSessions) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

type fakeHistory struct {
	filter history.EventFilter
	device string
	limit  int
	err    error
}

func (f *fakeHistory) Events(_ context.Context, filter history.EventFilter) ([]events.Record, error) {
	f.filter = filter
	return []events.Record{{ID: "e1", Message: "archived"}}, f.err
}

func (f *fakeHistory) Sessions(_ context.Context, deviceID string, limit int) ([]history.SessionRecord, error) {
	f.device, f.limit = deviceID, limit
	return []history.SessionRecord{{ID: "s1", DeviceID: "dev1"}}, f.err
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

// ─── Helpers ────────────────────────────────────────────────────────

type fixture struct {
	srv      *Server
	devices  *fakeDevices
	sessions *fakeSessions
	history  *fakeHistory
	bus      *events.Bus
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()

	f := &fixture{
		devices: &fakeDevices{records: []device.Record{
			{ID: "127.0.0.1:16384", Label: "Xiaomi MI 9 [MuMu primary]", Source: device.SourcePortScan},
			{ID: "emulator-5554", Label: "Google Pixel", Source: device.SourcePortScan},
		}},
		sessions: &fakeSessions{state: worker.StatePaused},
		history:  &fakeHistory{},
		bus:      events.NewBus(),
	}
	t.Cleanup(f.bus.Close)

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Devices:  f.devices,
		Sessions: f.sessions,
		Bus:      f.bus,
		History:  f.history,
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("New() with no deps should fail")
	}
}

func TestNew_DefaultDuration(t *testing.T) {
	f := newFixture(t, nil)
	if f.srv.defaultDuration != 30*time.Minute {
		t.Errorf("defaultDuration = %v, want 30m", f.srv.defaultDuration)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{
			"mqtt":     fakeCheck{},
			"influxdb": fakeCheck{err: errors.New("unreachable")},
		}
	})

	rec := f.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	components := body["components"].(map[string]any)
	if components["mqtt"] != "ok" || components["influxdb"] != "unreachable" {
		t.Errorf("components = %v", components)
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("generated X-Request-ID missing")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "abc")
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	rec := f.do(t, http.MethodOptions, "/api/v1/devices", "", "Origin", "http://panel.local")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/health", "", "Origin", "http://evil.local")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted origin = %q, want empty", got)
	}
}

func TestDevices(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/devices?refresh=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if body := decode(t, rec); body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
	f.do(t, http.MethodGet, "/api/v1/devices", "")
	if len(f.devices.forced) != 2 || !f.devices.forced[0] || f.devices.forced[1] {
		t.Errorf("forced = %v, want [true false]", f.devices.forced)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/devices/emulator-5554", "")
	if rec.Code != http.StatusOK || decode(t, rec)["label"] != "Google Pixel" {
		t.Errorf("get device = %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/devices/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/devices/stats", "")
	if rec.Code != http.StatusOK || decode(t, rec)["devices"] != float64(2) {
		t.Errorf("stats = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionRoutes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		stateErr error
		wantCode int
		wantCall string
	}{
		{"start default", "/api/v1/devices/dev1/session/start", "", nil, http.StatusAccepted, "start dev1 30m0s"},
		{"start with duration", "/api/v1/devices/dev1/session/start", `{"duration_minutes":1.5}`, nil, http.StatusAccepted, "start dev1 1m30s"},
		{"start bad json", "/api/v1/devices/dev1/session/start", `{`, nil, http.StatusBadRequest, ""},
		{"start negative", "/api/v1/devices/dev1/session/start", `{"duration_minutes":-1}`, nil, http.StatusBadRequest, ""},
		{"pause", "/api/v1/devices/dev1/session/pause", "", nil, http.StatusOK, "pause dev1"},
		{"resume", "/api/v1/devices/dev1/session/resume", "", nil, http.StatusOK, "resume dev1"},
		{"toggle", "/api/v1/devices/dev1/session/toggle", "", nil, http.StatusOK, "toggle dev1"},
		{"stop", "/api/v1/devices/dev1/session/stop", "", nil, http.StatusOK, "stop dev1"},
		{"pause unknown", "/api/v1/devices/dev1/session/pause", "", worker.ErrNoSession, http.StatusNotFound, "pause dev1"},
		{"resume stopped", "/api/v1/devices/dev1/session/resume", "", worker.ErrSessionStopped, http.StatusConflict, "resume dev1"},
		{"stop closed", "/api/v1/devices/dev1/session/stop", "", fmt.Errorf("wrapped: %w", worker.ErrClosed), http.StatusServiceUnavailable, "stop dev1"},
		{"pause internal", "/api/v1/devices/dev1/session/pause", "", errors.New("boom"), http.StatusInternalServerError, "pause dev1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.sessions.stateErr = tt.stateErr

			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := f.sessions.lastCall(); got != tt.wantCall {
				t.Errorf("last call = %q, want %q", got, tt.wantCall)
			}
		})
	}
}

func TestPauseReturnsState(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/devices/dev1/session/pause", "")
	body := decode(t, rec)
	if body["state"] != string(worker.StatePaused) || body["device_id"] != "dev1" {
		t.Errorf("body = %v", body)
	}
}

func TestGetSession(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/devices/dev1/session", "")
	if rec.Code != http.StatusOK || decode(t, rec)["device_id"] != "dev1" {
		t.Errorf("get session = %d %s", rec.Code, rec.Body.String())
	}

	f.sessions.stateErr = worker.ErrNoSession
	if rec := f.do(t, http.MethodGet, "/api/v1/devices/dev1/session", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, nil)

	body := decode(t, f.do(t, http.MethodGet, "/api/v1/sessions", ""))
	if body["count"] != float64(1) || body["running"] != float64(1) || body["paused"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestBulkRoutes(t *testing.T) {
	for _, action := range []string{"pause-all", "resume-all", "stop-all"} {
		t.Run(action, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+action, "")
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d", rec.Code)
			}
			if got := f.sessions.lastCall(); got != action {
				t.Errorf("call = %q, want %q", got, action)
			}
		})
	}
}

func TestStartAll(t *testing.T) {
	t.Run("cached devices", func(t *testing.T) {
		f := newFixture(t, nil)
		f.sessions.startErr = map[string]error{"emulator-5554": worker.ErrEmptyCatalog}

		rec := f.do(t, http.MethodPost, "/api/v1/sessions/start-all", `{"duration_minutes":10}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decode(t, rec)
		started := body["started"].([]any)
		if len(started) != 1 || started[0] != "127.0.0.1:16384" {
			t.Errorf("started = %v", started)
		}
		failed := body["failed"].(map[string]any)
		if _, ok := failed["emulator-5554"]; !ok {
			t.Errorf("failed = %v", failed)
		}
		if len(f.devices.forced) != 1 || f.devices.forced[0] {
			t.Errorf("start-all should use the cache, forced = %v", f.devices.forced)
		}
	})

	t.Run("explicit devices", func(t *testing.T) {
		f := newFixture(t, nil)

		f.do(t, http.MethodPost, "/api/v1/sessions/start-all", `{"devices":["x"]}`)
		if got := f.sessions.lastCall(); got != "start x 30m0s" {
			t.Errorf("call = %q", got)
		}
		if len(f.devices.forced) != 0 {
			t.Error("explicit devices should not consult the registry")
		}
	})
}

func TestSessionHistory(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/history?device=dev1&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.history.device != "dev1" || f.history.limit != 5 {
		t.Errorf("query = %q/%d", f.history.device, f.history.limit)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/sessions/history?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	f.history.err = errors.New("db gone")
	if rec := f.do(t, http.MethodGet, "/api/v1/sessions/history", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("query failure status = %d", rec.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.History = nil })

	for _, path := range []string{"/api/v1/sessions/history", "/api/v1/events/history"} {
		if rec := f.do(t, http.MethodGet, path, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestRecentEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.bus.Info("dev1", "Pixel", "one")
	f.bus.Warn("dev1", "Pixel", "two")
	f.bus.Error("", "system", "three")

	body := decode(t, f.do(t, http.MethodGet, "/api/v1/events?limit=2", ""))
	list := body["events"].([]any)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if msg := list[1].(map[string]any)["message"]; msg != "three" {
		t.Errorf("newest = %v, want three", msg)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/events?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d", rec.Code)
	}
}

func TestEventHistory(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet,
		"/api/v1/events/history?device=dev1&level=warning&since=2026-01-02T03:04:05Z&limit=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	want := history.EventFilter{
		DeviceID: "dev1",
		Level:    events.LevelWarning,
		Since:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Limit:    7,
	}
	if !f.history.filter.Since.Equal(want.Since) || f.history.filter.DeviceID != want.DeviceID ||
		f.history.filter.Level != want.Level || f.history.filter.Limit != want.Limit || !f.history.filter.Until.IsZero() {
		t.Errorf("filter = %+v, want %+v", f.history.filter, want)
	}

	for _, q := range []string{"level=debug", "since=yesterday", "until=1", "limit=-3"} {
		if rec := f.do(t, http.MethodGet, "/api/v1/events/history?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, rec.Code)
		}
	}
}

func TestSystem(t *testing.T) {
	f := newFixture(t, nil)
	f.bus.Info("", "system", "hello")

	rec := f.do(t, http.MethodGet, "/api/v1/system", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Version != "test" || got.Devices.Devices != 2 || got.Events.Buffered != 1 {
		t.Errorf("system = %+v", got)
	}
	if got.Sessions.Running != 1 || got.Sessions.Paused != 2 {
		t.Errorf("sessions = %+v", got.Sessions)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, func(d *Deps) { d.Metrics = m })

	f.do(t, http.MethodGet, "/api/v1/devices/dev1/session", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `graytap_http_requests_total{method="GET",route="/api/v1/devices/{id}/session",status="200"} 1`) {
		t.Errorf("request counter missing from:\n%s", rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Security.JWT = config.JWTConfig{Enabled: true, Secret: testSecret}
	})

	valid, err := IssueToken(testSecret, "operator", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := IssueToken(testSecret, "operator", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := IssueToken("another-secret-another-secret-xx", "operator", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.header == "" {
				rec = f.do(t, http.MethodGet, "/api/v1/devices", "")
			} else {
				rec = f.do(t, http.MethodGet, "/api/v1/devices", "", "Authorization", tt.header)
			}
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health should stay public, got %d", rec.Code)
	}
}

func TestTokens(t *testing.T) {
	token, err := IssueToken(testSecret, "scheduler", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	subject, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken() error: %v", err)
	}
	if subject != "scheduler" {
		t.Errorf("subject = %q", subject)
	}

	if _, err := IssueToken("", "x", time.Minute); err == nil {
		t.Error("empty secret should fail")
	}
}

func TestTicketStore(t *testing.T) {
	store := newTicketStore()

	ticket := store.issue()
	if len(ticket) != ticketBytes*2 {
		t.Errorf("ticket length = %d", len(ticket))
	}
	if !store.redeem(ticket) {
		t.Fatal("first redeem should succeed")
	}
	if store.redeem(ticket) {
		t.Error("tickets are single-use")
	}

	stale := store.issue()
	store.sweep(time.Now().Add(2 * ticketTTL))
	if store.redeem(stale) {
		t.Error("swept ticket should not redeem")
	}
}

func TestHub_SubscribedClientsOnly(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Default())
	subscribed := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelEvents: {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelEvents, map[string]string{"message": "hi"})

	select {
	case data := <-subscribed.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != ChannelEvents {
			t.Errorf("msg = %+v", msg)
		}
	default:
		t.Error("subscribed client got nothing")
	}
	if len(other.send) != 0 {
		t.Error("unsubscribed client got a message")
	}

	hub.Unregister(other)
	hub.Unregister(other)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", hub.ClientCount())
	}
}

func TestHub_Observer(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Default())
	client := &WSClient{hub: hub, send: make(chan []byte, 2), subscriptions: map[string]struct{}{
		ChannelSessionStarted: {},
		ChannelSessionEnded:   {},
	}}
	hub.Register(client)

	hub.SessionStarted(worker.Progress{DeviceID: "dev1", State: worker.StateRunning})
	hub.SessionEnded(worker.Progress{DeviceID: "dev1", State: worker.StateStopped})

	if len(client.send) != 2 {
		t.Errorf("queued = %d, want 2", len(client.send))
	}
}

func TestHub_DropsForSlowAndClosedClients(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Default())
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelEvents: {}}}
	hub.Register(client)

	hub.Broadcast(ChannelEvents, "a")
	hub.Broadcast(ChannelEvents, "b")
	if hub.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", hub.Dropped())
	}

	hub.Unregister(client)
	if client.enqueue([]byte("late")) {
		t.Error("enqueue after Unregister should report a drop")
	}
	if _, ok := <-client.send; !ok {
		t.Error("queued frame lost on shutdown")
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestServer_StartClose(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.srv.HealthCheck(t.Context()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := f.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if f.srv.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}
	if err := f.srv.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + f.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestWebSocket_RelaysBusEvents(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.srv.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer f.srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+f.srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{DeviceChannel("dev1")}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("reading subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("response = %+v", resp)
	}

	f.bus.Info("dev2", "Other", "ignored")
	f.bus.Info("dev1", "Pixel", "clicked ok_button")

	var msg struct {
		Type      string        `json:"type"`
		EventType string        `json:"event_type"`
		Payload   events.Record `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if msg.EventType != DeviceChannel("dev1") || msg.Payload.Message != "clicked ok_button" {
		t.Errorf("event = %+v", msg)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Security.JWT = config.JWTConfig{Enabled: true, Secret: testSecret}
	})
	if err := f.srv.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer f.srv.Close()

	url := "ws://" + f.srv.Addr() + "/api/v1/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without ticket should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v, want 401", resp)
	}

	ticket := f.srv.tickets.issue()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("dial with ticket: %v", err)
	}
	conn.Close()

	if _, _, err := websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil); err == nil {
		t.Error("reused ticket should be rejected")
	}
}
