package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graytap-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "graytap",
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := NewTopics("graytap")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device event", topics.DeviceEvent("emulator-5554"), "graytap/device/emulator-5554/event"},
		{"device status", topics.DeviceStatus("127.0.0.1:16384"), "graytap/device/127.0.0.1:16384/status"},
		{"system event", topics.SystemEvent(), "graytap/system/event"},
		{"system status", topics.SystemStatus(), "graytap/system/status"},
		{"command", topics.Command("emulator-5554"), "graytap/command/emulator-5554"},
		{"command all", topics.Command(CommandTargetAll), "graytap/command/all"},
		{"all commands", topics.AllCommands(), "graytap/command/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_Prefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", DefaultTopicPrefix},
		{"farm/", "farm"},
		{"site/a", "site/a"},
	}

	for _, tt := range tests {
		if got := NewTopics(tt.prefix).Prefix; got != tt.want {
			t.Errorf("NewTopics(%q).Prefix = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestTopics_CommandTarget(t *testing.T) {
	topics := NewTopics("graytap")

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"graytap/command/emulator-5554", "emulator-5554", true},
		{"graytap/command/all", CommandTargetAll, true},
		{"graytap/command/127.0.0.1:16384", "127.0.0.1:16384", true},
		{"graytap/command/", "", false},
		{"graytap/device/x/event", "", false},
		{"other/command/x", "", false},
	}

	for _, tt := range tests {
		got, ok := topics.CommandTarget(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CommandTarget(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "user", Password: "pass"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "graytap-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
}

func TestBrokerURL_TLS(t *testing.T) {
	b := config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true}
	if got := brokerURL(b); got != "ssl://broker.local:8883" {
		t.Errorf("brokerURL() = %q", got)
	}

	cfg := testConfig()
	cfg.Broker = b
	opts := buildClientOptions(cfg)
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS 1.2", opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("graytap"), "graytap-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "graytap/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.ClientID != "graytap-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload_OmitsEmptyReason(t *testing.T) {
	data := buildStatusPayload("id", "online", "")
	if strings.Contains(string(data), "reason") {
		t.Errorf("payload %s contains reason", data)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "t", nil, 3, ErrInvalidQoS},
		{"oversized", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "t", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("t", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestClose_NeverConnected(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true")
	}
}

// ─── Mock Dependencies ──────────────────────────────────────────────

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func TestDispatch(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	var got string
	c.dispatch(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	}, "a/b", []byte("1"))
	if got != "a/b=1" {
		t.Errorf("handler saw %q", got)
	}

	c.dispatch(func(string, []byte) error { return errors.New("bad") }, "a", nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "a", nil)

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want 1 entry", logger.warns)
	}
	if len(logger.errs) != 1 {
		t.Errorf("errors = %v, want 1 entry", logger.errs)
	}
}
