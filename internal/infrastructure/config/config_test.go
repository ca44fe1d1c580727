package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
engine:
  click_cooldown_ms: 1500
  tap_offset:
    min: 2
    max: 10
templates:
  dir: "/opt/graytap/templates"
  threshold: 0.9
  order: ["button1", "button7"]
policy:
  rules:
    - template: "gameover"
      abort: true
      reason: "game over"
    - template: "button3"
      pre_click_wait_ms: {min: 200, max: 400}
adb:
  binary: "/usr/bin/adb"
  default_ports: [5555]
mqtt:
  broker:
    host: "broker.local"
  qos: 1
schedule:
  entries:
    - name: "morning"
      spec: "0 0 9 * * *"
      duration_minutes: 30
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.ClickCooldownMS != 1500 {
		t.Errorf("Engine.ClickCooldownMS = %d, want 1500", cfg.Engine.ClickCooldownMS)
	}
	if cfg.Engine.TapOffset.Max != 10 {
		t.Errorf("Engine.TapOffset.Max = %v, want 10", cfg.Engine.TapOffset.Max)
	}
	// Unset engine fields keep their defaults.
	if cfg.Engine.VerboseIntervalSeconds != 10 {
		t.Errorf("Engine.VerboseIntervalSeconds = %d, want default 10", cfg.Engine.VerboseIntervalSeconds)
	}
	if cfg.Templates.Dir != "/opt/graytap/templates" {
		t.Errorf("Templates.Dir = %q", cfg.Templates.Dir)
	}
	if len(cfg.Templates.Order) != 2 {
		t.Errorf("Templates.Order = %v, want 2 entries", cfg.Templates.Order)
	}
	if len(cfg.Policy.Rules) != 2 {
		t.Fatalf("Policy.Rules = %d entries, want 2", len(cfg.Policy.Rules))
	}
	if !cfg.Policy.Rules[0].Abort || cfg.Policy.Rules[0].Reason != "game over" {
		t.Errorf("Policy.Rules[0] = %+v", cfg.Policy.Rules[0])
	}
	if w := cfg.Policy.Rules[1].PreClickWaitMS; w == nil || w.Min != 200 || w.Max != 400 {
		t.Errorf("Policy.Rules[1].PreClickWaitMS = %+v", w)
	}
	if len(cfg.ADB.DefaultPorts) != 1 || cfg.ADB.DefaultPorts[0] != 5555 {
		t.Errorf("ADB.DefaultPorts = %v, want [5555]", cfg.ADB.DefaultPorts)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if len(cfg.Schedule.Entries) != 1 || cfg.Schedule.Entries[0].DurationMinutes != 30 {
		t.Errorf("Schedule.Entries = %+v", cfg.Schedule.Entries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
templates:
  threshold: 1.5
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for threshold > 1, got nil")
	}
	if !strings.Contains(err.Error(), "templates.threshold") {
		t.Errorf("error = %v, want mention of templates.threshold", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing templates dir", mutate: func(c *Config) { c.Templates.Dir = "" }, wantErr: true},
		{name: "zero threshold", mutate: func(c *Config) { c.Templates.Threshold = 0 }, wantErr: true},
		{name: "threshold of one", mutate: func(c *Config) { c.Templates.Threshold = 1 }},
		{name: "negative cooldown", mutate: func(c *Config) { c.Engine.ClickCooldownMS = -1 }, wantErr: true},
		{name: "zero stop timeout", mutate: func(c *Config) { c.Engine.StopTimeoutMS = 0 }, wantErr: true},
		{name: "inverted tap offset", mutate: func(c *Config) { c.Engine.TapOffset = RangeFloat{Min: 30, Max: 5} }, wantErr: true},
		{name: "sub-pixel tap offset", mutate: func(c *Config) { c.Engine.TapOffset = RangeFloat{Min: 0.2, Max: 0.8} }, wantErr: true},
		{name: "tap offset below one pixel", mutate: func(c *Config) { c.Engine.TapOffset = RangeFloat{Min: 0.5, Max: 0.9} }, wantErr: true},
		{name: "fractional tap offset with whole pixel", mutate: func(c *Config) { c.Engine.TapOffset = RangeFloat{Min: 0.5, Max: 1.5} }},
		{name: "no tap jitter", mutate: func(c *Config) { c.Engine.TapOffset = RangeFloat{} }},
		{name: "inverted post click delay", mutate: func(c *Config) { c.Engine.PostClickDelayMS = RangeInt{Min: 3, Max: 1} }, wantErr: true},
		{name: "rule without template", mutate: func(c *Config) { c.Policy.Rules = []RuleConfig{{Abort: true}} }, wantErr: true},
		{
			name: "rule with inverted wait",
			mutate: func(c *Config) {
				c.Policy.Rules = []RuleConfig{{Template: "b", PreClickWaitMS: &RangeInt{Min: 10, Max: 5}}}
			},
			wantErr: true,
		},
		{name: "missing adb binary", mutate: func(c *Config) { c.ADB.Binary = "" }, wantErr: true},
		{name: "database enabled without path", mutate: func(c *Config) { c.Database.Enabled = true; c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "jwt enabled without secret", mutate: func(c *Config) { c.Security.JWT.Enabled = true }, wantErr: true},
		{name: "jwt secret too short", mutate: func(c *Config) { c.Security.JWT = JWTConfig{Enabled: true, Secret: "short"} }, wantErr: true},
		{name: "jwt enabled with secret", mutate: func(c *Config) { c.Security.JWT = JWTConfig{Enabled: true, Secret: validJWTSecret} }},
		{
			name: "schedule without spec",
			mutate: func(c *Config) {
				c.Schedule.Entries = []ScheduleEntry{{Name: "x", DurationMinutes: 5}}
			},
			wantErr: true,
		},
		{
			name: "schedule without duration",
			mutate: func(c *Config) {
				c.Schedule.Entries = []ScheduleEntry{{Name: "x", Spec: "@hourly"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Templates.Dir = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.Contains(err.Error(), "templates.dir") || !strings.Contains(err.Error(), "api.port") {
		t.Errorf("Validate() = %v, want both failures reported", err)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(1500); got != 1500*time.Millisecond {
		t.Errorf("Millis(1500) = %v, want 1.5s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYTAP_TEMPLATES_DIR", "/custom/templates")
	t.Setenv("GRAYTAP_ADB_BINARY", "/opt/platform-tools/adb")
	t.Setenv("GRAYTAP_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYTAP_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYTAP_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYTAP_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYTAP_API_HOST", "192.168.1.1")
	t.Setenv("GRAYTAP_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYTAP_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field, got, want string
	}{
		{"Templates.Dir", cfg.Templates.Dir, "/custom/templates"},
		{"ADB.Binary", cfg.ADB.Binary, "/opt/platform-tools/adb"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Engine.ClickCooldownMS != 1000 {
		t.Errorf("defaultConfig Engine.ClickCooldownMS = %d, want 1000", cfg.Engine.ClickCooldownMS)
	}
	if cfg.Templates.Threshold != 0.8 {
		t.Errorf("defaultConfig Templates.Threshold = %v, want 0.8", cfg.Templates.Threshold)
	}
	if len(cfg.ADB.DefaultPorts) != 6 || cfg.ADB.DefaultPorts[0] != 16384 {
		t.Errorf("defaultConfig ADB.DefaultPorts = %v", cfg.ADB.DefaultPorts)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
