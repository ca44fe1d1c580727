package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Tap Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Templates TemplatesConfig `yaml:"templates"`
	Policy    PolicyConfig    `yaml:"policy"`
	ADB       ADBConfig       `yaml:"adb"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
}

// EngineConfig contains the timings of the per-device control loop.
// All values are in milliseconds unless the field name says otherwise.
type EngineConfig struct {
	ClickCooldownMS        int        `yaml:"click_cooldown_ms"`
	StopTimeoutMS          int        `yaml:"stop_timeout_ms"`
	PauseTickMS            int        `yaml:"pause_tick_ms"`
	CaptureBackoffMS       int        `yaml:"capture_backoff_ms"`
	IdleSleepMS            int        `yaml:"idle_sleep_ms"`
	ErrorBackoffMS         int        `yaml:"error_backoff_ms"`
	VerboseIntervalSeconds int        `yaml:"verbose_interval_s"`
	RecheckSettleMS        int        `yaml:"recheck_settle_ms"`
	PostClickDelayMS       RangeInt   `yaml:"post_click_delay_ms"`
	TapOffset              RangeFloat `yaml:"tap_offset"`
	DefaultDurationMinutes int        `yaml:"default_duration_minutes"`
}

// RangeInt is an inclusive integer range.
type RangeInt struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// RangeFloat is an inclusive float range.
type RangeFloat struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// TemplatesConfig describes where marker images live and how strictly they match.
type TemplatesConfig struct {
	Dir       string   `yaml:"dir"`
	Threshold float64  `yaml:"threshold"`
	Order     []string `yaml:"order"`
}

// PolicyConfig holds per-template rule overrides.
type PolicyConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig overrides or adds the action rule for one template.
type RuleConfig struct {
	Template       string    `yaml:"template"`
	Abort          bool      `yaml:"abort"`
	Reason         string    `yaml:"reason"`
	Recheck        string    `yaml:"recheck"`
	CooldownMS     int       `yaml:"cooldown_ms"`
	PreClickWaitMS *RangeInt `yaml:"pre_click_wait_ms"`
}

// ADBConfig contains device transport settings.
type ADBConfig struct {
	Binary          string           `yaml:"binary"`
	ManagerBinary   string           `yaml:"manager_binary"`
	Host            string           `yaml:"host"`
	ScreenshotDir   string           `yaml:"screenshot_dir"`
	RemotePath      string           `yaml:"remote_path"`
	CommandTimeout  int              `yaml:"command_timeout_s"`
	ConnectSettleMS int              `yaml:"connect_settle_ms"`
	DefaultPorts    []int            `yaml:"default_ports"`
	ExtraPorts      []int            `yaml:"extra_ports"`
	ResetServer     bool             `yaml:"reset_server"`
	ManagedServer   ADBManagedServer `yaml:"managed_server"`
}

// ADBManagedServer configures supervision of a foreground adb server process.
type ADBManagedServer struct {
	// Enabled runs "adb -a nodaemon server" under the process manager.
	// If false, the adb server is expected to be started on demand by the adb client.
	Enabled bool `yaml:"enabled"`

	// RestartOnFailure enables automatic restart if the server exits.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the time to wait before restarting (in seconds).
	// Default: 3
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings for the control API.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`

	// TokenTTLMinutes is the lifetime of tokens issued by "graytap -token".
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

// ScheduleConfig holds cron-driven session starts.
type ScheduleConfig struct {
	Entries []ScheduleEntry `yaml:"entries"`
}

// ScheduleEntry starts sessions on the listed devices whenever Spec fires.
// An empty Devices list means every device the registry currently knows.
type ScheduleEntry struct {
	Name            string   `yaml:"name"`
	Spec            string   `yaml:"spec"`
	Devices         []string `yaml:"devices"`
	DurationMinutes int      `yaml:"duration_minutes"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYTAP_SECTION_KEY
// For example: GRAYTAP_TEMPLATES_DIR, GRAYTAP_ADB_BINARY
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config matching the reference control-loop timings.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ClickCooldownMS:        1000,
			StopTimeoutMS:          2000,
			PauseTickMS:            1000,
			CaptureBackoffMS:       1000,
			IdleSleepMS:            500,
			ErrorBackoffMS:         2000,
			VerboseIntervalSeconds: 10,
			RecheckSettleMS:        500,
			PostClickDelayMS:       RangeInt{Min: 1000, Max: 3000},
			TapOffset:              RangeFloat{Min: 5, Max: 30},
			DefaultDurationMinutes: 60,
		},
		Templates: TemplatesConfig{
			Dir:       "./templates",
			Threshold: 0.8,
		},
		ADB: ADBConfig{
			Binary:          "adb",
			Host:            "127.0.0.1",
			ScreenshotDir:   "./temp",
			RemotePath:      "/sdcard/screenshot.png",
			CommandTimeout:  15,
			ConnectSettleMS: 500,
			DefaultPorts:    []int{16384, 16416, 16448, 16480, 16512, 16544},
			ExtraPorts:      []int{21503, 62001, 59000, 5555, 5556, 5557, 5558, 5559, 7555},
			ResetServer:     true,
			ManagedServer: ADBManagedServer{
				RestartOnFailure:    true,
				RestartDelaySeconds: 3,
			},
		},
		Database: DatabaseConfig{
			Path:          "./data/graytap.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graytap-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "graytap",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "graytap",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{TokenTTLMinutes: 24 * 60},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYTAP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYTAP_TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}
	if v := os.Getenv("GRAYTAP_ADB_BINARY"); v != "" {
		cfg.ADB.Binary = v
	}
	if v := os.Getenv("GRAYTAP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYTAP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYTAP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYTAP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYTAP_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYTAP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("GRAYTAP_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	e := c.Engine
	if e.ClickCooldownMS < 0 {
		errs = append(errs, "engine.click_cooldown_ms must not be negative")
	}
	if e.StopTimeoutMS <= 0 {
		errs = append(errs, "engine.stop_timeout_ms must be positive")
	}
	if e.PauseTickMS <= 0 {
		errs = append(errs, "engine.pause_tick_ms must be positive")
	}
	if e.PostClickDelayMS.Min < 0 || e.PostClickDelayMS.Max < e.PostClickDelayMS.Min {
		errs = append(errs, "engine.post_click_delay_ms must satisfy 0 <= min <= max")
	}
	switch {
	case e.TapOffset.Min < 0 || e.TapOffset.Max < e.TapOffset.Min:
		errs = append(errs, "engine.tap_offset must satisfy 0 <= min <= max")
	case math.Ceil(e.TapOffset.Min) > e.TapOffset.Max:
		// Taps land on whole pixels.
		errs = append(errs, "engine.tap_offset must include a whole-pixel distance")
	}

	if c.Templates.Dir == "" {
		errs = append(errs, "templates.dir is required")
	}
	if c.Templates.Threshold <= 0 || c.Templates.Threshold > 1 {
		errs = append(errs, "templates.threshold must be in (0, 1]")
	}

	for i, r := range c.Policy.Rules {
		if r.Template == "" {
			errs = append(errs, fmt.Sprintf("policy.rules[%d].template is required", i))
		}
		if w := r.PreClickWaitMS; w != nil && (w.Min < 0 || w.Max < w.Min) {
			errs = append(errs, fmt.Sprintf("policy.rules[%d].pre_click_wait_ms must satisfy 0 <= min <= max", i))
		}
	}

	if c.ADB.Binary == "" {
		errs = append(errs, "adb.binary is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters when jwt is enabled (set GRAYTAP_JWT_SECRET)")
	}

	for i, s := range c.Schedule.Entries {
		if s.Spec == "" {
			errs = append(errs, fmt.Sprintf("schedule.entries[%d].spec is required", i))
		}
		if s.DurationMinutes <= 0 {
			errs = append(errs, fmt.Sprintf("schedule.entries[%d].duration_minutes must be positive", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Millis converts a millisecond config value to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
