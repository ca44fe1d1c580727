// Gray Tap Core - screen-driven device automation engine.
//
// This is the main entry point. It discovers Android devices and emulator
// instances over adb, runs one template-matching control loop per device,
// and exposes session control over HTTP, WebSocket, MQTT and cron.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/graytap-core/internal/adb"
	"github.com/nerrad567/graytap-core/internal/api"
	"github.com/nerrad567/graytap-core/internal/device"
	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/history"
	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
	"github.com/nerrad567/graytap-core/internal/infrastructure/database"
	"github.com/nerrad567/graytap-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/graytap-core/internal/infrastructure/logging"
	"github.com/nerrad567/graytap-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/graytap-core/internal/metrics"
	"github.com/nerrad567/graytap-core/internal/policy"
	"github.com/nerrad567/graytap-core/internal/process"
	"github.com/nerrad567/graytap-core/internal/remote"
	"github.com/nerrad567/graytap-core/internal/schedule"
	"github.com/nerrad567/graytap-core/internal/template"
	"github.com/nerrad567/graytap-core/internal/worker"
	"github.com/nerrad567/graytap-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	statusInterval = 30 * time.Second
	pruneInterval  = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command runs the engine.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "graytap",
		Short:         "Screen-driven device automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "configuration file (env GRAYTAP_CONFIG)")

	root.AddCommand(
		newTokenCmd(&configPath),
		newDevicesCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// newTokenCmd prints a bearer token for the control API.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.TokenTTLMinutes) * time.Minute
			}
			token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.token_ttl_minutes)")
	return cmd
}

// newDevicesCmd runs one discovery pass and prints what was found.
func newDevicesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Discover devices once and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			log := logging.New(cfg.Logging, version)
			client := newADBClient(cfg, log)
			registry := newRegistry(cfg, client, log, false)

			out := cmd.OutOrStdout()
			records := registry.Discover(cmd.Context(), true)
			for _, rec := range records {
				fmt.Fprintf(out, "%s\t%s\t%s\n", rec.ID, rec.Label, rec.Source)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no devices found")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graytap %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// run is the engine, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Tap Core", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	bus := events.NewBus()
	bus.SetLogger(log.Component("events"))
	defer bus.Close()

	client := newADBClient(cfg, log)

	// Managed adb server (optional). The registry must not kill a server
	// that the process manager owns.
	managed := cfg.ADB.ManagedServer.Enabled
	if managed {
		adbServer := newADBServer(cfg, client, log)
		if startErr := adbServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting adb server: %w", startErr)
		}
		defer func() {
			log.Info("stopping adb server")
			if stopErr := adbServer.Stop(); stopErr != nil {
				log.Error("error stopping adb server", "error", stopErr)
			}
		}()
	}

	registry := newRegistry(cfg, client, log, managed)
	registry.SetEventPublisher(bus)

	catalog, err := template.LoadCatalog(cfg.Templates.Dir, cfg.Templates.Threshold, cfg.Templates.Order)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}
	log.Info("templates loaded", "dir", cfg.Templates.Dir, "count", catalog.Len())

	table := policy.DefaultTable().WithOverrides(cfg.Policy.Rules)
	for _, warning := range table.Check(catalog.Names()) {
		log.Warn("policy check", "warning", warning)
	}

	matcher := template.NewMatcher()
	matcher.SetLogger(log.Component("matcher"))

	supervisor := worker.NewSupervisor(client, matcher, catalog, table, worker.TimingsFromConfig(cfg.Engine))
	supervisor.SetLogger(log.Component("worker"))
	supervisor.SetEventPublisher(bus)
	supervisor.SetDirectory(registry)

	m := metrics.New()
	m.WatchSessions(supervisor)
	m.WatchEventDrops(bus)
	recorders := metrics.Fanout{m}

	checks := make(map[string]api.HealthChecker)

	// Database (optional)
	var archive *history.Archive
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)
		checks["database"] = db

		archive = history.New(db)
		archive.SetLogger(log.Component("history"))
		archive.SetRetention(time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour)
		detach, attachErr := archive.Attach(bus)
		if attachErr != nil {
			return fmt.Errorf("attaching event archive: %w", attachErr)
		}
		defer detach()
		supervisor.AddObserver(archive)
		go archive.RunPruner(ctx, pruneInterval)
	} else {
		log.Info("database disabled, history endpoints unavailable")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			st := influxClient.Stats()
			log.Info("InfluxDB closed", "dropped_points", st.Dropped, "failed_writes", st.Failed)
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, metrics.NewInflux(influxClient))
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}
	supervisor.SetRecorder(recorders)

	defaultDuration := time.Duration(cfg.Engine.DefaultDurationMinutes) * time.Minute

	// MQTT remote control (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks["mqtt"] = mqttClient

		bridge := remote.New(mqttClient, supervisor, defaultDuration)
		bridge.SetLogger(log.Component("remote"))
		bridge.SetDeviceLister(registry)
		detach, attachErr := bridge.Attach(bus)
		if attachErr != nil {
			return fmt.Errorf("attaching MQTT event relay: %w", attachErr)
		}
		defer detach()
		supervisor.AddObserver(bridge)
		if listenErr := bridge.Listen(); listenErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", listenErr)
		}
		defer func() {
			if closeErr := bridge.Close(); closeErr != nil {
				log.Warn("error unsubscribing MQTT commands", "error", closeErr)
			}
		}()
		go bridge.RunStatus(ctx, statusInterval)
		log.Info("MQTT connected", "broker", cfg.MQTT.Broker.Host, "prefix", cfg.MQTT.TopicPrefix)
	}

	// HTTP API
	deps := api.Deps{
		Config:          cfg.API,
		WS:              cfg.WebSocket,
		Security:        cfg.Security,
		Logger:          log.Component("api"),
		Devices:         registry,
		Sessions:        supervisor,
		Bus:             bus,
		Metrics:         m,
		Checks:          checks,
		DefaultDuration: defaultDuration,
		Version:         version,
	}
	if archive != nil {
		deps.History = archive
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	supervisor.AddObserver(server.Hub())
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Sessions end before their observers go away.
	defer func() {
		log.Info("stopping sessions")
		supervisor.Close()
	}()

	// Scheduled starts (optional)
	if len(cfg.Schedule.Entries) > 0 {
		scheduler := schedule.New(supervisor, registry)
		scheduler.SetLogger(log.Component("schedule"))
		scheduler.SetEventPublisher(bus)
		if loadErr := scheduler.Load(cfg.Schedule.Entries); loadErr != nil {
			return fmt.Errorf("loading schedule: %w", loadErr)
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	// First discovery runs in the background so the API is reachable at once.
	go registry.Discover(ctx, false)

	log.Info("initialisation complete, waiting for shutdown signal", "api", server.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns GRAYTAP_CONFIG, or the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYTAP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func newADBClient(cfg *config.Config, log *logging.Logger) *adb.Client {
	client := adb.NewClient(adb.Config{
		Binary:         cfg.ADB.Binary,
		ScreenshotDir:  cfg.ADB.ScreenshotDir,
		RemotePath:     cfg.ADB.RemotePath,
		CommandTimeout: time.Duration(cfg.ADB.CommandTimeout) * time.Second,
	})
	client.SetLogger(log.Component("adb"))
	return client
}

// newRegistry builds the device registry. A managed adb server is never
// reset by the registry.
func newRegistry(cfg *config.Config, client *adb.Client, log *logging.Logger, managed bool) *device.Registry {
	registry := device.NewRegistry(client, device.RegistryConfig{
		Host:          cfg.ADB.Host,
		DefaultPorts:  cfg.ADB.DefaultPorts,
		ExtraPorts:    cfg.ADB.ExtraPorts,
		ConnectSettle: time.Duration(cfg.ADB.ConnectSettleMS) * time.Millisecond,
		ResetServer:   cfg.ADB.ResetServer && !managed,
	})
	registry.SetLogger(log.Component("registry"))
	if cfg.ADB.ManagerBinary != "" {
		registry.SetInstanceSource(adb.NewManagerSource(cfg.ADB.ManagerBinary, cfg.ADB.Host,
			time.Duration(cfg.ADB.CommandTimeout)*time.Second))
	}
	return registry
}

// newADBServer supervises a foreground adb server, probing it by listing devices.
func newADBServer(cfg *config.Config, client *adb.Client, log *logging.Logger) *process.Manager {
	pc := process.DefaultConfig("adb-server", cfg.ADB.Binary, process.ADBServerArgs)
	ms := cfg.ADB.ManagedServer
	pc.RestartOnFailure = ms.RestartOnFailure
	if ms.RestartDelaySeconds > 0 {
		pc.RestartDelay = time.Duration(ms.RestartDelaySeconds) * time.Second
	}
	pc.MaxRestartAttempts = ms.MaxRestartAttempts
	pc.Probe = func(ctx context.Context) error {
		_, err := client.DiscoverCandidates(ctx)
		return err
	}
	pc.OnExit = func(err error) {
		if err != nil {
			log.Warn("adb server exited", "error", err)
		}
	}

	m := process.NewManager(pc)
	m.SetLogger(log.Component("adb-server"))
	return m
}
