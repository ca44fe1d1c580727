package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/graytap-core/internal/device"
	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/history"
	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
	"github.com/nerrad567/graytap-core/internal/infrastructure/logging"
	"github.com/nerrad567/graytap-core/internal/metrics"
	"github.com/nerrad567/graytap-core/internal/worker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSource is the subset of *device.Registry the API reads.
type DeviceSource interface {
	Discover(ctx context.Context, force bool) []device.Record
	Lookup(id string) (device.Record, error)
	GetStats() device.Stats
}

// Sessions is the subset of *worker.Supervisor the API drives.
type Sessions interface {
	Start(deviceID string, duration time.Duration) error
	Pause(deviceID string) (worker.State, error)
	Resume(deviceID string) (worker.State, error)
	TogglePause(deviceID string) (worker.State, error)
	Stop(deviceID string) error
	StopAll()
	PauseAll()
	ResumeAll()
	Progress(deviceID string) (worker.Progress, error)
	ProgressAll() []worker.Progress
	Counts() (running, paused int)
}

// History is the subset of *history.Archive the API queries.
type History interface {
	Events(ctx context.Context, f history.EventFilter) ([]events.Record, error)
	Sessions(ctx context.Context, deviceID string, limit int) ([]history.SessionRecord, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Devices  DeviceSource
	Sessions Sessions
	Bus      *events.Bus

	// Optional.
	History History
	Metrics *metrics.Metrics
	Checks  map[string]HealthChecker

	// DefaultDuration is used by start requests without a duration.
	DefaultDuration time.Duration
	Version         string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	devices  DeviceSource
	sessions Sessions
	bus      *events.Bus
	history  History
	metrics  *metrics.Metrics
	checks   map[string]HealthChecker

	defaultDuration time.Duration
	version         string
	startTime       time.Time

	hub         *Hub
	tickets     *ticketStore
	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session supervisor is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if deps.DefaultDuration <= 0 {
		deps.DefaultDuration = 30 * time.Minute
	}

	s := &Server{
		cfg:             deps.Config,
		wsCfg:           deps.WS,
		secCfg:          deps.Security,
		logger:          deps.Logger,
		devices:         deps.Devices,
		sessions:        deps.Sessions,
		bus:             deps.Bus,
		history:         deps.History,
		metrics:         deps.Metrics,
		checks:          deps.Checks,
		defaultDuration: deps.DefaultDuration,
		version:         deps.Version,
		startTime:       time.Now(),
		tickets:         newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)

	return s, nil
}

// Hub returns the WebSocket hub. It implements worker.Observer.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays bus events to it and launches the
// HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	unsubscribe, err := s.hub.Attach(s.bus)
	if err != nil {
		s.logger.Warn("event relay to websocket disabled", "error", err)
	} else {
		s.unsubscribe = unsubscribe
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
