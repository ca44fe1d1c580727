package device

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/graytap-core/internal/events"
)

// systemLabel is the device label used for registry-wide events.
const systemLabel = "system"

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopPublisher struct{}

func (noopPublisher) Emit(events.Level, string, string, string) {}

// RegistryConfig controls how the registry probes for endpoints.
type RegistryConfig struct {
	// Host is the address probed with each port, usually 127.0.0.1.
	Host string

	// DefaultPorts are probed first when no manager instance is found.
	// They also drive the "[MuMu primary]" and "[MuMu-N]" label suffixes.
	DefaultPorts []int

	// ExtraPorts are probed after DefaultPorts.
	ExtraPorts []int

	// ConnectSettle is slept after each connect attempt.
	ConnectSettle time.Duration

	// ResetServer restarts the transport server once, before the first scan,
	// when the link implements ServerResetter.
	ResetServer bool
}

// Registry discovers devices and caches the deduplicated result.
//
// All public methods are thread-safe. Scans are serialised; the cache lock is
// held only while reading or replacing the cached list.
type Registry struct {
	prober    Prober
	instances InstanceSource
	cfg       RegistryConfig
	logger    Logger
	publisher EventPublisher

	scanMu    sync.Mutex // serialises scans
	resetDone bool       // guarded by scanMu

	cacheMu     sync.RWMutex
	cache       []Record
	index       map[string]int
	lastRefresh time.Time
	scans       int
}

// NewRegistry creates a device registry probing through prober.
//
// Parameters:
//   - prober: Transport used to connect, enumerate and identify endpoints
//   - cfg: Probe settings
//
// Returns:
//   - *Registry: Registry with an empty cache
func NewRegistry(prober Prober, cfg RegistryConfig) *Registry {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Registry{
		prober:    prober,
		cfg:       cfg,
		logger:    noopLogger{},
		publisher: noopPublisher{},
		index:     make(map[string]int),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetEventPublisher sets where user-facing discovery events go.
func (r *Registry) SetEventPublisher(p EventPublisher) {
	r.publisher = p
}

// SetInstanceSource sets the emulator manager consulted before port probing.
func (r *Registry) SetInstanceSource(src InstanceSource) {
	r.instances = src
}

// Discover returns the reachable, identified devices.
//
// A non-forced call returns the cached list when it is non-empty. A forced
// call clears the cache and scans. The result is never nil; an empty slice
// means no devices were found.
//
// Parameters:
//   - ctx: Context for cancellation of transport calls
//   - force: Skip the cache and rescan
//
// Returns:
//   - []Record: Devices in discovery order, unique by ID
func (r *Registry) Discover(ctx context.Context, force bool) []Record {
	if !force {
		if cached := r.Devices(); len(cached) > 0 {
			return cached
		}
	}

	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	if force {
		r.replaceCache(nil)
	} else if cached := r.Devices(); len(cached) > 0 {
		// Another caller finished a scan while we waited.
		return cached
	}

	r.publisher.Emit(events.LevelInfo, "", systemLabel, "refreshing device list")
	records := r.scan(ctx)
	r.replaceCache(records)

	r.publisher.Emit(events.LevelInfo, "", systemLabel, fmt.Sprintf("found %d devices", len(records)))
	r.logger.Info("device discovery complete", "count", len(records), "forced", force)

	return r.Devices()
}

// scan runs one full discovery pass. Called with scanMu held.
func (r *Registry) scan(ctx context.Context) []Record {
	if r.cfg.ResetServer && !r.resetDone {
		r.resetDone = true
		if rs, ok := r.prober.(ServerResetter); ok {
			if err := rs.ResetServer(ctx); err != nil {
				r.logger.Warn("transport server reset failed", "error", err)
			}
		}
	}

	declared := r.connectDeclared(ctx)
	if len(declared) == 0 {
		r.probePorts(ctx)
	}

	candidates, err := r.prober.DiscoverCandidates(ctx)
	if err != nil {
		r.logger.Warn("listing connected endpoints failed", "error", err)
		return []Record{}
	}

	found := make([]Record, 0, len(candidates))
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		rec, err := r.identify(ctx, id, declared)
		if err != nil {
			r.logger.Debug("endpoint dropped", "endpoint", id, "error", err)
			continue
		}
		found = append(found, rec)
	}

	unique := dedup(found)
	if removed := len(found) - len(unique); removed > 0 {
		r.publisher.Emit(events.LevelInfo, "", systemLabel, fmt.Sprintf("removed %d duplicate devices", removed))
		r.logger.Info("duplicate devices removed", "removed", removed)
	}
	return unique
}

// connectDeclared connects every running instance the manager reports.
func (r *Registry) connectDeclared(ctx context.Context) map[string]Instance {
	declared := make(map[string]Instance)
	if r.instances == nil {
		return declared
	}

	list, err := r.instances.Instances(ctx)
	if err != nil {
		r.logger.Warn("emulator manager query failed", "error", err)
		return declared
	}

	for _, inst := range list {
		if inst.Endpoint == "" {
			continue
		}
		if err := r.prober.Connect(ctx, inst.Endpoint); err != nil {
			r.logger.Debug("connect to declared instance failed", "endpoint", inst.Endpoint, "error", err)
		}
		declared[inst.Endpoint] = inst
		r.settle(ctx)
	}
	return declared
}

// probePorts attempts a connect on every configured port, default ports first.
func (r *Registry) probePorts(ctx context.Context) {
	ports := make([]int, 0, len(r.cfg.DefaultPorts)+len(r.cfg.ExtraPorts))
	ports = append(ports, r.cfg.DefaultPorts...)
	ports = append(ports, r.cfg.ExtraPorts...)

	for _, port := range ports {
		if ctx.Err() != nil {
			return
		}
		endpoint := net.JoinHostPort(r.cfg.Host, strconv.Itoa(port))
		if err := r.prober.Connect(ctx, endpoint); err != nil {
			r.logger.Debug("probe connect failed", "endpoint", endpoint, "error", err)
		}
		r.settle(ctx)
	}
}

func (r *Registry) settle(ctx context.Context) {
	if r.cfg.ConnectSettle <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.ConnectSettle):
	}
}

// identify queries brand and model. Either query failing drops the endpoint.
func (r *Registry) identify(ctx context.Context, id string, declared map[string]Instance) (Record, error) {
	brand, err := r.prober.Query(ctx, id, PropBrand)
	if err != nil {
		return Record{}, fmt.Errorf("querying brand: %w", err)
	}
	model, err := r.prober.Query(ctx, id, PropModel)
	if err != nil {
		return Record{}, fmt.Errorf("querying model: %w", err)
	}

	label := strings.TrimSpace(strings.TrimSpace(brand) + " " + strings.TrimSpace(model))
	if label == "" {
		return Record{}, ErrUnidentified
	}

	rec := Record{ID: id, Label: label, Source: SourcePortScan}
	if inst, ok := declared[id]; ok {
		rec.Source = SourceManager
		if inst.Name != "" {
			rec.Label += " [" + inst.Name + "]"
		}
		return rec, nil
	}
	if suffix := r.portSuffix(id); suffix != "" {
		rec.Label += " " + suffix
	}
	return rec, nil
}

// portSuffix marks local emulator ports in labels.
func (r *Registry) portSuffix(id string) string {
	host, portStr, err := net.SplitHostPort(id)
	if err != nil || host != r.cfg.Host {
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ""
	}
	for i, p := range r.cfg.DefaultPorts {
		if p != port {
			continue
		}
		if i == 0 {
			return "[MuMu primary]"
		}
		return fmt.Sprintf("[MuMu-%d]", i)
	}
	return fmt.Sprintf("[port %d]", port)
}

// dedup keeps the first record for each ID, preserving order.
func dedup(records []Record) []Record {
	seen := make(map[string]bool, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		out = append(out, rec)
	}
	return out
}

func (r *Registry) replaceCache(records []Record) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = append([]Record(nil), records...)
	r.index = make(map[string]int, len(records))
	for i, rec := range r.cache {
		r.index[rec.ID] = i
	}
	if records != nil {
		r.lastRefresh = time.Now()
		r.scans++
	}
}

// Devices returns a copy of the cached device list without scanning.
func (r *Registry) Devices() []Record {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Record, len(r.cache))
	copy(out, r.cache)
	return out
}

// Lookup returns the cached record for id.
// Returns ErrDeviceNotFound if the device is not cached.
func (r *Registry) Lookup(id string) (Record, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return Record{}, ErrDeviceNotFound
	}
	return r.cache[i], nil
}

// Stats holds registry statistics.
type Stats struct {
	Devices     int       `json:"devices"`
	Scans       int       `json:"scans"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
}

// GetStats returns registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	return Stats{
		Devices:     len(r.cache),
		Scans:       r.scans,
		LastRefresh: r.lastRefresh,
	}
}
