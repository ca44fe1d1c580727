package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// errUnhealthy is wrapped when the server answers the ping but reports
// itself unhealthy.
var errUnhealthy = errors.New("server reported unhealthy")

// Client batches session telemetry points into one InfluxDB bucket.
//
// Writes never block the caller: points are queued on the library's
// async write API and errors surface through the SetOnError callback.
// Points offered while the client is closed are counted and discarded.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	connected atomic.Bool
	dropped   atomic.Uint64
	failed    atomic.Uint64

	cbMu    sync.RWMutex
	onError func(err error)
}

// Stats is a snapshot of the client's write counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Bucket    string `json:"bucket"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Connect pings the server and opens a batched write API for cfg.Bucket.
//
// Returns ErrDisabled when cfg.Enabled is false and ErrConnectionFailed
// when the ping fails or the server is unhealthy.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize, flushSecs := batchSettings(cfg)
	flushMs := time.Duration(flushSecs) * time.Second / time.Millisecond

	// #nosec G115 -- batchSettings returns positive values
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushMs))

	ic := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if err := ping(ic, connectTimeout); err != nil {
		ic.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   ic,
		writeAPI: ic.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	c.connected.Store(true)
	go c.drainErrors(c.writeAPI.Errors())

	return c, nil
}

// batchSettings substitutes defaults for non-positive batch size and
// flush interval (seconds).
func batchSettings(cfg config.InfluxDBConfig) (batchSize, flushInterval int) {
	batchSize, flushInterval = cfg.BatchSize, cfg.FlushInterval
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return batchSize, flushInterval
}

func ping(ic influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return pingCtx(ctx, ic)
}

func pingCtx(ctx context.Context, ic influxdb2.Client) error {
	ok, err := ic.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return errUnhealthy
	}
	return nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.cbMu.RLock()
		cb := c.onError
		c.cbMu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// Close flushes queued points and releases the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	if c.client == nil || !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server, bounded by a short timeout on top of ctx.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pingCtx(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close has not run.
// It does not probe the server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SetOnError installs the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.cbMu.Lock()
	c.onError = callback
	c.cbMu.Unlock()
}

// Flush blocks until queued points are sent. No-op once closed.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Stats returns the current write counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected: c.IsConnected(),
		Bucket:    c.bucket,
		Dropped:   c.dropped.Load(),
		Failed:    c.failed.Load(),
	}
}
