package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
)

// Client is the engine's broker connection. It remembers subscriptions
// across reconnects and keeps a retained online/offline record on the
// system status topic. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. paho calls it from its own
// goroutine; a returned error is logged and the message is still acked.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg with the offline will armed.
// It returns ErrConnectionFailed when the first attempt errors or does
// not complete within the connect timeout.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onLinkUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLinkDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("reconnecting to MQTT broker", "broker", brokerURL(cfg.Broker))
	})

	c.client = pahomqtt.NewClient(opts)
	tok := c.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no answer from %s within %v", ErrConnectionFailed, brokerURL(cfg.Broker), connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onLinkUp may not have run yet.
	c.connected.Store(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// QoS returns the configured default QoS.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) }

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	return c.client.Publish(c.topics.SystemStatus(), c.QoS(), true,
		buildStatusPayload(c.cfg.Broker.ClientID, status, reason))
}

func (c *Client) onLinkUp() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.publishStatus("online", "")

	c.hookMu.RLock()
	hook := c.onConnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) onLinkDown(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)

	c.hookMu.RLock()
	hook := c.onDisconnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close marks the engine offline on the status topic and disconnects.
// It never fails; closing an unconnected client is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus("offline", "graceful_shutdown").WaitTimeout(operationTimeout)
	}
	c.connected.Store(false)
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected combines the client's own view with paho's.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect installs a hook run after every (re)connect.
func (c *Client) SetOnConnect(hook func()) {
	c.hookMu.Lock()
	c.onConnect = hook
	c.hookMu.Unlock()
}

// SetOnDisconnect installs a hook run when the link drops.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = hook
	c.hookMu.Unlock()
}

// SetLogger sets the logger for link changes and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) log() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, logging a returned error and recovering a panic.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		c.log().Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
