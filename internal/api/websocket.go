package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/graytap-core/internal/events"
	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
	"github.com/nerrad567/graytap-core/internal/infrastructure/logging"
	"github.com/nerrad567/graytap-core/internal/worker"
)

// Message types on the WebSocket protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Channels a client can subscribe to. Device-scoped records are sent on
// both ChannelEvents and DeviceChannel(id).
const (
	ChannelEvents         = "events"
	ChannelSessionStarted = "session.started"
	ChannelSessionEnded   = "session.ended"

	deviceChannelPrefix = "device:"
)

// clientQueueLen bounds each client's outbound queue; a full queue drops.
const clientQueueLen = 256

// DeviceChannel returns the channel carrying one device's events.
func DeviceChannel(id string) string {
	return deviceChannelPrefix + id
}

// WSMessage is one frame sent to a client, or built by one.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is the inbound view of WSMessage with the payload left raw.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans event bus records and session lifecycle changes out to the
// connected WebSocket clients that subscribed to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run disconnects every client once ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds client to the broadcast set.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes client and closes its queue. Repeated calls are no-ops.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		client.shutdown()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast queues payload for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket broadcast", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.isSubscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Attach relays every bus record to WebSocket clients. The returned
// function detaches the hub.
func (h *Hub) Attach(bus *events.Bus) (func(), error) {
	return bus.Subscribe(func(rec events.Record) {
		h.Broadcast(ChannelEvents, rec)
		if rec.DeviceID != "" {
			h.Broadcast(DeviceChannel(rec.DeviceID), rec)
		}
	})
}

// SessionStarted implements worker.Observer.
func (h *Hub) SessionStarted(p worker.Progress) {
	h.Broadcast(ChannelSessionStarted, p)
}

// SessionEnded implements worker.Observer.
func (h *Hub) SessionEnded(p worker.Progress) {
	h.Broadcast(ChannelSessionEnded, p)
}

// handleWebSocket upgrades the request. With JWT enabled the caller must
// present a ticket from POST /auth/ws-ticket, which is consumed here.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.secCfg.JWT.Enabled {
		switch ticket := r.URL.Query().Get("ticket"); {
		case ticket == "":
			writeUnauthorized(w, "ticket query parameter is required")
			return
		case !s.tickets.redeem(ticket):
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, clientQueueLen),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	pingEvery := secondsOr(s.wsCfg.PingInterval, 30)
	pongWait := secondsOr(s.wsCfg.PongTimeout, 10)
	go c.writeLoop(pingEvery, pongWait)
	go c.readLoop(int64(s.wsCfg.MaxMessageSize), pingEvery+pongWait)
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu            sync.RWMutex
	send          chan []byte
	closed        bool
	subscriptions map[string]struct{}
}

// enqueue offers frame without blocking. It reports false when the
// frame was dropped because the queue is full or closed.
func (c *WSClient) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the outbound queue, which ends writeLoop.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// readLoop handles client frames until the connection fails. Any inbound
// frame or pong extends the read deadline by idle.
func (c *WSClient) readLoop(limit int64, idle time.Duration) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	c.conn.SetReadLimit(limit)
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = extend()
		c.handle(data)
	}
}

// writeLoop drains the queue and pings every pingEvery. Each write must
// complete within writeWait.
func (c *WSClient) writeLoop(pingEvery, writeWait time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.changeSubscriptions(req, true)
	case WSTypeUnsubscribe:
		c.changeSubscriptions(req, false)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

func (c *WSClient) changeSubscriptions(req wsRequest, add bool) {
	var body WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &body) != nil {
		c.reply(req.ID, WSTypeError, errorBody("invalid "+req.Type+" payload"))
		return
	}

	c.mu.Lock()
	for _, ch := range body.Channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: body.Channels})
}

func (c *WSClient) reply(id, msgType string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(frame)
	}
}

func secondsOr(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}
