package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latticefin/rtdb/internal/telemetry"
	"github.com/latticefin/rtdb/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SubscribeRequest is a client's telemetry subscription message.
type SubscribeRequest struct {
	Action     string                `json:"action"` // "subscribe" or "unsubscribe"
	Type       telemetry.RequestType `json:"type"`
	Filter     string                `json:"filter"`
	IntervalMS int                   `json:"interval_ms"`
}

// WSHub accepts WebSocket connections and bridges each client's
// subscriptions to the telemetry Dispatcher/AlertPipeline. Adapted from a
// single untyped broadcast-to-all-clients hub into one where each client's
// send buffer is fed only by the request types it has subscribed to.
type WSHub struct {
	dispatcher *telemetry.Dispatcher
	alerts     *telemetry.AlertPipeline

	register   chan *WSClient
	unregister chan *WSClient
	log        *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]bool
}

// NewWSHub returns a hub serving telemetry from dispatcher/alerts.
func NewWSHub(dispatcher *telemetry.Dispatcher, alerts *telemetry.AlertPipeline) *WSHub {
	return &WSHub{
		dispatcher: dispatcher,
		alerts:     alerts,
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		log:        logging.GetDefault().Component("ws"),
		clients:    make(map[*WSClient]bool),
	}
}

// Run is the hub's membership event loop.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug("telemetry client connected", "clients", len(h.clients))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.stopAll()
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug("telemetry client disconnected", "clients", len(h.clients))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// subscriptionKey identifies one client subscription.
type subscriptionKey struct {
	typ    telemetry.RequestType
	filter string
}

// WSClient is one connected telemetry WebSocket client.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu   sync.Mutex
	subs map[subscriptionKey]func() // cancel funcs, keyed by (type, filter)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.wsHub,
		subs: make(map[subscriptionKey]func()),
	}
	s.wsHub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", "error", err)
			}
			return
		}
		var req SubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		switch req.Action {
		case "subscribe":
			c.subscribe(req)
		case "unsubscribe":
			c.unsubscribe(subscriptionKey{typ: req.Type, filter: req.Filter})
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscribe wires the client's send channel to a telemetry Dispatcher or
// AlertPipeline subscription, spawning a forwarder goroutine that exits
// when the source channel is closed (dispatcher disconnect, or client
// unsubscribe/disconnect).
func (c *WSClient) subscribe(req SubscribeRequest) {
	key := subscriptionKey{typ: req.Type, filter: req.Filter}

	if req.Type == telemetry.Alert {
		frames, unsub, err := c.hub.alerts.Subscribe(req.Filter)
		if err != nil {
			return
		}
		c.addSub(key, unsub)
		go func() {
			for rec := range frames {
				c.deliver(telemetry.Frame{Type: telemetry.Alert, Data: rec, TimestampNS: rec.TimestampNS})
			}
		}()
		return
	}

	id, frames := c.hub.dispatcher.Subscribe(req.Type, req.Filter, req.IntervalMS)
	c.addSub(key, func() { c.hub.dispatcher.Unsubscribe(req.Type, id) })
	go func() {
		for f := range frames {
			c.deliver(f)
		}
	}()
}

func (c *WSClient) unsubscribe(key subscriptionKey) {
	c.mu.Lock()
	cancel, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *WSClient) stopAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[subscriptionKey]func())
	c.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

func (c *WSClient) addSub(key subscriptionKey, cancel func()) {
	c.mu.Lock()
	if existing, ok := c.subs[key]; ok {
		existing()
	}
	c.subs[key] = cancel
	c.mu.Unlock()
}

func (c *WSClient) deliver(f telemetry.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("telemetry client send buffer full, dropping frame", "type", f.Type)
	}
}
