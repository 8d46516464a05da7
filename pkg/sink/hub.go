// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package sink

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
)

// Message types pushed to browser clients
const (
	TypeConfig = "config"
	TypeStatus = "status"
	TypeData   = "data"
)

const (
	clientBuffer = 32
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// ConfigMessage describes the running acquisition.
type ConfigMessage struct {
	Type       string   `json:"type"`
	Interface  string   `json:"interface"`
	Endpoint   string   `json:"endpoint"`
	Channels   []string `json:"channels"`
	Parameters []string `json:"parameters"`
	SampleRate float64  `json:"sample_rate"`
	Connected  bool     `json:"connected"`
}

// StatusMessage carries a connection-status transition.
type StatusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Reading is one value as shown in the browser. Raw is null when the
// instrument has no data.
type Reading struct {
	Raw       *float64 `json:"raw"`
	Formatted string   `json:"formatted"`
	Unit      string   `json:"unit"`
}

// DataMessage carries one record grouped by channel then parameter.
type DataMessage struct {
	Type         string                        `json:"type"`
	Timestamp    float64                       `json:"timestamp"`
	SampleCount  int                           `json:"sample_count"`
	Valid        bool                          `json:"valid"`
	Error        string                        `json:"error,omitempty"`
	Measurements map[string]map[string]Reading `json:"measurements"`
}

// NewDataMessage converts a record for the browser.
func NewDataMessage(rec m2000.Record) DataMessage {
	msg := DataMessage{
		Type:         TypeData,
		Timestamp:    float64(rec.Timestamp.UnixNano()) / 1e9,
		SampleCount:  rec.Seq,
		Valid:        rec.Valid(),
		Measurements: make(map[string]map[string]Reading),
	}
	if rec.Err != nil {
		msg.Error = rec.Err.Error()
	}
	for _, m := range rec.Measurements {
		ch, ok := msg.Measurements[m.Channel]
		if !ok {
			ch = make(map[string]Reading)
			msg.Measurements[m.Channel] = ch
		}
		r := Reading{Formatted: m.Formatted, Unit: m.Unit}
		if f, err := m.Value.Float64(); err == nil {
			r.Raw = &f
		}
		ch[m.Parameter] = r
	}
	return msg
}

// Request is a message received from a client. Fields other than Type
// depend on the request.
type Request struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the whole message for the request handler.
func (r *Request) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	r.Type = head.Type
	r.Params = append(json.RawMessage(nil), data...)
	return nil
}

// RequestHandler answers a client request. The returned value is sent back
// to that client only; nil sends nothing.
type RequestHandler func(req Request) any

// Hub pushes records and status changes to every connected WebSocket
// client. Each client has a bounded queue; a client that falls behind loses
// messages rather than stalling the acquisition.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logrus.Entry
	config   func() ConfigMessage
	handler  RequestHandler

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte // latest data message
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(log *logrus.Entry) HubOption {
	return func(h *Hub) { h.log = log }
}

// WithConfig sets the function producing the config message sent to each
// new client.
func WithConfig(fn func() ConfigMessage) HubOption {
	return func(h *Hub) { h.config = fn }
}

// WithRequestHandler sets the handler for client requests.
func WithRequestHandler(fn RequestHandler) HubOption {
	return func(h *Hub) { h.handler = fn }
}

// NewHub creates a hub with no clients.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = discardLogger()
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.config != nil {
		if data, err := json.Marshal(h.configMessage()); err == nil {
			c.send <- data
		}
	}
	if h.last != nil {
		c.send <- h.last
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "clients": n}).Info("client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) configMessage() ConfigMessage {
	msg := h.config()
	msg.Type = TypeConfig
	return msg
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Info("client disconnected")
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("client read failed")
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.log.WithField("message", string(data)).Warn("invalid JSON from client")
			continue
		}
		if h.handler == nil {
			continue
		}
		resp := h.handler(req)
		if resp == nil {
			continue
		}
		out, err := json.Marshal(resp)
		if err != nil {
			h.log.WithError(err).Error("failed to encode response")
			continue
		}
		h.mu.Lock()
		h.enqueue(c, out)
		h.mu.Unlock()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue must be called with h.mu held
func (h *Hub) enqueue(c *client, data []byte) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.WithField("remote", c.conn.RemoteAddr().String()).Debug("client queue full, message dropped")
	}
}

// Broadcast sends v as JSON to every client.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueue(c, data)
	}
}

// Write pushes a data message and keeps it for clients connecting later.
func (h *Hub) Write(rec m2000.Record) error {
	data, err := json.Marshal(NewDataMessage(rec))
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.last = data
	h.mu.Unlock()
	h.broadcast(data)
	return nil
}

// PublishStatus pushes a status message. Its signature matches
// session.StatusHandler.
func (h *Hub) PublishStatus(status session.Status, err error) {
	msg := StatusMessage{Type: TypeStatus, Status: string(status)}
	if err != nil {
		msg.Error = err.Error()
	}
	if berr := h.Broadcast(msg); berr != nil {
		h.log.WithError(berr).Error("failed to encode status")
	}
}

// PublishConfig pushes the current config message to every client.
func (h *Hub) PublishConfig() error {
	if h.config == nil {
		return nil
	}
	return h.Broadcast(h.configMessage())
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}
