package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
	maxWSFrame = 4 << 10
)

// Channels a client may subscribe to.
var knownChannels = map[string]bool{"fills": true, "phase": true, "blocks": true}

// Hub fans committed updates out to subscribed websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws_connected", zap.String("client", c.id), zap.Int("total", len(h.clients)))
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws_disconnected", zap.String("client", c.id), zap.Int("total", len(h.clients)))
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToChannel sends data to every client subscribed to channel.
// Clients whose send buffer is full miss the message.
func (h *Hub) BroadcastToChannel(channel string, data any) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("ws_marshal_failed", zap.String("channel", channel), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.IsSubscribed(channel) {
			continue
		}
		select {
		case c.send <- message:
		default:
			h.logger.Debug("ws_slow_client", zap.String("client", c.id), zap.String("channel", channel))
		}
	}
}

// Client is one websocket connection and its channel subscriptions.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu sync.RWMutex
	subs   map[string]bool
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[channel]
}

// apply updates the subscription set and returns the channels now held.
func (c *Client) apply(req WSSubscribeRequest) []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range req.Channels {
		switch {
		case req.Op == "subscribe" && knownChannels[ch]:
			c.subs[ch] = true
		case req.Op == "unsubscribe":
			delete(c.subs, ch)
		}
	}
	held := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		held = append(held, ch)
	}
	sort.Strings(held)
	return held
}

func (c *Client) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxWSFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("ws_read_failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Debug("ws_invalid_message", zap.String("client", c.id), zap.Error(err))
			continue
		}
		if req.Op != "subscribe" && req.Op != "unsubscribe" {
			c.hub.logger.Debug("ws_unknown_op", zap.String("client", c.id), zap.String("op", req.Op))
			continue
		}
		held := c.apply(req)
		c.hub.logger.Debug("ws_subscriptions", zap.String("client", c.id), zap.Strings("channels", held))
		c.reply(WSAck{Type: "subscribed", Channels: held})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// checkOrigin admits same-host requests, requests without an Origin header
// and the configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.allowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.allowedOrigins, origin) || origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString(),
		subs: make(map[string]bool),
	}
	if !s.hub.add(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
