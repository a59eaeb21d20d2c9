package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/notifications"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

var errHubBacklog = errors.New("websocket hub backlog full")

// WebSocketHub streams posted notifications to connected clients and accepts
// reactions from them. It is a notifications.Subscriber.
type WebSocketHub struct {
	notifier *notifications.Service
	upgrader websocket.Upgrader
	logger   *logging.Logger

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once

	mu    sync.RWMutex
	count int
}

type wsClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
}

// wsInbound is a message a client sends
type wsInbound struct {
	Type     string        `json:"type"`
	Reaction core.Reaction `json:"reaction"`
}

// NewWebSocketHub creates a hub. notifier may be nil, in which case inbound
// reactions are dropped.
func NewWebSocketHub(notifier *notifications.Service, logger *logging.Logger) *WebSocketHub {
	return &WebSocketHub{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:     logging.OrDefault(logger).WithField("component", "websocket"),
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, wsSendBuffer),
		done:       make(chan struct{}),
	}
}

// ID identifies the hub as a subscriber
func (h *WebSocketHub) ID() string {
	return "websocket"
}

// Send queues a notification for every connected client
func (h *WebSocketHub) Send(n notifications.Notification) error {
	data, err := json.Marshal(notifications.WebSocketMessage{Type: string(n.Type), Payload: n})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		return errHubBacklog
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Run owns the client set until Stop is called
func (h *WebSocketHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.setCount(len(h.clients))
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(0)
			return
		}
	}
}

// Stop ends Run and disconnects every client
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *WebSocketHub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *WebSocketHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, wsSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump handles inbound reactions until the connection drops
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handleInbound(data)
	}
}

func (h *WebSocketHub) handleInbound(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "reaction" {
		return
	}
	if h.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.notifier.HandleReaction(ctx, msg.Reaction); err != nil {
		h.logger.WithError(err).Warn("Reaction from websocket rejected")
	}
}

// writePump delivers queued messages and keeps the connection alive
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
