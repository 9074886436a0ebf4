package http

import (
	"log/slog"
	"sync"

	"quiz-match-service/internal/app"
)

// client is one websocket connection's outbound queue.
type client struct {
	id     string
	send   chan app.Message
	closed bool
}

// Hub routes match messages to connections. It implements app.Notifier and
// never blocks the caller: a connection whose queue is full is dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	buffer  int
	logger  *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[string]*client),
		buffer:  buffer,
		logger:  logger,
	}
}

// Register opens a queue for connID.
func (h *Hub) Register(connID string) *client {
	c := &client{id: connID, send: make(chan app.Message, h.buffer)}
	h.mu.Lock()
	h.clients[connID] = c
	h.mu.Unlock()
	return c
}

// Unregister closes the queue for connID; the writer drains it and exits.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID)
}

func (h *Hub) Notify(connID string, msg app.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok || c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("outbound queue full, dropping connection", "conn", connID, "type", msg.Type)
		h.removeLocked(connID)
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) removeLocked(connID string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
