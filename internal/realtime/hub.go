package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/arturoeanton/runcoach/internal/metrics"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/coder/websocket"
)

const (
	sendBuffer      = 32
	presenceTimeout = 2 * time.Second
)

// Envelope is the frame exchanged in both directions on the live channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// conn is one open live connection.
type conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan []byte
}

// emit queues an event for this connection only. A full buffer drops the frame.
func (c *conn) emit(event string, data any) bool {
	frame, err := encode(event, data)
	if err != nil {
		slog.Error("encode live event", "event", event, "error", err)
		return false
	}
	return c.enqueue(frame)
}

func (c *conn) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		slog.Warn("live connection too slow, dropping event", "user_id", c.userID, "conn_id", c.id)
		return false
	}
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Hub fans events out to every connection a user holds on this instance
// and keeps the presence registry in step.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[string]*conn // user id -> conn id -> conn
	presence port.PresenceRegistry
}

var _ port.LiveDelivery = (*Hub)(nil)

// NewHub creates a hub backed by the given presence registry.
func NewHub(presence port.PresenceRegistry) *Hub {
	return &Hub{
		conns:    make(map[string]map[string]*conn),
		presence: presence,
	}
}

// Deliver pushes an event to all of the user's connections.
func (h *Hub) Deliver(userID, event string, data any) bool {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns[userID]))
	for _, c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return false
	}

	frame, err := encode(event, data)
	if err != nil {
		slog.Error("encode live event", "event", event, "error", err)
		return false
	}
	delivered := false
	for _, c := range targets {
		if c.enqueue(frame) {
			delivered = true
		}
	}
	return delivered
}

// Online reports how many connections the user holds on this instance.
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	if h.conns[c.userID] == nil {
		h.conns[c.userID] = make(map[string]*conn)
	}
	h.conns[c.userID][c.id] = c
	h.mu.Unlock()
	metrics.LiveConnections.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Add(ctx, c.userID, c.id); err != nil {
		slog.Warn("presence add failed", "user_id", c.userID, "error", err)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()
	metrics.LiveConnections.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Remove(ctx, c.userID, c.id); err != nil {
		slog.Warn("presence remove failed", "user_id", c.userID, "error", err)
	}
}

// closeAll closes every open connection with the going-away status.
func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*conn
	for _, set := range h.conns {
		for _, c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
