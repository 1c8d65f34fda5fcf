// Package realtime is the socket gateway: it authenticates connections,
// keeps their room memberships, routes client events to the support
// service and watches each connection's heartbeat.
package realtime

import (
	"context"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_socket_connections",
		Help: "Live socket connections by identity kind",
	}, []string{"kind"})
	droppedPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_socket_dropped_pushes_total",
		Help: "Pushes dropped because a connection's send buffer was full",
	})
	clientEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_socket_client_events_total",
		Help: "Client events handled by event and result",
	}, []string{"event", "result"})
)

// Hub tracks live connections and the rooms they joined. It implements
// events.Emitter; delivery never blocks on a slow receiver.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	rooms  map[string]map[string]*Conn
	logger *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		logger: logger,
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

// unregister drops c from every room and closes its send buffer. It
// reports false when c was already gone.
func (h *Hub) unregister(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	delete(h.conns, c.id)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	close(c.send)
	return true
}

// Join adds c to room.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
}

// Leave removes c from room.
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// InRoom reports whether c is a member of room.
func (h *Hub) InRoom(c *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Connections returns a snapshot of the live connections.
func (h *Hub) Connections() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Emit pushes event to every member of room.
func (h *Hub) Emit(_ context.Context, room, event string, payload any) error {
	msg, err := encodePush(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		h.deliverLocked(c, msg)
	}
	return nil
}

// EmitRooms pushes event once to every connection that is a member of any
// of rooms.
func (h *Hub) EmitRooms(_ context.Context, rooms []string, event string, payload any) error {
	msg, err := encodePush(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, room := range rooms {
		for id, c := range h.rooms[room] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			h.deliverLocked(c, msg)
		}
	}
	return nil
}

// Send pushes event to a single connection.
func (h *Hub) Send(c *Conn, event string, payload any) error {
	msg, err := encodePush(event, payload)
	if err != nil {
		return err
	}
	h.sendRaw(c, msg)
	return nil
}

func (h *Hub) sendRaw(c *Conn, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliverLocked(c, msg)
}

func (h *Hub) deliverLocked(c *Conn, msg []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		droppedPushes.Inc()
		h.logger.Printf("realtime: send buffer full, dropping push to %s", c.id)
	}
}
