package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gotrs-io/gotrs-chat/internal/auth"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateBound
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateBound:
		return "BOUND"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Conn is one socket client.
type Conn struct {
	id          string
	ws          *websocket.Conn
	send        chan []byte
	heartbeat   *Heartbeat
	connectedAt time.Time

	// guarded by the hub's lock
	closed bool
	rooms  map[string]struct{}

	mu        sync.Mutex
	state     ConnState
	identity  *auth.Identity
	ticketID  string
	sessionID string
}

func newConn(id string, ws *websocket.Conn, buffer int, hb *Heartbeat, now time.Time) *Conn {
	return &Conn{
		id:          id,
		ws:          ws,
		send:        make(chan []byte, buffer),
		heartbeat:   hb,
		connectedAt: now,
		rooms:       make(map[string]struct{}),
		state:       StateConnecting,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Identity() *auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Binding returns the ticket and session the connection is bound to.
func (c *Conn) Binding() (ticketID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticketID, c.sessionID
}

func (c *Conn) authenticated(id *auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
	c.state = StateAuthenticated
}

// bind records the ticket and session and returns the previous session.
func (c *Conn) bind(ticketID, sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.sessionID
	c.ticketID = ticketID
	c.sessionID = sessionID
	if c.state != StateClosed {
		c.state = StateBound
	}
	return prev
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}
