// Package events names the real-time events and rooms shared by the
// scheduling services and the socket gateway.
package events

import (
	"context"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

// Push events.
const (
	Pong               = "pong"
	SessionUpdate      = "session-update"
	QueueUpdate        = "queue-update"
	Message            = "message"
	AgentAssigned      = "agent:assigned"
	NewSession         = "new-session"
	AgentStatusChanged = "agent-status-changed"
	TicketUpdate       = "ticket-update"
	HeartbeatWarning   = "heartbeat-warning"
	ConnectionLost     = "connection-lost"
	PlayerDisconnected = "player-disconnected"
	PlayerReconnected  = "player-reconnected"
)

// Request events sent by clients.
const (
	Ping            = "ping"
	SendMessage     = "send-message"
	JoinRoom        = "join-room"
	LeaveRoom       = "leave-room"
	CreateTicket    = "create-ticket"
	ResumeTicket    = "resume-ticket"
	RequestTransfer = "request-transfer"
	Ack             = "ack"
)

// StaffRoom is joined by every authenticated staff connection.
const StaffRoom = "staff"

// TicketRoom returns the room of a ticket.
func TicketRoom(ticketID string) string { return "ticket:" + ticketID }

// SessionRoom returns the room of a session.
func SessionRoom(sessionID string) string { return "session:" + sessionID }

// UserRoom returns the direct-delivery room of a staff member.
func UserRoom(staffID string) string { return "user:" + staffID }

// Emitter delivers events to rooms. Implementations must not block on slow
// receivers; delivery failures are reported, never retried.
type Emitter interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, string, any) error { return nil }

// QueuePayload is the body of queue-update.
type QueuePayload struct {
	SessionID         string `json:"sessionId"`
	Position          int    `json:"position"`
	EstimatedWaitTime int    `json:"estimatedWaitTime"`
}

// SessionPayload is the body of session-update and new-session.
type SessionPayload struct {
	Session *models.Session `json:"session"`
	Ticket  *models.Ticket  `json:"ticket,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// AssignedPayload is the body of agent:assigned.
type AssignedPayload struct {
	SessionID string `json:"sessionId"`
	TicketID  string `json:"ticketId"`
	AgentID   string `json:"agentId"`
	Manual    bool   `json:"manual"`
}

// StaffStatusPayload is the body of agent-status-changed.
type StaffStatusPayload struct {
	StaffID  string `json:"staffId"`
	IsOnline bool   `json:"isOnline"`
}

// TicketPayload is the body of ticket-update.
type TicketPayload struct {
	Ticket *models.Ticket `json:"ticket"`
	Reason string         `json:"reason,omitempty"`
}

// HeartbeatWarningPayload is the body of heartbeat-warning.
type HeartbeatWarningPayload struct {
	Missed    int `json:"missed"`
	Remaining int `json:"remaining"`
}

// ConnectionLostPayload is the body of connection-lost.
type ConnectionLostPayload struct {
	CanReconnect bool   `json:"canReconnect"`
	Reason       string `json:"reason"`
}

// PlayerPresencePayload is the body of player-disconnected and player-reconnected.
type PlayerPresencePayload struct {
	SessionID string `json:"sessionId"`
	TicketID  string `json:"ticketId,omitempty"`
}
