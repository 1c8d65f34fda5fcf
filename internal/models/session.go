package models

import "time"

// SessionStatus is the lifecycle state of a live support session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "PENDING"
	SessionStatusQueued     SessionStatus = "QUEUED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusClosed     SessionStatus = "CLOSED"
)

// Session is one staff hand-off cycle of a ticket.
type Session struct {
	ID                   string        `json:"id" db:"id"`
	TicketID             string        `json:"ticketId" db:"ticket_id"`
	AgentID              *string       `json:"agentId,omitempty" db:"agent_id"`
	Status               SessionStatus `json:"status" db:"status"`
	PriorityScore        int           `json:"priorityScore" db:"priority_score"`
	DetectedIntent       string        `json:"detectedIntent,omitempty" db:"detected_intent"`
	QueuedAt             *time.Time    `json:"queuedAt,omitempty" db:"queued_at"`
	QueuePosition        *int          `json:"queuePosition,omitempty" db:"queue_position"`
	EstimatedWaitSeconds *int          `json:"estimatedWaitSeconds,omitempty" db:"estimated_wait_seconds"`
	ManuallyAssigned     bool          `json:"manuallyAssigned" db:"manually_assigned"`
	StartedAt            *time.Time    `json:"startedAt,omitempty" db:"started_at"`
	ClosedAt             *time.Time    `json:"closedAt,omitempty" db:"closed_at"`
	LastActivityAt       *time.Time    `json:"lastActivityAt,omitempty" db:"last_activity_at"`
	CreatedAt            time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time     `json:"updatedAt" db:"updated_at"`
}

// IsClosed reports whether the session has ended.
func (s *Session) IsClosed() bool {
	return s != nil && s.Status == SessionStatusClosed
}

// IsActive reports whether the session counts towards its agent's load.
func (s *Session) IsActive() bool {
	return s != nil && s.AgentID != nil && s.Status == SessionStatusInProgress
}

// IsQueued reports whether the session currently holds a queue entry.
func (s *Session) IsQueued() bool {
	return s != nil && s.Status == SessionStatusQueued && s.QueuedAt != nil
}

// Agent returns the bound agent id or the empty string.
func (s *Session) Agent() string {
	if s == nil || s.AgentID == nil {
		return ""
	}
	return *s.AgentID
}

// ClearQueueFields resets the denormalized queue columns.
func (s *Session) ClearQueueFields() {
	s.QueuedAt = nil
	s.QueuePosition = nil
	s.EstimatedWaitSeconds = nil
}

// Clone returns a copy that can be mutated without touching the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.AgentID = cloneString(s.AgentID)
	c.QueuedAt = cloneTime(s.QueuedAt)
	c.QueuePosition = cloneInt(s.QueuePosition)
	c.EstimatedWaitSeconds = cloneInt(s.EstimatedWaitSeconds)
	c.StartedAt = cloneTime(s.StartedAt)
	c.ClosedAt = cloneTime(s.ClosedAt)
	c.LastActivityAt = cloneTime(s.LastActivityAt)
	return &c
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
