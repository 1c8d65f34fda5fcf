package models

import (
	"strings"
	"time"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusWaiting    TicketStatus = "WAITING"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
)

// TicketPriority is the coarse priority bucket shown to staff.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityNormal TicketPriority = "NORMAL"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

// Close reasons written by the system.
const (
	CloseReasonAutoTimeout = "AUTO_TIMEOUT"
	CloseReasonResolved    = "RESOLVED"
	ClosedBySystem         = "SYSTEM"
)

// Ticket represents a player support request. A ticket outlives the sessions
// opened for it, one per staff hand-off cycle.
type Ticket struct {
	ID             string         `json:"id" db:"id"`
	TicketNo       string         `json:"ticketNo" db:"ticket_no"`
	Token          string         `json:"-" db:"token"`
	GameID         string         `json:"gameId" db:"game_id"`
	AreaID         string         `json:"areaId,omitempty" db:"area_id"`
	PlayerIDOrName string         `json:"playerIdOrName" db:"player_id_or_name"`
	Description    string         `json:"description" db:"description"`
	IssueTypeIDs   StringList     `json:"issueTypeIds" db:"issue_type_ids"`
	IdentityStatus string         `json:"identityStatus,omitempty" db:"identity_status"`
	Status         TicketStatus   `json:"status" db:"status"`
	Priority       TicketPriority `json:"priority" db:"priority"`
	PriorityScore  int            `json:"priorityScore" db:"priority_score"`
	CloseReason    *string        `json:"closeReason,omitempty" db:"close_reason"`
	ClosedBy       *string        `json:"closedBy,omitempty" db:"closed_by"`
	StaffRepliedAt *time.Time     `json:"staffRepliedAt,omitempty" db:"staff_replied_at"`
	ClosedAt       *time.Time     `json:"closedAt,omitempty" db:"closed_at"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`
}

// IsResolved reports whether the ticket is closed for good.
func (t *Ticket) IsResolved() bool {
	return t != nil && t.Status == TicketStatusResolved
}

// HasIssueType reports whether the ticket carries the given issue-type tag.
func (t *Ticket) HasIssueType(id string) bool {
	for _, it := range t.IssueTypeIDs {
		if it == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that can be mutated without touching the original.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.IssueTypeIDs = append(StringList(nil), t.IssueTypeIDs...)
	c.CloseReason = cloneString(t.CloseReason)
	c.ClosedBy = cloneString(t.ClosedBy)
	c.StaffRepliedAt = cloneTime(t.StaffRepliedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	return &c
}

// ParsePriority maps free-form input to a TicketPriority, defaulting to NORMAL.
func ParsePriority(s string) TicketPriority {
	switch TicketPriority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityUrgent:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
