package repository

import (
	"strings"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func effectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// TimeRange bounds created_at. Zero ends are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls in [From, To).
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// TicketFilter selects tickets for the staff worklist. Empty fields match
// everything.
type TicketFilter struct {
	Status   models.TicketStatus
	Priority models.TicketPriority
	Created  TimeRange
	Limit    int
}

// EffectiveLimit clamps Limit to [1, MaxListLimit], defaulting to
// DefaultListLimit.
func (f TicketFilter) EffectiveLimit() int { return effectiveLimit(f.Limit) }

// Matches reports whether t passes every set condition.
func (f TicketFilter) Matches(t *models.Ticket) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	return f.Created.Contains(t.CreatedAt)
}

func (f TicketFilter) where() (string, []interface{}) {
	w := &whereBuilder{}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Priority != "" {
		w.add("priority = ?", f.Priority)
	}
	w.addRange(f.Created)
	return w.String(), w.args
}

// SessionFilter selects sessions for the staff worklist. Empty fields match
// everything.
type SessionFilter struct {
	Status  models.SessionStatus
	AgentID string
	Created TimeRange
	Limit   int
}

// EffectiveLimit clamps Limit to [1, MaxListLimit], defaulting to
// DefaultListLimit.
func (f SessionFilter) EffectiveLimit() int { return effectiveLimit(f.Limit) }

// Matches reports whether s passes every set condition.
func (f SessionFilter) Matches(s *models.Session) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.AgentID != "" && s.Agent() != f.AgentID {
		return false
	}
	return f.Created.Contains(s.CreatedAt)
}

func (f SessionFilter) where() (string, []interface{}) {
	w := &whereBuilder{}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.AgentID != "" {
		w.add("agent_id = ?", f.AgentID)
	}
	w.addRange(f.Created)
	return w.String(), w.args
}

type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, arg interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *whereBuilder) addRange(r TimeRange) {
	if !r.From.IsZero() {
		w.add("created_at >= ?", r.From)
	}
	if !r.To.IsZero() {
		w.add("created_at < ?", r.To)
	}
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "\nWHERE " + strings.Join(w.conds, " AND ")
}
