package repository

import (
	"context"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

// TicketRepository persists tickets.
type TicketRepository interface {
	Create(ctx context.Context, t *models.Ticket) error
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
	GetByToken(ctx context.Context, token string) (*models.Ticket, error)
	Update(ctx context.Context, t *models.Ticket) error
	// ListStale returns unresolved tickets that are due for automatic closure:
	// never answered by staff and created before waitingBefore, or answered and
	// not updated since repliedBefore.
	ListStale(ctx context.Context, waitingBefore, repliedBefore time.Time, limit int) ([]*models.Ticket, error)
	// List returns tickets matching f, highest score first.
	List(ctx context.Context, f TicketFilter) ([]*models.Ticket, error)
}

// SessionRepository persists sessions and answers the queue's fallback queries.
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	// GetOpenByTicket returns the ticket's non-closed session or ErrNotFound.
	GetOpenByTicket(ctx context.Context, ticketID string) (*models.Session, error)
	// ListQueued returns every QUEUED session with a queue timestamp.
	ListQueued(ctx context.Context) ([]*models.Session, error)
	// ListQueuedByAgent returns QUEUED sessions bound to agentID.
	ListQueuedByAgent(ctx context.Context, agentID string) ([]*models.Session, error)
	// CountAhead counts QUEUED sessions in the pool of agentID (nil means the
	// unassigned pool) that rank strictly ahead of entry.
	CountAhead(ctx context.Context, agentID *string, entry models.QueueEntry) (int, error)
	// List returns sessions matching f, newest first.
	List(ctx context.Context, f SessionFilter) ([]*models.Session, error)
	// CountActiveByAgent returns the number of IN_PROGRESS sessions per agent.
	CountActiveByAgent(ctx context.Context, agentIDs []string) (map[string]int, error)
	// RecentHandlingTimes returns closedAt-startedAt for the most recently
	// closed sessions, newest first.
	RecentHandlingTimes(ctx context.Context, limit int) ([]time.Duration, error)
}

// StaffRepository persists agents and admins.
type StaffRepository interface {
	Upsert(ctx context.Context, s *models.Staff) error
	GetByID(ctx context.Context, id string) (*models.Staff, error)
	// ListOnline returns online staff with one of roles, or every role when
	// none is given.
	ListOnline(ctx context.Context, roles ...models.StaffRole) ([]*models.Staff, error)
	SetOnline(ctx context.Context, id string, online bool, loginAt *time.Time) error
}

// MessageRepository persists chat messages.
type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// PriorityRuleRepository persists priority scoring rules.
type PriorityRuleRepository interface {
	ListEnabled(ctx context.Context) ([]*models.PriorityRule, error)
	Upsert(ctx context.Context, r *models.PriorityRule) error
}

// Store bundles the repositories of one durable backend.
type Store struct {
	Tickets  TicketRepository
	Sessions SessionRepository
	Staff    StaffRepository
	Messages MessageRepository
	Rules    PriorityRuleRepository
}
