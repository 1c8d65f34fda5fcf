// Package transfer moves sessions from the AI responder to staff, or turns
// them into urgent tickets when nobody can take them.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/services/queue"
)

// Scorer computes the priority score of a session.
type Scorer interface {
	Score(ctx context.Context, t *models.Ticket, s *models.Session) (int, error)
}

// Queue is the part of the queue manager the engine drives.
type Queue interface {
	Enqueue(ctx context.Context, pool, sessionID string, score int, queuedAt time.Time) error
	Remove(ctx context.Context, sessionID, pool string) error
	Position(ctx context.Context, sessionID, pool string) (int, error)
	AverageHandlingTime(ctx context.Context) time.Duration
	Reorder(ctx context.Context) (*queue.ReorderResult, error)
}

// Assigner binds an agent without starting the session.
type Assigner interface {
	AutoAssignOnly(ctx context.Context, sessionID string) (*models.Session, error)
}

// Result is the outcome of TransferToAgent: either a queue slot or an
// urgent ticket, never both.
type Result struct {
	SessionID         string        `json:"sessionId"`
	Queued            bool          `json:"queued"`
	Position          int           `json:"position,omitempty"`
	EstimatedWait     time.Duration `json:"-"`
	AgentID           string        `json:"agentId,omitempty"`
	ConvertedToTicket bool          `json:"convertedToTicket"`
	TicketNo          string        `json:"ticketNo,omitempty"`
}

// EstimatedWaitSeconds returns the ETA in whole seconds.
func (r *Result) EstimatedWaitSeconds() int {
	return int(r.EstimatedWait / time.Second)
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithEmitter(em events.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithUrgentScoreFloor sets the minimum score of an escalated ticket.
func WithUrgentScoreFloor(floor int) Option {
	return func(e *Engine) {
		e.urgentFloor = floor
	}
}

// Engine is the transfer and escalation engine.
type Engine struct {
	tickets     repository.TicketRepository
	sessions    repository.SessionRepository
	staff       repository.StaffRepository
	messages    repository.MessageRepository
	scorer      Scorer
	queue       Queue
	assigner    Assigner
	emitter     events.Emitter
	logger      *log.Logger
	urgentFloor int
	now         func() time.Time
}

func NewEngine(store *repository.Store, scorer Scorer, q Queue, assigner Assigner, options ...Option) *Engine {
	e := &Engine{
		tickets:     store.Tickets,
		sessions:    store.Sessions,
		staff:       store.Staff,
		messages:    store.Messages,
		scorer:      scorer,
		queue:       q,
		assigner:    assigner,
		emitter:     events.Nop{},
		logger:      log.Default(),
		urgentFloor: 80,
		now:         time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// TransferToAgent hands the session to staff. With nobody online the ticket
// is escalated and the session closed; otherwise the session is queued in
// the unassigned pool and offered to the assignment engine. A session that
// is already queued reports its current slot.
func (e *Engine) TransferToAgent(ctx context.Context, sessionID string) (*Result, error) {
	s, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	t, err := e.tickets.GetByID(ctx, s.TicketID)
	if err != nil {
		return nil, err
	}
	switch {
	case t.IsResolved():
		return nil, fmt.Errorf("ticket %s is resolved: %w", t.ID, models.ErrInvalidState)
	case s.Status == models.SessionStatusClosed, s.Status == models.SessionStatusInProgress:
		return nil, fmt.Errorf("session %s is %s: %w", s.ID, s.Status, models.ErrInvalidState)
	case s.IsQueued():
		return e.queued(ctx, s.ID)
	}

	online, err := e.onlineStaff(ctx)
	if err != nil {
		return nil, err
	}
	if online == 0 {
		return e.escalate(ctx, s, t)
	}

	if err := e.enqueue(ctx, s, t); err != nil {
		return nil, err
	}

	if _, err := e.assigner.AutoAssignOnly(ctx, s.ID); err != nil {
		if !errors.Is(err, models.ErrNoCapacity) {
			e.logger.Printf("transfer: assign-only for %s failed, leaving it queued: %v", s.ID, err)
			return e.queued(ctx, s.ID)
		}
		// staff may have gone offline since the first count
		online, err := e.onlineStaff(ctx)
		if err != nil {
			return nil, err
		}
		if online == 0 {
			current, err := e.sessions.GetByID(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			return e.escalate(ctx, current, t)
		}
	}
	return e.queued(ctx, s.ID)
}

func (e *Engine) onlineStaff(ctx context.Context) (int, error) {
	staff, err := e.staff.ListOnline(ctx, models.RoleAgent, models.RoleAdmin)
	if err != nil {
		return 0, fmt.Errorf("failed to count online staff: %w", err)
	}
	return len(staff), nil
}

func (e *Engine) enqueue(ctx context.Context, s *models.Session, t *models.Ticket) error {
	score, err := e.scorer.Score(ctx, t, s)
	if err != nil {
		e.logger.Printf("transfer: scoring session %s failed, using ticket score: %v", s.ID, err)
		score = t.PriorityScore
	}
	now := e.now().UTC()
	at := queue.StampTime(now)
	s.Status = models.SessionStatusQueued
	s.PriorityScore = queue.ClampScore(score)
	s.QueuedAt = &at
	s.QueuePosition = nil
	s.EstimatedWaitSeconds = nil
	s.UpdatedAt = now
	if err := e.sessions.Update(ctx, s); err != nil {
		return fmt.Errorf("failed to queue session: %w", err)
	}
	_ = e.queue.Enqueue(ctx, models.UnassignedPool, s.ID, s.PriorityScore, at)
	if _, err := e.queue.Reorder(ctx); err != nil {
		e.logger.Printf("transfer: reorder failed: %v", err)
	}
	e.emit(ctx, events.SessionRoom(s.ID), events.SessionUpdate, events.SessionPayload{Session: s, Ticket: t, Reason: "queued"})
	e.emit(ctx, events.StaffRoom, events.SessionUpdate, events.SessionPayload{Session: s, Ticket: t, Reason: "queued"})
	return nil
}

func (e *Engine) queued(ctx context.Context, sessionID string) (*Result, error) {
	s, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := &Result{SessionID: s.ID, Queued: true, AgentID: s.Agent()}
	pos, err := e.queue.Position(ctx, s.ID, models.PoolFor(s))
	if err != nil {
		return nil, fmt.Errorf("failed to read queue position: %w", err)
	}
	res.Position = pos
	res.EstimatedWait = queue.EstimateWait(pos, e.queue.AverageHandlingTime(ctx))
	return res, nil
}

// Escalate converts the session into an urgent ticket: the ticket gets
// URGENT priority with a raised score and stays WAITING for asynchronous
// handling, the session is closed and the customer is told the ticket
// number.
func (e *Engine) Escalate(ctx context.Context, sessionID string) (*Result, error) {
	s, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.IsClosed() {
		return nil, fmt.Errorf("session %s is closed: %w", s.ID, models.ErrInvalidState)
	}
	t, err := e.tickets.GetByID(ctx, s.TicketID)
	if err != nil {
		return nil, err
	}
	if t.IsResolved() {
		return nil, fmt.Errorf("ticket %s is resolved: %w", t.ID, models.ErrInvalidState)
	}
	return e.escalate(ctx, s, t)
}

func (e *Engine) escalate(ctx context.Context, s *models.Session, t *models.Ticket) (*Result, error) {
	now := e.now().UTC()

	t.Priority = models.PriorityUrgent
	if t.PriorityScore < e.urgentFloor {
		t.PriorityScore = e.urgentFloor
	}
	t.UpdatedAt = now
	if err := e.tickets.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to escalate ticket: %w", err)
	}

	wasQueued := s.IsQueued()
	pool := models.PoolFor(s)
	s.Status = models.SessionStatusClosed
	s.ClosedAt = &now
	s.UpdatedAt = now
	s.ClearQueueFields()
	if err := e.sessions.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to close escalated session: %w", err)
	}
	if wasQueued {
		_ = e.queue.Remove(ctx, s.ID, pool)
		if _, err := e.queue.Reorder(ctx); err != nil {
			e.logger.Printf("transfer: reorder failed: %v", err)
		}
	}

	msg := &models.Message{
		ID:         uuid.NewString(),
		SessionID:  s.ID,
		TicketID:   t.ID,
		SenderType: models.SenderSystem,
		Content:    EscalationNotice(t.TicketNo),
		CreatedAt:  now,
	}
	if err := e.messages.Create(ctx, msg); err != nil {
		e.logger.Printf("transfer: failed to store escalation notice for %s: %v", s.ID, err)
	} else {
		e.emit(ctx, events.SessionRoom(s.ID), events.Message, msg)
	}
	e.emit(ctx, events.SessionRoom(s.ID), events.SessionUpdate, events.SessionPayload{Session: s, Ticket: t, Reason: "escalated"})
	e.emit(ctx, events.TicketRoom(t.ID), events.TicketUpdate, events.TicketPayload{Ticket: t, Reason: "escalated"})
	e.emit(ctx, events.StaffRoom, events.TicketUpdate, events.TicketPayload{Ticket: t, Reason: "escalated"})

	e.logger.Printf("transfer: session %s escalated to urgent ticket %s", s.ID, t.TicketNo)
	return &Result{SessionID: s.ID, ConvertedToTicket: true, TicketNo: t.TicketNo}, nil
}

// EscalationNotice is the system message left in an escalated session.
func EscalationNotice(ticketNo string) string {
	return fmt.Sprintf("No agent is available right now. Your request has been recorded as ticket %s and will be answered as soon as possible.", ticketNo)
}

func (e *Engine) emit(ctx context.Context, room, event string, payload any) {
	if err := e.emitter.Emit(ctx, room, event, payload); err != nil {
		e.logger.Printf("transfer: failed to emit %s to %s: %v", event, room, err)
	}
}
