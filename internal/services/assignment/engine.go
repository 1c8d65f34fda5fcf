// Package assignment binds queued sessions to agents and admins.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/services/queue"
)

// Queue is the part of the queue manager the engine drives.
type Queue interface {
	Enqueue(ctx context.Context, pool, sessionID string, score int, queuedAt time.Time) error
	Move(ctx context.Context, entry models.QueueEntry, from, to string) error
	Remove(ctx context.Context, sessionID, pool string) error
	Reorder(ctx context.Context) (*queue.ReorderResult, error)
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

// WithAdminLoadPenalty sets the load added to admin candidates.
func WithAdminLoadPenalty(p int) Option {
	return func(e *Engine) {
		if p >= 0 {
			e.adminPenalty = p
		}
	}
}

// Engine is the assignment engine.
type Engine struct {
	sessions     repository.SessionRepository
	tickets      repository.TicketRepository
	staff        repository.StaffRepository
	queue        Queue
	emitter      events.Emitter
	logger       *log.Logger
	adminPenalty int
	now          func() time.Time
}

func NewEngine(store *repository.Store, q Queue, options ...Option) *Engine {
	e := &Engine{
		sessions:     store.Sessions,
		tickets:      store.Tickets,
		staff:        store.Staff,
		queue:        q,
		emitter:      events.Nop{},
		logger:       log.Default(),
		adminPenalty: 2,
		now:          time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Candidate is a staff member eligible for a session.
type Candidate struct {
	Staff *models.Staff
	// Load is the active session count, plus the penalty for admins.
	Load int
}

// SelectCandidate picks the least loaded online agent, breaking ties by
// earliest login. Admins join the pool when no agent is online or every
// agent already has an active session.
func (e *Engine) SelectCandidate(ctx context.Context) (*Candidate, error) {
	agents, err := e.staff.ListOnline(ctx, models.RoleAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to list online agents: %w", err)
	}
	candidates, err := e.withLoad(ctx, agents, 0)
	if err != nil {
		return nil, err
	}

	if allBusy(candidates) {
		admins, err := e.staff.ListOnline(ctx, models.RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("failed to list online admins: %w", err)
		}
		extra, err := e.withLoad(ctx, admins, e.adminPenalty)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, extra...)
	}
	if len(candidates) == 0 {
		return nil, models.ErrNoCapacity
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		return loginBefore(a.Staff, b.Staff)
	})
	return &candidates[0], nil
}

func (e *Engine) withLoad(ctx context.Context, staff []*models.Staff, penalty int) ([]Candidate, error) {
	if len(staff) == 0 {
		return nil, nil
	}
	ids := make([]string, len(staff))
	for i, s := range staff {
		ids[i] = s.ID
	}
	loads, err := e.sessions.CountActiveByAgent(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}
	out := make([]Candidate, len(staff))
	for i, s := range staff {
		out[i] = Candidate{Staff: s, Load: loads[s.ID] + penalty}
	}
	return out, nil
}

func allBusy(agents []Candidate) bool {
	for _, c := range agents {
		if c.Load == 0 {
			return false
		}
	}
	return true
}

// loginBefore orders by login time; staff without one sort last.
func loginBefore(a, b *models.Staff) bool {
	switch {
	case a.LastLoginAt == nil && b.LastLoginAt == nil:
		return a.ID < b.ID
	case a.LastLoginAt == nil:
		return false
	case b.LastLoginAt == nil:
		return true
	case a.LastLoginAt.Equal(*b.LastLoginAt):
		return a.ID < b.ID
	}
	return a.LastLoginAt.Before(*b.LastLoginAt)
}

// load re-reads the session and its ticket and rejects closed sessions and
// resolved tickets.
func (e *Engine) load(ctx context.Context, sessionID string) (*models.Session, *models.Ticket, error) {
	s, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if s.IsClosed() {
		return nil, nil, fmt.Errorf("session %s is closed: %w", sessionID, models.ErrInvalidState)
	}
	t, err := e.tickets.GetByID(ctx, s.TicketID)
	if err != nil {
		return nil, nil, err
	}
	if t.IsResolved() {
		return nil, nil, fmt.Errorf("ticket %s is resolved: %w", t.ID, models.ErrInvalidState)
	}
	return s, t, nil
}

// Manual binds agentID to the session on an administrator's request. It
// overwrites any previous binding and locks the session against automatic
// reassignment. Queued and pending sessions stay QUEUED in the agent's pool;
// sessions in progress are rebound.
func (e *Engine) Manual(ctx context.Context, sessionID, agentID string) (*models.Session, error) {
	agent, err := e.staff.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !models.IsStaffRole(agent.Role) {
		return nil, fmt.Errorf("%s cannot own sessions: %w", agentID, models.ErrInvalidState)
	}
	s, t, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	previous := s.Agent()
	wasQueued := s.IsQueued()
	from := models.PoolFor(s)
	now := e.now().UTC()

	switch s.Status {
	case models.SessionStatusPending, models.SessionStatusQueued:
		s.Status = models.SessionStatusQueued
		if s.QueuedAt == nil {
			at := queue.StampTime(now)
			s.QueuedAt = &at
			s.PriorityScore = queue.ClampScore(s.PriorityScore)
		}
	}
	s.AgentID = &agentID
	s.ManuallyAssigned = true
	s.UpdatedAt = now
	if err := e.sessions.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to assign session: %w", err)
	}

	if s.IsQueued() {
		to := models.PoolFor(s)
		if wasQueued {
			_ = e.queue.Move(ctx, models.EntryFor(s), from, to)
		} else {
			_ = e.queue.Enqueue(ctx, to, s.ID, s.PriorityScore, *s.QueuedAt)
		}
		e.reorder(ctx)
	}

	if previous != "" && previous != agentID {
		e.emit(ctx, events.UserRoom(previous), events.SessionUpdate, events.SessionPayload{Session: s, Ticket: t, Reason: "reassigned"})
	}
	e.announce(ctx, s, t, true)
	e.logger.Printf("assignment: session %s manually assigned to %s", s.ID, agentID)
	return s, nil
}

// AutoAssign binds the best candidate and starts the session.
func (e *Engine) AutoAssign(ctx context.Context, sessionID string) (*models.Session, error) {
	s, t, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.ManuallyAssigned {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrManuallyAssigned)
	}
	if s.Status == models.SessionStatusInProgress {
		return nil, fmt.Errorf("session %s already in progress: %w", sessionID, models.ErrInvalidState)
	}
	c, err := e.SelectCandidate(ctx)
	if err != nil {
		return nil, err
	}

	wasQueued := s.IsQueued()
	from := models.PoolFor(s)
	now := e.now().UTC()
	agentID := c.Staff.ID
	s.AgentID = &agentID
	s.Status = models.SessionStatusInProgress
	s.StartedAt = &now
	s.LastActivityAt = &now
	s.UpdatedAt = now
	s.ClearQueueFields()
	if err := e.sessions.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if t.Status == models.TicketStatusWaiting {
		t.Status = models.TicketStatusInProgress
		t.UpdatedAt = now
		if err := e.tickets.Update(ctx, t); err != nil {
			e.logger.Printf("assignment: failed to mark ticket %s in progress: %v", t.ID, err)
		}
	}

	if wasQueued {
		_ = e.queue.Remove(ctx, s.ID, from)
		e.reorder(ctx)
	}
	e.announce(ctx, s, t, false)
	e.logger.Printf("assignment: session %s started with %s (load %d)", s.ID, agentID, c.Load)
	return s, nil
}

// AutoAssignOnly binds the best candidate but leaves the session QUEUED,
// moving its entry into the agent's pool. A session that already has an
// agent is returned unchanged.
func (e *Engine) AutoAssignOnly(ctx context.Context, sessionID string) (*models.Session, error) {
	s, t, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.ManuallyAssigned {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrManuallyAssigned)
	}
	if !s.IsQueued() {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotQueued)
	}
	if s.AgentID != nil {
		return s, nil
	}
	c, err := e.SelectCandidate(ctx)
	if err != nil {
		return nil, err
	}

	agentID := c.Staff.ID
	s.AgentID = &agentID
	s.UpdatedAt = e.now().UTC()
	if err := e.sessions.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to assign session: %w", err)
	}
	_ = e.queue.Move(ctx, models.EntryFor(s), models.UnassignedPool, models.AgentPool(agentID))
	e.reorder(ctx)
	e.announce(ctx, s, t, false)
	e.logger.Printf("assignment: session %s queued for %s (load %d)", s.ID, agentID, c.Load)
	return s, nil
}

// DrainUnassigned offers unassigned queued sessions, best ranked first, to
// AutoAssignOnly until capacity runs out. It returns how many were bound.
func (e *Engine) DrainUnassigned(ctx context.Context) (int, error) {
	queued, err := e.sessions.ListQueued(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list queued sessions: %w", err)
	}
	var pending []*models.Session
	for _, s := range queued {
		if s.AgentID == nil && !s.ManuallyAssigned {
			pending = append(pending, s)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return models.EntryFor(pending[i]).Before(models.EntryFor(pending[j]))
	})

	bound := 0
	for _, s := range pending {
		if err := ctx.Err(); err != nil {
			return bound, err
		}
		_, err := e.AutoAssignOnly(ctx, s.ID)
		switch {
		case err == nil:
			bound++
		case errors.Is(err, models.ErrNoCapacity):
			return bound, nil
		default:
			e.logger.Printf("assignment: drain skipped session %s: %v", s.ID, err)
		}
	}
	return bound, nil
}

// ReleaseAgent returns the agent's automatically bound queued sessions to
// the unassigned pool. Manually assigned sessions keep their agent.
func (e *Engine) ReleaseAgent(ctx context.Context, agentID string) (int, error) {
	queued, err := e.sessions.ListQueuedByAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions of %s: %w", agentID, err)
	}
	released := 0
	for _, q := range queued {
		if q.ManuallyAssigned {
			continue
		}
		s, err := e.sessions.GetByID(ctx, q.ID)
		if err != nil || !s.IsQueued() || s.Agent() != agentID {
			continue
		}
		s.AgentID = nil
		s.UpdatedAt = e.now().UTC()
		if err := e.sessions.Update(ctx, s); err != nil {
			e.logger.Printf("assignment: failed to release session %s: %v", s.ID, err)
			continue
		}
		_ = e.queue.Move(ctx, models.EntryFor(s), models.AgentPool(agentID), models.UnassignedPool)
		released++
	}
	if released > 0 {
		e.reorder(ctx)
		e.logger.Printf("assignment: released %d sessions of %s", released, agentID)
	}
	return released, nil
}

func (e *Engine) reorder(ctx context.Context) {
	if _, err := e.queue.Reorder(ctx); err != nil {
		e.logger.Printf("assignment: reorder failed: %v", err)
	}
}

func (e *Engine) announce(ctx context.Context, s *models.Session, t *models.Ticket, manual bool) {
	agentID := s.Agent()
	e.emit(ctx, events.UserRoom(agentID), events.AgentAssigned, events.AssignedPayload{
		SessionID: s.ID,
		TicketID:  s.TicketID,
		AgentID:   agentID,
		Manual:    manual,
	})
	e.emit(ctx, events.UserRoom(agentID), events.NewSession, events.SessionPayload{Session: s, Ticket: t})
	e.emit(ctx, events.SessionRoom(s.ID), events.SessionUpdate, events.SessionPayload{Session: s})
}

func (e *Engine) emit(ctx context.Context, room, event string, payload any) {
	if err := e.emitter.Emit(ctx, room, event, payload); err != nil {
		e.logger.Printf("assignment: failed to emit %s to %s: %v", event, room, err)
	}
}
