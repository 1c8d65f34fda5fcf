// Package memory provides in-process repositories for tests and single-node
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
)

// NewStore returns a repository.Store backed by memory.
func NewStore() *repository.Store {
	return &repository.Store{
		Tickets:  NewTicketRepository(),
		Sessions: NewSessionRepository(),
		Staff:    NewStaffRepository(),
		Messages: NewMessageRepository(),
		Rules:    NewPriorityRuleRepository(),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
}

// TicketRepository implements repository.TicketRepository in memory.
type TicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
}

func NewTicketRepository() *TicketRepository {
	return &TicketRepository{tickets: make(map[string]*models.Ticket)}
}

func (r *TicketRepository) Create(_ context.Context, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[t.ID]; ok {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	r.tickets[t.ID] = t.Clone()
	return nil
}

func (r *TicketRepository) GetByID(_ context.Context, id string) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, notFound("ticket", id)
	}
	return t.Clone(), nil
}

func (r *TicketRepository) GetByToken(_ context.Context, token string) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tickets {
		if t.Token == token {
			return t.Clone(), nil
		}
	}
	return nil, notFound("ticket token", "")
}

func (r *TicketRepository) Update(_ context.Context, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[t.ID]; !ok {
		return notFound("ticket", t.ID)
	}
	r.tickets[t.ID] = t.Clone()
	return nil
}

func (r *TicketRepository) ListStale(_ context.Context, waitingBefore, repliedBefore time.Time, limit int) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Ticket
	for _, t := range r.tickets {
		if t.Status == models.TicketStatusResolved {
			continue
		}
		if (t.StaffRepliedAt == nil && t.CreatedAt.Before(waitingBefore)) ||
			(t.StaffRepliedAt != nil && t.UpdatedAt.Before(repliedBefore)) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (r *TicketRepository) List(_ context.Context, f repository.TicketFilter) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Ticket
	for _, t := range r.tickets {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return truncate(out, f.EffectiveLimit()), nil
}

// SessionRepository implements repository.SessionRepository in memory.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *SessionRepository) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *SessionRepository) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	return s.Clone(), nil
}

func (r *SessionRepository) Update(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return notFound("session", s.ID)
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *SessionRepository) GetOpenByTicket(_ context.Context, ticketID string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *models.Session
	for _, s := range r.sessions {
		if s.TicketID != ticketID || s.IsClosed() {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	if newest == nil {
		return nil, notFound("open session for ticket", ticketID)
	}
	return newest.Clone(), nil
}

func (r *SessionRepository) ListQueued(_ context.Context) ([]*models.Session, error) {
	return r.filterQueued(func(*models.Session) bool { return true }), nil
}

func (r *SessionRepository) ListQueuedByAgent(_ context.Context, agentID string) ([]*models.Session, error) {
	return r.filterQueued(func(s *models.Session) bool { return s.Agent() == agentID }), nil
}

func (r *SessionRepository) filterQueued(keep func(*models.Session) bool) []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.IsQueued() && keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return models.EntryFor(out[i]).Before(models.EntryFor(out[j]))
	})
	return out
}

func (r *SessionRepository) List(_ context.Context, f repository.SessionFilter) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if f.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, f.EffectiveLimit()), nil
}

func (r *SessionRepository) CountAhead(_ context.Context, agentID *string, entry models.QueueEntry) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := models.UnassignedPool
	if agentID != nil {
		want = models.AgentPool(*agentID)
	}
	n := 0
	for _, s := range r.sessions {
		if s.ID != entry.SessionID && s.IsQueued() && models.PoolFor(s) == want && models.EntryFor(s).Before(entry) {
			n++
		}
	}
	return n, nil
}

func (r *SessionRepository) CountActiveByAgent(_ context.Context, agentIDs []string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(agentIDs))
	wanted := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		wanted[id] = true
	}
	for _, s := range r.sessions {
		if s.IsActive() && wanted[*s.AgentID] {
			out[*s.AgentID]++
		}
	}
	return out, nil
}

func (r *SessionRepository) RecentHandlingTimes(_ context.Context, limit int) ([]time.Duration, error) {
	r.mu.RLock()
	var closed []*models.Session
	for _, s := range r.sessions {
		if s.IsClosed() && s.StartedAt != nil && s.ClosedAt != nil {
			closed = append(closed, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(closed, func(i, j int) bool { return closed[i].ClosedAt.After(*closed[j].ClosedAt) })
	closed = truncate(closed, limit)
	out := make([]time.Duration, 0, len(closed))
	for _, s := range closed {
		if d := s.ClosedAt.Sub(*s.StartedAt); d > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// StaffRepository implements repository.StaffRepository in memory.
type StaffRepository struct {
	mu    sync.RWMutex
	staff map[string]*models.Staff
}

func NewStaffRepository() *StaffRepository {
	return &StaffRepository{staff: make(map[string]*models.Staff)}
}

func (r *StaffRepository) Upsert(_ context.Context, s *models.Staff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.staff[s.ID]; ok {
		existing.Username = s.Username
		existing.Role = s.Role
		return nil
	}
	c := *s
	r.staff[s.ID] = &c
	return nil
}

func (r *StaffRepository) GetByID(_ context.Context, id string) (*models.Staff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.staff[id]
	if !ok {
		return nil, notFound("staff", id)
	}
	c := *s
	return &c, nil
}

func (r *StaffRepository) ListOnline(_ context.Context, roles ...models.StaffRole) ([]*models.Staff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Staff
	for _, s := range r.staff {
		if !s.IsOnline {
			continue
		}
		if len(roles) > 0 && !hasRole(roles, s.Role) {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastLoginAt, out[j].LastLoginAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (r *StaffRepository) SetOnline(_ context.Context, id string, online bool, loginAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.staff[id]
	if !ok {
		return notFound("staff", id)
	}
	s.IsOnline = online
	if loginAt != nil {
		at := *loginAt
		s.LastLoginAt = &at
	}
	return nil
}

func hasRole(roles []models.StaffRole, role models.StaffRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// MessageRepository implements repository.MessageRepository in memory.
type MessageRepository struct {
	mu       sync.RWMutex
	messages []*models.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{}
}

func (r *MessageRepository) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *m
	r.messages = append(r.messages, &c)
	return nil
}

func (r *MessageRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			c := *m
			out = append(out, &c)
		}
	}
	return truncate(out, limit), nil
}

// PriorityRuleRepository implements repository.PriorityRuleRepository in memory.
type PriorityRuleRepository struct {
	mu    sync.RWMutex
	rules map[string]*models.PriorityRule
}

func NewPriorityRuleRepository() *PriorityRuleRepository {
	return &PriorityRuleRepository{rules: make(map[string]*models.PriorityRule)}
}

func (r *PriorityRuleRepository) ListEnabled(_ context.Context) ([]*models.PriorityRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.PriorityRule
	for _, rule := range r.rules {
		if rule.Enabled {
			c := *rule
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *PriorityRuleRepository) Upsert(_ context.Context, rule *models.PriorityRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rule
	r.rules[rule.ID] = &c
	return nil
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
