// Package support composes the scheduling engines into the operations the
// socket gateway and the REST API expose.
package support

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/services/queue"
	"github.com/gotrs-io/gotrs-chat/internal/services/transfer"
)

// TicketIssuer hands out ticket numbers and customer tokens.
type TicketIssuer interface {
	Issue(ctx context.Context) (number, token string, err error)
}

// Scorer computes priority scores.
type Scorer interface {
	Score(ctx context.Context, t *models.Ticket, s *models.Session) (int, error)
}

// Queue is the part of the queue manager the service uses.
type Queue interface {
	Remove(ctx context.Context, sessionID, pool string) error
	Position(ctx context.Context, sessionID, pool string) (int, error)
	AverageHandlingTime(ctx context.Context) time.Duration
	Reorder(ctx context.Context) (*queue.ReorderResult, error)
}

// Assigner is the part of the assignment engine the service uses.
type Assigner interface {
	Manual(ctx context.Context, sessionID, agentID string) (*models.Session, error)
	AutoAssign(ctx context.Context, sessionID string) (*models.Session, error)
	DrainUnassigned(ctx context.Context) (int, error)
	ReleaseAgent(ctx context.Context, agentID string) (int, error)
}

// Transferrer hands sessions to staff.
type Transferrer interface {
	TransferToAgent(ctx context.Context, sessionID string) (*transfer.Result, error)
}

// Responder produces the AI first response to a new ticket.
type Responder interface {
	Reply(ctx context.Context, t *models.Ticket) (string, error)
}

// Detector guesses the language of a message.
type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// Deps are the collaborators every Service needs.
type Deps struct {
	Issuer    TicketIssuer
	Scorer    Scorer
	Queue     Queue
	Assigner  Assigner
	Transfers Transferrer
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithEmitter(e events.Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithResponder enables the AI first response on ticket creation.
func WithResponder(r Responder) Option {
	return func(s *Service) { s.responder = r }
}

// WithDetector enables language detection on incoming messages.
func WithDetector(d Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithPresence mirrors staff online markers into the ordering store.
func WithPresence(store cache.OrderingStore, ttl time.Duration) Option {
	return func(s *Service) {
		s.presence = store
		if ttl > 0 {
			s.onlineTTL = ttl
		}
	}
}

// Service is the support orchestrator.
type Service struct {
	tickets   repository.TicketRepository
	sessions  repository.SessionRepository
	staff     repository.StaffRepository
	messages  repository.MessageRepository
	deps      Deps
	responder Responder
	detector  Detector
	presence  cache.OrderingStore
	onlineTTL time.Duration
	emitter   events.Emitter
	logger    *log.Logger
	now       func() time.Time
}

func NewService(store *repository.Store, deps Deps, options ...Option) *Service {
	s := &Service{
		tickets:   store.Tickets,
		sessions:  store.Sessions,
		staff:     store.Staff,
		messages:  store.Messages,
		deps:      deps,
		onlineTTL: 90 * time.Second,
		emitter:   events.Nop{},
		logger:    log.Default(),
		now:       time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// CreateTicketInput is what a customer submits.
type CreateTicketInput struct {
	GameID         string   `json:"gameId"`
	AreaID         string   `json:"areaId,omitempty"`
	PlayerIDOrName string   `json:"playerIdOrName"`
	Description    string   `json:"description"`
	IssueTypeIDs   []string `json:"issueTypeIds,omitempty"`
	IdentityStatus string   `json:"identityStatus,omitempty"`
	DetectedIntent string   `json:"detectedIntent,omitempty"`
}

// Validate checks the required fields.
func (in CreateTicketInput) Validate() error {
	switch {
	case strings.TrimSpace(in.GameID) == "":
		return fmt.Errorf("gameId is required: %w", models.ErrInvalidInput)
	case strings.TrimSpace(in.PlayerIDOrName) == "":
		return fmt.Errorf("playerIdOrName is required: %w", models.ErrInvalidInput)
	case strings.TrimSpace(in.Description) == "":
		return fmt.Errorf("description is required: %w", models.ErrInvalidInput)
	}
	return nil
}

// TicketView is a ticket with its current session.
type TicketView struct {
	Ticket   *models.Ticket    `json:"ticket"`
	Token    string            `json:"token,omitempty"`
	Session  *models.Session   `json:"session,omitempty"`
	Messages []*models.Message `json:"messages,omitempty"`
}

// CreateTicket opens a WAITING ticket with a PENDING session. When a
// responder is configured its reply is stored as the first AI message.
func (s *Service) CreateTicket(ctx context.Context, in CreateTicketInput) (*TicketView, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	number, token, err := s.deps.Issuer.Issue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to issue ticket number: %w", err)
	}
	now := s.now().UTC()
	t := &models.Ticket{
		ID:             uuid.NewString(),
		TicketNo:       number,
		Token:          token,
		GameID:         in.GameID,
		AreaID:         in.AreaID,
		PlayerIDOrName: in.PlayerIDOrName,
		Description:    in.Description,
		IssueTypeIDs:   models.StringList(in.IssueTypeIDs),
		IdentityStatus: in.IdentityStatus,
		Status:         models.TicketStatusWaiting,
		Priority:       models.PriorityNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sess := &models.Session{
		ID:             uuid.NewString(),
		TicketID:       t.ID,
		Status:         models.SessionStatusPending,
		DetectedIntent: in.DetectedIntent,
		LastActivityAt: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	score, err := s.deps.Scorer.Score(ctx, t, sess)
	if err != nil {
		s.logger.Printf("support: scoring ticket %s failed: %v", number, err)
	}
	t.PriorityScore = score
	sess.PriorityScore = score

	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	view := &TicketView{Ticket: t, Token: token, Session: sess}

	if s.responder != nil {
		if msg := s.firstResponse(ctx, t, sess); msg != nil {
			view.Messages = append(view.Messages, msg)
		}
	}
	s.emit(ctx, events.StaffRoom, events.TicketUpdate, events.TicketPayload{Ticket: t, Reason: "created"})
	s.logger.Printf("support: ticket %s created with score %d", number, score)
	return view, nil
}

func (s *Service) firstResponse(ctx context.Context, t *models.Ticket, sess *models.Session) *models.Message {
	reply, err := s.responder.Reply(ctx, t)
	if err != nil {
		s.logger.Printf("support: AI response for %s failed: %v", t.TicketNo, err)
		return nil
	}
	if strings.TrimSpace(reply) == "" {
		return nil
	}
	msg := &models.Message{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		TicketID:   t.ID,
		SenderType: models.SenderAI,
		Content:    reply,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		s.logger.Printf("support: failed to store AI response for %s: %v", t.TicketNo, err)
		return nil
	}
	return msg
}

// OpenSession returns the ticket's open session, creating a PENDING one
// when every earlier session is closed.
func (s *Service) OpenSession(ctx context.Context, ticketID string) (*models.Session, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.IsResolved() {
		return nil, fmt.Errorf("ticket %s is resolved: %w", t.ID, models.ErrInvalidState)
	}
	existing, err := s.sessions.GetOpenByTicket(ctx, ticketID)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	now := s.now().UTC()
	sess := &models.Session{
		ID:             uuid.NewString(),
		TicketID:       t.ID,
		Status:         models.SessionStatusPending,
		PriorityScore:  t.PriorityScore,
		LastActivityAt: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// ResumeByToken looks a ticket up by its customer token and returns it
// with its open session, if any, and recent messages.
func (s *Service) ResumeByToken(ctx context.Context, token string) (*TicketView, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("empty ticket token: %w", models.ErrNotFound)
	}
	t, err := s.tickets.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	view := &TicketView{Ticket: t}
	sess, err := s.sessions.GetOpenByTicket(ctx, t.ID)
	switch {
	case err == nil:
		view.Session = sess
		msgs, err := s.messages.ListBySession(ctx, sess.ID, 100)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages: %w", err)
		}
		view.Messages = msgs
	case !isNotFound(err):
		return nil, err
	}
	return view, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.sessions.GetByID(ctx, sessionID)
}

// GetTicket returns a ticket by id.
func (s *Service) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.tickets.GetByID(ctx, ticketID)
}

// ListTickets returns the staff worklist of tickets.
func (s *Service) ListTickets(ctx context.Context, f repository.TicketFilter) ([]*models.Ticket, error) {
	return s.tickets.List(ctx, f)
}

// ListSessions returns the staff worklist of sessions.
func (s *Service) ListSessions(ctx context.Context, f repository.SessionFilter) ([]*models.Session, error) {
	return s.sessions.List(ctx, f)
}

// History returns the latest messages of a session.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, sessionID, limit)
}

// TransferToAgent hands the session to staff or escalates it.
func (s *Service) TransferToAgent(ctx context.Context, sessionID string) (*transfer.Result, error) {
	return s.deps.Transfers.TransferToAgent(ctx, sessionID)
}

// AssignManual binds agentID to the session on an admin's request.
func (s *Service) AssignManual(ctx context.Context, sessionID, agentID string) (*models.Session, error) {
	return s.deps.Assigner.Manual(ctx, sessionID, agentID)
}

// AutoAssign binds the best available agent and starts the session.
func (s *Service) AutoAssign(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.deps.Assigner.AutoAssign(ctx, sessionID)
}

// QueueStatus returns the live position and ETA of a queued session.
func (s *Service) QueueStatus(ctx context.Context, sessionID string) (*models.QueueInfo, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsQueued() {
		return nil, fmt.Errorf("session %s is %s: %w", sess.ID, sess.Status, models.ErrNotQueued)
	}
	pool := models.PoolFor(sess)
	pos, err := s.deps.Queue.Position(ctx, sess.ID, pool)
	if err != nil {
		return nil, err
	}
	return &models.QueueInfo{
		SessionID:     sess.ID,
		Pool:          pool,
		Position:      pos,
		EstimatedWait: queue.EstimateWait(pos, s.deps.Queue.AverageHandlingTime(ctx)),
	}, nil
}

func (s *Service) reorder(ctx context.Context) {
	if _, err := s.deps.Queue.Reorder(ctx); err != nil {
		s.logger.Printf("support: reorder failed: %v", err)
	}
}

func (s *Service) emit(ctx context.Context, room, event string, payload any) {
	if err := s.emitter.Emit(ctx, room, event, payload); err != nil {
		s.logger.Printf("support: failed to emit %s to %s: %v", event, room, err)
	}
}
