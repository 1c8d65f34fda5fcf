package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

// SendMessageInput is one chat line.
type SendMessageInput struct {
	SessionID  string
	SenderType models.SenderType
	SenderID   *string
	Content    string
	Language   string
}

// SendMessage stores a message and broadcasts it to the session room. The
// first staff reply stamps the ticket's staffRepliedAt.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("message content is required: %w", models.ErrInvalidInput)
	}
	sess, err := s.sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsClosed() {
		return nil, fmt.Errorf("session %s is closed: %w", sess.ID, models.ErrInvalidState)
	}

	now := s.now().UTC()
	msg := &models.Message{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		TicketID:   sess.TicketID,
		SenderType: in.SenderType,
		SenderID:   in.SenderID,
		Content:    content,
		Language:   s.language(ctx, in.Language, content),
		CreatedAt:  now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	sess.LastActivityAt = &now
	sess.UpdatedAt = now
	if err := s.sessions.Update(ctx, sess); err != nil {
		s.logger.Printf("support: failed to touch session %s: %v", sess.ID, err)
	}
	if in.SenderType == models.SenderAgent {
		s.markStaffReplied(ctx, sess.TicketID)
	}

	s.emit(ctx, events.SessionRoom(sess.ID), events.Message, msg)
	return msg, nil
}

func (s *Service) markStaffReplied(ctx context.Context, ticketID string) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		s.logger.Printf("support: failed to load ticket %s: %v", ticketID, err)
		return
	}
	now := s.now().UTC()
	if t.StaffRepliedAt == nil {
		t.StaffRepliedAt = &now
	}
	t.UpdatedAt = now
	if err := s.tickets.Update(ctx, t); err != nil {
		s.logger.Printf("support: failed to stamp staff reply on %s: %v", ticketID, err)
	}
}

// language returns the canonical BCP 47 tag of the declared language, or of
// the detected one when none is declared. Unknown tags are dropped.
func (s *Service) language(ctx context.Context, declared, content string) string {
	raw := strings.TrimSpace(declared)
	if raw == "" && s.detector != nil {
		detected, err := s.detector.Detect(ctx, content)
		if err != nil {
			s.logger.Printf("support: language detection failed: %v", err)
		}
		raw = detected
	}
	return NormalizeLanguage(raw)
}

// NormalizeLanguage canonicalizes a language tag such as "zh_cn" to
// "zh-CN". It returns "" for empty or malformed input.
func NormalizeLanguage(raw string) string {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil || tag == language.Und {
		return ""
	}
	return tag.String()
}

// JoinSession lets a staff member take the session: it starts, binds the
// staff member and leaves the queue. Another staff member's session in
// progress or manual lock is refused.
func (s *Service) JoinSession(ctx context.Context, sessionID, staffID string) (*models.Session, error) {
	member, err := s.staff.GetByID(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if !models.IsStaffRole(member.Role) {
		return nil, fmt.Errorf("%s cannot join sessions: %w", staffID, models.ErrInvalidState)
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	t, err := s.tickets.GetByID(ctx, sess.TicketID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.IsClosed():
		return nil, fmt.Errorf("session %s is closed: %w", sess.ID, models.ErrInvalidState)
	case t.IsResolved():
		return nil, fmt.Errorf("ticket %s is resolved: %w", t.ID, models.ErrInvalidState)
	case sess.Status == models.SessionStatusInProgress && sess.Agent() == staffID:
		return sess, nil
	case sess.Status == models.SessionStatusInProgress:
		return nil, fmt.Errorf("session %s is handled by %s: %w", sess.ID, sess.Agent(), models.ErrInvalidState)
	case sess.ManuallyAssigned && sess.Agent() != staffID && member.Role != models.RoleAdmin:
		return nil, fmt.Errorf("session %s: %w", sess.ID, models.ErrManuallyAssigned)
	}

	wasQueued := sess.IsQueued()
	pool := models.PoolFor(sess)
	now := s.now().UTC()
	sess.AgentID = &staffID
	sess.Status = models.SessionStatusInProgress
	sess.StartedAt = &now
	sess.LastActivityAt = &now
	sess.UpdatedAt = now
	sess.ClearQueueFields()
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	if t.Status != models.TicketStatusInProgress {
		t.Status = models.TicketStatusInProgress
		t.UpdatedAt = now
		if err := s.tickets.Update(ctx, t); err != nil {
			s.logger.Printf("support: failed to mark ticket %s in progress: %v", t.ID, err)
		}
	}
	if wasQueued {
		_ = s.deps.Queue.Remove(ctx, sess.ID, pool)
		s.reorder(ctx)
	}

	payload := events.SessionPayload{Session: sess, Ticket: t, Reason: "joined"}
	s.emit(ctx, events.SessionRoom(sess.ID), events.SessionUpdate, payload)
	s.emit(ctx, events.StaffRoom, events.SessionUpdate, payload)
	s.logger.Printf("support: %s joined session %s", staffID, sess.ID)
	return sess, nil
}

// CloseSessionInput describes a close request.
type CloseSessionInput struct {
	SessionID     string
	ClosedBy      string
	ResolveTicket bool
	Reason        string
}

// CloseSession ends the session and drops its queue entry. With
// ResolveTicket the ticket is resolved as well. Closing twice is harmless.
func (s *Service) CloseSession(ctx context.Context, in CloseSessionInput) (*models.Session, error) {
	sess, err := s.sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	t, err := s.tickets.GetByID(ctx, sess.TicketID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if !sess.IsClosed() {
		wasQueued := sess.IsQueued()
		pool := models.PoolFor(sess)
		sess.Status = models.SessionStatusClosed
		sess.ClosedAt = &now
		sess.UpdatedAt = now
		sess.ClearQueueFields()
		if err := s.sessions.Update(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to close session: %w", err)
		}
		if wasQueued {
			_ = s.deps.Queue.Remove(ctx, sess.ID, pool)
			s.reorder(ctx)
		}
		s.emit(ctx, events.SessionRoom(sess.ID), events.SessionUpdate, events.SessionPayload{Session: sess, Ticket: t, Reason: "closed"})
	}

	if in.ResolveTicket && !t.IsResolved() {
		reason := in.Reason
		if reason == "" {
			reason = models.CloseReasonResolved
		}
		if err := s.resolveTicket(ctx, t, reason, in.ClosedBy, now); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *Service) resolveTicket(ctx context.Context, t *models.Ticket, reason, closedBy string, now time.Time) error {
	t.Status = models.TicketStatusResolved
	t.CloseReason = &reason
	if closedBy != "" {
		t.ClosedBy = &closedBy
	}
	t.ClosedAt = &now
	t.UpdatedAt = now
	if err := s.tickets.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to resolve ticket: %w", err)
	}
	payload := events.TicketPayload{Ticket: t, Reason: reason}
	s.emit(ctx, events.TicketRoom(t.ID), events.TicketUpdate, payload)
	s.emit(ctx, events.StaffRoom, events.TicketUpdate, payload)
	return nil
}
