package support

import (
	"context"
	"fmt"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

const timeLayout = time.RFC3339

// StaleResult summarizes a stale-ticket sweep.
type StaleResult struct {
	Resolved int
	Failed   int
}

// CloseStale resolves tickets nobody touched for too long: never answered
// and older than waitingAfter, or answered and idle for repliedAfter. Open
// sessions of those tickets are closed and dequeued. A failing ticket is
// logged and skipped.
func (s *Service) CloseStale(ctx context.Context, waitingAfter, repliedAfter time.Duration, limit int) (*StaleResult, error) {
	now := s.now().UTC()
	stale, err := s.tickets.ListStale(ctx, now.Add(-waitingAfter), now.Add(-repliedAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tickets: %w", err)
	}
	res := &StaleResult{}
	for _, t := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.closeStaleTicket(ctx, t.ID); err != nil {
			s.logger.Printf("support: failed to auto-close ticket %s: %v", t.TicketNo, err)
			res.Failed++
			continue
		}
		res.Resolved++
	}
	if res.Resolved > 0 || res.Failed > 0 {
		s.logger.Printf("support: stale sweep resolved %d tickets, %d failed", res.Resolved, res.Failed)
	}
	return res, nil
}

func (s *Service) closeStaleTicket(ctx context.Context, ticketID string) error {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.IsResolved() {
		return nil
	}
	sess, err := s.sessions.GetOpenByTicket(ctx, t.ID)
	switch {
	case err == nil:
		if _, err := s.CloseSession(ctx, CloseSessionInput{SessionID: sess.ID, ClosedBy: models.ClosedBySystem}); err != nil {
			return err
		}
	case !isNotFound(err):
		return err
	}
	return s.resolveTicket(ctx, t, models.CloseReasonAutoTimeout, models.ClosedBySystem, s.now().UTC())
}
