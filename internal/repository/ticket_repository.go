package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/database"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

const ticketColumns = `id, ticket_no, token, game_id, area_id, player_id_or_name, description,
       issue_type_ids, identity_status, status, priority, priority_score, close_reason,
       closed_by, staff_replied_at, closed_at, created_at, updated_at`

// SQLTicketRepository stores tickets in the relational durable store.
type SQLTicketRepository struct {
	qb *database.QueryBuilder
}

// NewTicketRepository creates a ticket repository over qb.
func NewTicketRepository(qb *database.QueryBuilder) *SQLTicketRepository {
	return &SQLTicketRepository{qb: qb}
}

func (r *SQLTicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	query := `INSERT INTO tickets (` + ticketColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.qb.ExecContext(ctx, query,
		t.ID, t.TicketNo, t.Token, t.GameID, t.AreaID, t.PlayerIDOrName, t.Description,
		t.IssueTypeIDs, t.IdentityStatus, t.Status, t.Priority, t.PriorityScore, t.CloseReason,
		t.ClosedBy, t.StaffRepliedAt, t.ClosedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

func (r *SQLTicketRepository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.qb.GetContext(ctx, &t, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id); err != nil {
		return nil, wrapGet("ticket", id, err)
	}
	return &t, nil
}

func (r *SQLTicketRepository) GetByToken(ctx context.Context, token string) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.qb.GetContext(ctx, &t, `SELECT `+ticketColumns+` FROM tickets WHERE token = ?`, token); err != nil {
		return nil, wrapGet("ticket token", "", err)
	}
	return &t, nil
}

func (r *SQLTicketRepository) Update(ctx context.Context, t *models.Ticket) error {
	query := `UPDATE tickets
SET status = ?, priority = ?, priority_score = ?, identity_status = ?, close_reason = ?,
    closed_by = ?, staff_replied_at = ?, closed_at = ?, updated_at = ?
WHERE id = ?`
	res, err := r.qb.ExecContext(ctx, query,
		t.Status, t.Priority, t.PriorityScore, t.IdentityStatus, t.CloseReason,
		t.ClosedBy, t.StaffRepliedAt, t.ClosedAt, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket %s: %w", t.ID, err)
	}
	return expectAffected(res, "ticket", t.ID)
}

func (r *SQLTicketRepository) ListStale(ctx context.Context, waitingBefore, repliedBefore time.Time, limit int) ([]*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
FROM tickets
WHERE status <> ?
  AND ((staff_replied_at IS NULL AND created_at < ?)
    OR (staff_replied_at IS NOT NULL AND updated_at < ?))
ORDER BY created_at ASC
LIMIT ?`
	var out []*models.Ticket
	if err := r.qb.SelectContext(ctx, &out, query, models.TicketStatusResolved, waitingBefore, repliedBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale tickets: %w", err)
	}
	return out, nil
}

func (r *SQLTicketRepository) List(ctx context.Context, f TicketFilter) ([]*models.Ticket, error) {
	where, args := f.where()
	query := `SELECT ` + ticketColumns + `
FROM tickets` + where + `
ORDER BY priority_score DESC, created_at ASC
LIMIT ?`
	var out []*models.Ticket
	if err := r.qb.SelectContext(ctx, &out, query, append(args, f.EffectiveLimit())...); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return out, nil
}
