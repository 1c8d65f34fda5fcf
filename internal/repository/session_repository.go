package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/database"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

const sessionColumns = `id, ticket_id, agent_id, status, priority_score, detected_intent, queued_at,
       queue_position, estimated_wait_seconds, manually_assigned, started_at, closed_at,
       last_activity_at, created_at, updated_at`

// SQLSessionRepository stores sessions in the relational durable store.
type SQLSessionRepository struct {
	qb *database.QueryBuilder
}

// NewSessionRepository creates a session repository over qb.
func NewSessionRepository(qb *database.QueryBuilder) *SQLSessionRepository {
	return &SQLSessionRepository{qb: qb}
}

func (r *SQLSessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.qb.ExecContext(ctx, query,
		s.ID, s.TicketID, s.AgentID, s.Status, s.PriorityScore, s.DetectedIntent, s.QueuedAt,
		s.QueuePosition, s.EstimatedWaitSeconds, s.ManuallyAssigned, s.StartedAt, s.ClosedAt,
		s.LastActivityAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SQLSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	if err := r.qb.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id); err != nil {
		return nil, wrapGet("session", id, err)
	}
	return &s, nil
}

func (r *SQLSessionRepository) Update(ctx context.Context, s *models.Session) error {
	query := `UPDATE sessions
SET agent_id = ?, status = ?, priority_score = ?, detected_intent = ?, queued_at = ?,
    queue_position = ?, estimated_wait_seconds = ?, manually_assigned = ?, started_at = ?,
    closed_at = ?, last_activity_at = ?, updated_at = ?
WHERE id = ?`
	res, err := r.qb.ExecContext(ctx, query,
		s.AgentID, s.Status, s.PriorityScore, s.DetectedIntent, s.QueuedAt,
		s.QueuePosition, s.EstimatedWaitSeconds, s.ManuallyAssigned, s.StartedAt,
		s.ClosedAt, s.LastActivityAt, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", s.ID, err)
	}
	return expectAffected(res, "session", s.ID)
}

func (r *SQLSessionRepository) GetOpenByTicket(ctx context.Context, ticketID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
FROM sessions
WHERE ticket_id = ? AND status <> ?
ORDER BY created_at DESC
LIMIT 1`
	var s models.Session
	if err := r.qb.GetContext(ctx, &s, query, ticketID, models.SessionStatusClosed); err != nil {
		return nil, wrapGet("open session for ticket", ticketID, err)
	}
	return &s, nil
}

func (r *SQLSessionRepository) ListQueued(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
FROM sessions
WHERE status = ? AND queued_at IS NOT NULL
ORDER BY priority_score DESC, queued_at ASC, id ASC`
	var out []*models.Session
	if err := r.qb.SelectContext(ctx, &out, query, models.SessionStatusQueued); err != nil {
		return nil, fmt.Errorf("failed to list queued sessions: %w", err)
	}
	return out, nil
}

func (r *SQLSessionRepository) ListQueuedByAgent(ctx context.Context, agentID string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
FROM sessions
WHERE status = ? AND agent_id = ?
ORDER BY priority_score DESC, queued_at ASC, id ASC`
	var out []*models.Session
	if err := r.qb.SelectContext(ctx, &out, query, models.SessionStatusQueued, agentID); err != nil {
		return nil, fmt.Errorf("failed to list queued sessions of %s: %w", agentID, err)
	}
	return out, nil
}

func (r *SQLSessionRepository) List(ctx context.Context, f SessionFilter) ([]*models.Session, error) {
	where, args := f.where()
	query := `SELECT ` + sessionColumns + `
FROM sessions` + where + `
ORDER BY created_at DESC, id ASC
LIMIT ?`
	var out []*models.Session
	if err := r.qb.SelectContext(ctx, &out, query, append(args, f.EffectiveLimit())...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

func (r *SQLSessionRepository) CountAhead(ctx context.Context, agentID *string, entry models.QueueEntry) (int, error) {
	pool := "agent_id IS NULL"
	args := []interface{}{models.SessionStatusQueued}
	if agentID != nil {
		pool = "agent_id = ?"
		args = append(args, *agentID)
	}
	score, queuedAt := entry.PriorityScore, entry.QueuedAt
	args = append(args, score, score, queuedAt, score, queuedAt, entry.SessionID)
	query := `SELECT COUNT(*)
FROM sessions
WHERE status = ? AND queued_at IS NOT NULL AND ` + pool + `
  AND (priority_score > ?
    OR (priority_score = ? AND queued_at < ?)
    OR (priority_score = ? AND queued_at = ? AND id < ?))`
	var n int
	if err := r.qb.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count sessions ahead: %w", err)
	}
	return n, nil
}

func (r *SQLSessionRepository) CountActiveByAgent(ctx context.Context, agentIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(agentIDs))
	if len(agentIDs) == 0 {
		return out, nil
	}
	query, args, err := r.qb.In(`SELECT agent_id, COUNT(*) AS active
FROM sessions
WHERE status = ? AND agent_id IN (?)
GROUP BY agent_id`, models.SessionStatusInProgress, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build load query: %w", err)
	}
	var rows []struct {
		AgentID string `db:"agent_id"`
		Active  int    `db:"active"`
	}
	// In already rebinds, so go straight to sqlx.
	if err := r.qb.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}
	for _, row := range rows {
		out[row.AgentID] = row.Active
	}
	return out, nil
}

func (r *SQLSessionRepository) RecentHandlingTimes(ctx context.Context, limit int) ([]time.Duration, error) {
	query := `SELECT started_at, closed_at
FROM sessions
WHERE status = ? AND started_at IS NOT NULL AND closed_at IS NOT NULL
ORDER BY closed_at DESC
LIMIT ?`
	var rows []struct {
		StartedAt time.Time `db:"started_at"`
		ClosedAt  time.Time `db:"closed_at"`
	}
	if err := r.qb.SelectContext(ctx, &rows, query, models.SessionStatusClosed, limit); err != nil {
		return nil, fmt.Errorf("failed to load handling times: %w", err)
	}
	out := make([]time.Duration, 0, len(rows))
	for _, row := range rows {
		if d := row.ClosedAt.Sub(row.StartedAt); d > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}
