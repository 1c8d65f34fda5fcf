package repository

import (
	"context"
	"fmt"

	"github.com/gotrs-io/gotrs-chat/internal/database"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

const messageColumns = `id, session_id, ticket_id, sender_type, sender_id, content, language, created_at`

// SQLMessageRepository stores chat messages.
type SQLMessageRepository struct {
	qb *database.QueryBuilder
}

// NewMessageRepository creates a message repository over qb.
func NewMessageRepository(qb *database.QueryBuilder) *SQLMessageRepository {
	return &SQLMessageRepository{qb: qb}
}

func (r *SQLMessageRepository) Create(ctx context.Context, m *models.Message) error {
	query := `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.qb.ExecContext(ctx, query,
		m.ID, m.SessionID, m.TicketID, m.SenderType, m.SenderID, m.Content, m.Language, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *SQLMessageRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + `
FROM messages
WHERE session_id = ?
ORDER BY created_at ASC
LIMIT ?`
	var out []*models.Message
	if err := r.qb.SelectContext(ctx, &out, query, sessionID, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages of session %s: %w", sessionID, err)
	}
	return out, nil
}
