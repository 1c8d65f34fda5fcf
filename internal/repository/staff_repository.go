package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/database"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

const staffColumns = `id, username, role, is_online, last_login_at`

// SQLStaffRepository stores agents and admins.
type SQLStaffRepository struct {
	qb *database.QueryBuilder
}

// NewStaffRepository creates a staff repository over qb.
func NewStaffRepository(qb *database.QueryBuilder) *SQLStaffRepository {
	return &SQLStaffRepository{qb: qb}
}

func (r *SQLStaffRepository) Upsert(ctx context.Context, s *models.Staff) error {
	query := `INSERT INTO staff (` + staffColumns + `) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET username = excluded.username, role = excluded.role`
	if database.IsMySQL(r.qb.DB()) {
		query = `INSERT INTO staff (` + staffColumns + `) VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE username = VALUES(username), role = VALUES(role)`
	}
	if _, err := r.qb.ExecContext(ctx, query, s.ID, s.Username, s.Role, s.IsOnline, s.LastLoginAt); err != nil {
		return fmt.Errorf("failed to upsert staff %s: %w", s.ID, err)
	}
	return nil
}

func (r *SQLStaffRepository) GetByID(ctx context.Context, id string) (*models.Staff, error) {
	var s models.Staff
	if err := r.qb.GetContext(ctx, &s, `SELECT `+staffColumns+` FROM staff WHERE id = ?`, id); err != nil {
		return nil, wrapGet("staff", id, err)
	}
	return &s, nil
}

func (r *SQLStaffRepository) ListOnline(ctx context.Context, roles ...models.StaffRole) ([]*models.Staff, error) {
	query := `SELECT ` + staffColumns + ` FROM staff WHERE is_online = ?`
	args := []interface{}{true}
	if len(roles) > 0 {
		query += ` AND role IN (?)`
		args = append(args, roles)
	}
	query += ` ORDER BY last_login_at ASC`
	query, args, err := r.qb.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build online staff query: %w", err)
	}
	var out []*models.Staff
	if err := r.qb.DB().SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list online staff: %w", err)
	}
	return out, nil
}

func (r *SQLStaffRepository) SetOnline(ctx context.Context, id string, online bool, loginAt *time.Time) error {
	var (
		query = `UPDATE staff SET is_online = ? WHERE id = ?`
		args  = []interface{}{online, id}
	)
	if loginAt != nil {
		query = `UPDATE staff SET is_online = ?, last_login_at = ? WHERE id = ?`
		args = []interface{}{online, *loginAt, id}
	}
	res, err := r.qb.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set online=%t for staff %s: %w", online, id, err)
	}
	return expectAffected(res, "staff", id)
}
