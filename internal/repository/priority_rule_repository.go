package repository

import (
	"context"
	"fmt"

	"github.com/gotrs-io/gotrs-chat/internal/database"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

const ruleColumns = `id, name, enabled, weight, keywords, intent, identity_status, game_id, priority, issue_type_id`

// SQLPriorityRuleRepository stores priority scoring rules.
type SQLPriorityRuleRepository struct {
	qb *database.QueryBuilder
}

// NewPriorityRuleRepository creates a rule repository over qb.
func NewPriorityRuleRepository(qb *database.QueryBuilder) *SQLPriorityRuleRepository {
	return &SQLPriorityRuleRepository{qb: qb}
}

func (r *SQLPriorityRuleRepository) ListEnabled(ctx context.Context) ([]*models.PriorityRule, error) {
	var out []*models.PriorityRule
	if err := r.qb.SelectContext(ctx, &out, `SELECT `+ruleColumns+` FROM priority_rules WHERE enabled = ? ORDER BY id`, true); err != nil {
		return nil, fmt.Errorf("failed to list priority rules: %w", err)
	}
	return out, nil
}

func (r *SQLPriorityRuleRepository) Upsert(ctx context.Context, rule *models.PriorityRule) error {
	query := `INSERT INTO priority_rules (` + ruleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, enabled = excluded.enabled, weight = excluded.weight,
    keywords = excluded.keywords, intent = excluded.intent, identity_status = excluded.identity_status,
    game_id = excluded.game_id, priority = excluded.priority, issue_type_id = excluded.issue_type_id`
	if database.IsMySQL(r.qb.DB()) {
		query = `INSERT INTO priority_rules (` + ruleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), enabled = VALUES(enabled), weight = VALUES(weight),
    keywords = VALUES(keywords), intent = VALUES(intent), identity_status = VALUES(identity_status),
    game_id = VALUES(game_id), priority = VALUES(priority), issue_type_id = VALUES(issue_type_id)`
	}
	if _, err := r.qb.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Enabled, rule.Weight, rule.Keywords, rule.Intent,
		rule.IdentityStatus, rule.GameID, rule.Priority, rule.IssueTypeID,
	); err != nil {
		return fmt.Errorf("failed to upsert priority rule %s: %w", rule.ID, err)
	}
	return nil
}
