// Package priority computes additive session priority scores from
// configurable rules.
package priority

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

// RuleSource loads the enabled rules.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]*models.PriorityRule, error)
}

// Scorer evaluates rules against a ticket and its session.
type Scorer struct {
	rules  RuleSource
	logger *log.Logger
}

func NewScorer(rules RuleSource, logger *log.Logger) *Scorer {
	if logger == nil {
		logger = log.Default()
	}
	return &Scorer{rules: rules, logger: logger}
}

// Score loads the enabled rules and evaluates them. The result is not
// persisted.
func (s *Scorer) Score(ctx context.Context, t *models.Ticket, sess *models.Session) (int, error) {
	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load priority rules: %w", err)
	}
	return Evaluate(rules, t, sess), nil
}

// Evaluate sums the weights of every enabled rule that matches. All rules are
// evaluated; the result is never negative.
func Evaluate(rules []*models.PriorityRule, t *models.Ticket, sess *models.Session) int {
	total := 0
	for _, r := range rules {
		if r == nil || !r.Enabled {
			continue
		}
		if Matches(r, t, sess) {
			total += r.Weight
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// Matches reports whether every condition present on r holds. A rule with no
// conditions matches everything.
func Matches(r *models.PriorityRule, t *models.Ticket, sess *models.Session) bool {
	if t == nil {
		return false
	}
	if len(r.Keywords) > 0 && !containsAnyKeyword(t.Description, r.Keywords) {
		return false
	}
	if r.Intent != "" && (sess == nil || !strings.EqualFold(sess.DetectedIntent, r.Intent)) {
		return false
	}
	if r.IdentityStatus != "" && !strings.EqualFold(t.IdentityStatus, r.IdentityStatus) {
		return false
	}
	if r.GameID != "" && t.GameID != r.GameID {
		return false
	}
	if r.Priority != "" && t.Priority != r.Priority {
		return false
	}
	if r.IssueTypeID != "" && !t.HasIssueType(r.IssueTypeID) {
		return false
	}
	return true
}

func containsAnyKeyword(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}
