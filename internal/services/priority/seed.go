package priority

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

// RuleWriter persists rules.
type RuleWriter interface {
	Upsert(ctx context.Context, r *models.PriorityRule) error
}

type ruleFile struct {
	Rules []*models.PriorityRule `yaml:"rules"`
}

// ParseRules decodes a YAML document of the form `rules: [...]`.
func ParseRules(data []byte) ([]*models.PriorityRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse priority rules: %w", err)
	}
	for i, r := range f.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("priority rule %d has no id", i)
		}
		if r.Priority != "" {
			r.Priority = models.ParsePriority(string(r.Priority))
		}
	}
	return f.Rules, nil
}

// SeedFile loads path and upserts every rule it contains.
func SeedFile(ctx context.Context, path string, w RuleWriter) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read priority rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return 0, err
	}
	for _, r := range rules {
		if err := w.Upsert(ctx, r); err != nil {
			return 0, err
		}
	}
	return len(rules), nil
}
