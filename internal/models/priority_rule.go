package models

// PriorityRule adds Weight to a session's score when every present condition
// matches. Empty conditions are ignored.
type PriorityRule struct {
	ID             string         `json:"id" db:"id" yaml:"id"`
	Name           string         `json:"name" db:"name" yaml:"name"`
	Enabled        bool           `json:"enabled" db:"enabled" yaml:"enabled"`
	Weight         int            `json:"weight" db:"weight" yaml:"weight"`
	Keywords       StringList     `json:"keywords,omitempty" db:"keywords" yaml:"keywords"`
	Intent         string         `json:"intent,omitempty" db:"intent" yaml:"intent"`
	IdentityStatus string         `json:"identityStatus,omitempty" db:"identity_status" yaml:"identity_status"`
	GameID         string         `json:"gameId,omitempty" db:"game_id" yaml:"game_id"`
	Priority       TicketPriority `json:"priority,omitempty" db:"priority" yaml:"priority"`
	IssueTypeID    string         `json:"issueTypeId,omitempty" db:"issue_type_id" yaml:"issue_type_id"`
}
