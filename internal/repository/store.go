package repository

import "github.com/gotrs-io/gotrs-chat/internal/database"

// NewSQLStore wires every SQL repository over one connection.
func NewSQLStore(qb *database.QueryBuilder) *Store {
	return &Store{
		Tickets:  NewTicketRepository(qb),
		Sessions: NewSessionRepository(qb),
		Staff:    NewStaffRepository(qb),
		Messages: NewMessageRepository(qb),
		Rules:    NewPriorityRuleRepository(qb),
	}
}
