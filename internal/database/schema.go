package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS staff (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(128) NOT NULL,
		role VARCHAR(16) NOT NULL,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		last_login_at {{ts}} NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id VARCHAR(64) PRIMARY KEY,
		ticket_no VARCHAR(64) NOT NULL UNIQUE,
		token VARCHAR(128) NOT NULL UNIQUE,
		game_id VARCHAR(64) NOT NULL,
		area_id VARCHAR(64) NOT NULL DEFAULT '',
		player_id_or_name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		issue_type_ids TEXT NOT NULL,
		identity_status VARCHAR(32) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		priority VARCHAR(16) NOT NULL,
		priority_score INTEGER NOT NULL DEFAULT 0,
		close_reason VARCHAR(64) NULL,
		closed_by VARCHAR(64) NULL,
		staff_replied_at {{ts}} NULL,
		closed_at {{ts}} NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(64) PRIMARY KEY,
		ticket_id VARCHAR(64) NOT NULL,
		agent_id VARCHAR(64) NULL,
		status VARCHAR(16) NOT NULL,
		priority_score INTEGER NOT NULL DEFAULT 0,
		detected_intent VARCHAR(64) NOT NULL DEFAULT '',
		queued_at {{ts}} NULL,
		queue_position INTEGER NULL,
		estimated_wait_seconds INTEGER NULL,
		manually_assigned BOOLEAN NOT NULL DEFAULT FALSE,
		started_at {{ts}} NULL,
		closed_at {{ts}} NULL,
		last_activity_at {{ts}} NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX idx_sessions_status_agent ON sessions (status, agent_id)`,
	`CREATE INDEX idx_sessions_ticket ON sessions (ticket_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		ticket_id VARCHAR(64) NOT NULL,
		sender_type VARCHAR(16) NOT NULL,
		sender_id VARCHAR(64) NULL,
		content TEXT NOT NULL,
		language VARCHAR(16) NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX idx_messages_session ON messages (session_id)`,
	`CREATE TABLE IF NOT EXISTS priority_rules (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		weight INTEGER NOT NULL,
		keywords TEXT NOT NULL,
		intent VARCHAR(64) NOT NULL DEFAULT '',
		identity_status VARCHAR(32) NOT NULL DEFAULT '',
		game_id VARCHAR(64) NOT NULL DEFAULT '',
		priority VARCHAR(16) NOT NULL DEFAULT '',
		issue_type_id VARCHAR(64) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_counters (
		counter_uid VARCHAR(64) PRIMARY KEY,
		counter BIGINT NOT NULL
	)`,
}

// SchemaStatements returns the DDL for the given driver.
func SchemaStatements(driver string) []string {
	ts := "TIMESTAMP"
	if driver == "mysql" {
		ts = "DATETIME(3)"
	}
	out := make([]string, 0, len(schemaStatements))
	for _, stmt := range schemaStatements {
		stmt = strings.ReplaceAll(stmt, "{{ts}}", ts)
		if strings.HasPrefix(stmt, "CREATE INDEX") && driver != "mysql" {
			stmt = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		out = append(out, stmt)
	}
	return out
}

// Migrate creates the tables the engine needs. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range SchemaStatements(db.DriverName()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if IsMySQL(db) && strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
