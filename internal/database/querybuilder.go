package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// QueryBuilder wraps sqlx so repositories write queries with ? placeholders
// and get them rebound for the active driver.
type QueryBuilder struct {
	db *sqlx.DB
}

// NewQueryBuilder creates a QueryBuilder over an existing connection.
func NewQueryBuilder(db *sqlx.DB) *QueryBuilder {
	return &QueryBuilder{db: db}
}

// DB returns the underlying sqlx.DB for advanced operations.
func (qb *QueryBuilder) DB() *sqlx.DB {
	return qb.db
}

// DriverName returns the active driver.
func (qb *QueryBuilder) DriverName() string {
	return qb.db.DriverName()
}

// Rebind converts a query with ? placeholders to the driver's format.
func (qb *QueryBuilder) Rebind(query string) string {
	return qb.db.Rebind(query)
}

// SelectContext executes a query and scans results into dest (slice of structs).
func (qb *QueryBuilder) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return qb.db.SelectContext(ctx, dest, qb.Rebind(query), args...)
}

// GetContext executes a query expecting a single row.
func (qb *QueryBuilder) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return qb.db.GetContext(ctx, dest, qb.Rebind(query), args...)
}

// ExecContext executes a query without returning rows.
func (qb *QueryBuilder) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return qb.db.ExecContext(ctx, qb.Rebind(query), args...)
}

// In expands slice arguments for IN clauses and rebinds the result.
func (qb *QueryBuilder) In(query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return qb.Rebind(q), a, nil
}
