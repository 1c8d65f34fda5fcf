// Package ticketnumber issues human readable ticket numbers and customer
// access tokens.
package ticketnumber

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator defines contract for ticket number generators.
type Generator interface {
	Name() string
	Next(ctx context.Context, store CounterStore) (string, error)
}

// CounterStore hands out monotonically increasing counters.
type CounterStore interface {
	// Add returns the counter after adding offset (>=1) to the scope.
	Add(ctx context.Context, dateScoped bool, offset int64) (int64, error)
}

// Config needed by generators.
type Config struct {
	SystemID       string
	MinCounterSize int
}

// Clock allows deterministic testing.
type Clock interface{ Now() TimeParts }

// TimeParts minimal date parts.
type TimeParts struct {
	Year  int
	Month int
	Day   int
}

type realClock struct{}

func (realClock) Now() TimeParts {
	n := time.Now().UTC()
	return TimeParts{Year: n.Year(), Month: int(n.Month()), Day: n.Day()}
}

// RealClock returns the UTC wall clock.
func RealClock() Clock { return realClock{} }

func scopeUID(systemID string, dateScoped bool, now time.Time) string {
	if !dateScoped {
		return systemID
	}
	now = now.UTC()
	return fmt.Sprintf("%s_%04d%02d%02d", systemID, now.Year(), int(now.Month()), now.Day())
}

// Issuer produces the number and access token of a new ticket.
type Issuer struct {
	gen   Generator
	store CounterStore
}

func NewIssuer(gen Generator, store CounterStore) *Issuer {
	return &Issuer{gen: gen, store: store}
}

// Issue returns a fresh ticket number and an unguessable customer token.
func (i *Issuer) Issue(ctx context.Context) (number, token string, err error) {
	number, err = i.gen.Next(ctx, i.store)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ticket number: %w", err)
	}
	return number, uuid.NewString(), nil
}
