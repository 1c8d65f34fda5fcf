package ticketnumber

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Incrementer is the part of the ordering store used for counters.
type Incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisStore increments counters with INCR on the shared ordering store.
type RedisStore struct {
	incr     Incrementer
	systemID string
	clock    func() time.Time
}

func NewRedisStore(incr Incrementer, systemID string) *RedisStore {
	return &RedisStore{incr: incr, systemID: systemID, clock: time.Now}
}

// Add implements CounterStore.
func (s *RedisStore) Add(ctx context.Context, dateScoped bool, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("bad offset")
	}
	key := "ticket_counter:" + scopeUID(s.systemID, dateScoped, s.clock())
	var c int64
	for i := int64(0); i < offset; i++ {
		n, err := s.incr.Incr(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("failed to increment ticket counter: %w", err)
		}
		c = n
	}
	return c, nil
}

// FallbackStore tries primary and falls back to secondary on error.
type FallbackStore struct {
	primary   CounterStore
	secondary CounterStore
}

func NewFallbackStore(primary, secondary CounterStore) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary}
}

func (s *FallbackStore) Add(ctx context.Context, dateScoped bool, offset int64) (int64, error) {
	c, err := s.primary.Add(ctx, dateScoped, offset)
	if err == nil || s.secondary == nil {
		return c, err
	}
	return s.secondary.Add(ctx, dateScoped, offset)
}
