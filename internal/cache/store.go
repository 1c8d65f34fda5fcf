// Package cache holds the fast ordering store: per-pool sorted sets plus
// short-lived presence keys, backed by Redis or by process memory.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMemberNotFound is returned by ZRank when member is not in the set.
	ErrMemberNotFound = errors.New("member not found")
	// ErrKeyNotFound is returned by Get for absent or expired keys.
	ErrKeyNotFound = errors.New("key not found")
)

// OrderingStore is the sorted-set and TTL-key surface the scheduler needs.
// Set and key names are given without the store's prefix.
type OrderingStore interface {
	Ping(ctx context.Context) error

	// ZAdd inserts member or updates its score. Repeating it is harmless.
	ZAdd(ctx context.Context, set, member string, score float64) error
	// ZRank returns the 0-based ascending rank of member.
	ZRank(ctx context.Context, set, member string) (int64, error)
	// ZMove atomically removes member from one set and adds it to another.
	ZMove(ctx context.Context, from, to, member string, score float64) error
	ZRem(ctx context.Context, set, member string) error
	// ZMembers lists members in ascending score order.
	ZMembers(ctx context.Context, set string) ([]string, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// Key namespaces shared by every component that touches the store.
const (
	QueueKeyPrefix      = "queue:"
	StaffOnlinePrefix   = "staff:online:"
	ConnectionKeyPrefix = "conn:"
)

// QueueKey returns the sorted-set name of a pool.
func QueueKey(pool string) string {
	return QueueKeyPrefix + pool
}

// StaffOnlineKey returns the presence marker of a staff member.
func StaffOnlineKey(staffID string) string {
	return StaffOnlinePrefix + staffID
}

// ConnectionKey returns the mirror key of a live connection.
func ConnectionKey(connID string) string {
	return ConnectionKeyPrefix + connID
}
