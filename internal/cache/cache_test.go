package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalOrderingStoreRanks(t *testing.T) {
	ctx := context.Background()
	s := NewLocalOrderingStore()

	require.NoError(t, s.ZAdd(ctx, "q", "b", 20))
	require.NoError(t, s.ZAdd(ctx, "q", "a", 10))
	require.NoError(t, s.ZAdd(ctx, "q", "c", 20))
	// equal scores order by member
	require.NoError(t, s.ZAdd(ctx, "q", "b", 20))

	members, err := s.ZMembers(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	rank, err := s.ZRank(ctx, "q", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	_, err = s.ZRank(ctx, "q", "zz")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestLocalOrderingStoreMove(t *testing.T) {
	ctx := context.Background()
	s := NewLocalOrderingStore()
	require.NoError(t, s.ZAdd(ctx, "from", "m", 5))
	require.NoError(t, s.ZMove(ctx, "from", "to", "m", 5))

	_, err := s.ZRank(ctx, "from", "m")
	assert.ErrorIs(t, err, ErrMemberNotFound)
	rank, err := s.ZRank(ctx, "to", "m")
	require.NoError(t, err)
	assert.Zero(t, rank)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"to"}, keys)
}

func TestLocalOrderingStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewLocalOrderingStore()
	s.SetAvailable(false)

	assert.Error(t, s.Ping(ctx))
	assert.Error(t, s.ZAdd(ctx, "q", "a", 1))
	_, err := s.ZRank(ctx, "q", "a")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMemberNotFound))

	s.SetAvailable(true)
	assert.NoError(t, s.Ping(ctx))
}

func TestLocalOrderingStoreTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewLocalOrderingStore()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, StaffOnlineKey("s1"), "1", time.Minute))
	require.NoError(t, s.Set(ctx, StaffOnlineKey("s2"), "1", 0))

	v, err := s.Get(ctx, StaffOnlineKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, StaffOnlineKey("s1"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	keys, err := s.Keys(ctx, StaffOnlinePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"staff:online:s2"}, keys)
}

func TestLocalOrderingStoreIncr(t *testing.T) {
	ctx := context.Background()
	s := NewLocalOrderingStore()
	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisOrderingStoreUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewRedisOrderingStore(client, "test:")
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, s.Ping(ctx))
	_, err := s.ZRank(ctx, "q", "m")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMemberNotFound))
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "queue:unassigned", QueueKey("unassigned"))
	assert.Equal(t, "conn:abc", ConnectionKey("abc"))
}
