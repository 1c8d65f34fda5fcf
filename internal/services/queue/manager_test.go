package queue

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository/memory"
)

type flakyStore struct {
	*cache.LocalOrderingStore
	mu       sync.Mutex
	zremFail int
}

func (f *flakyStore) failRemovals(n int) {
	f.mu.Lock()
	f.zremFail = n
	f.mu.Unlock()
}

func (f *flakyStore) ZRem(ctx context.Context, set, member string) error {
	f.mu.Lock()
	if f.zremFail != 0 {
		if f.zremFail > 0 {
			f.zremFail--
		}
		f.mu.Unlock()
		return errors.New("zrem timeout")
	}
	f.mu.Unlock()
	return f.LocalOrderingStore.ZRem(ctx, set, member)
}

type fixture struct {
	store    *flakyStore
	sessions *memory.SessionRepository
	rec      *events.Recorder
	mgr      *Manager
	base     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    &flakyStore{LocalOrderingStore: cache.NewLocalOrderingStore()},
		sessions: memory.NewSessionRepository(),
		rec:      events.NewRecorder(),
		base:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(f.store, f.sessions, Options{
		RemovalMaxTries:       3,
		RemovalInitialBackoff: time.Millisecond,
		AHT:                   AHTOptions{Min: time.Minute, Max: 30 * time.Minute, Default: 5 * time.Minute, OutlierFactor: 3},
	}, WithEmitter(f.rec), WithLogger(log.New(io.Discard, "", 0)), WithClock(func() time.Time { return f.base }))
	return f
}

// queue persists a QUEUED session and enqueues it.
func (f *fixture) queue(t *testing.T, id string, agent *string, score int, offset time.Duration) *models.Session {
	t.Helper()
	at := StampTime(f.base.Add(offset))
	s := &models.Session{
		ID: id, TicketID: "t-" + id, AgentID: agent, Status: models.SessionStatusQueued,
		PriorityScore: score, QueuedAt: &at, CreatedAt: at,
	}
	require.NoError(t, f.sessions.Create(context.Background(), s))
	require.NoError(t, f.mgr.Enqueue(context.Background(), models.PoolFor(s), id, score, at))
	return s
}

func (f *fixture) positions(t *testing.T, pool string, ids ...string) []int {
	t.Helper()
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		pos, err := f.mgr.Position(context.Background(), id, pool)
		require.NoError(t, err)
		out = append(out, pos)
	}
	return out
}

func TestPositionFollowsScoreThenQueueTime(t *testing.T) {
	f := newFixture(t)
	f.queue(t, "low-early", nil, 10, 0)
	f.queue(t, "high-late", nil, 80, 5*time.Minute)
	f.queue(t, "mid-a", nil, 40, time.Minute)
	f.queue(t, "mid-b", nil, 40, 2*time.Minute)

	got := f.positions(t, models.UnassignedPool, "high-late", "mid-a", "mid-b", "low-early")
	assert.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestFallbackPositionMatchesOrderingStore(t *testing.T) {
	f := newFixture(t)
	agent := "a1"
	ids := []string{"s1", "s2", "s3", "s4", "s5"}
	f.queue(t, "s1", nil, 20, 3*time.Second)
	f.queue(t, "s2", nil, 20, time.Second)
	f.queue(t, "s3", nil, 95, 10*time.Second)
	f.queue(t, "s4", nil, 0, 0)
	f.queue(t, "s5", nil, 20, 1500*time.Millisecond)
	f.queue(t, "other-pool", &agent, 99, 0)

	fast := f.positions(t, models.UnassignedPool, ids...)
	f.store.SetAvailable(false)
	slow := f.positions(t, models.UnassignedPool, ids...)

	assert.Equal(t, fast, slow)
	assert.Equal(t, []int{4, 2, 1, 5, 3}, fast)
}

func TestFullTieRanksBySessionIDInBothStores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "s-b", nil, 10, 0)
	f.queue(t, "s-a", nil, 10, 0)

	fast := f.positions(t, models.UnassignedPool, "s-a", "s-b")
	f.store.SetAvailable(false)
	slow := f.positions(t, models.UnassignedPool, "s-a", "s-b")

	assert.Equal(t, []int{1, 2}, fast)
	assert.Equal(t, fast, slow)

	res, err := f.mgr.Reorder(ctx)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, res.Positions["s-a"].Position)
	assert.Equal(t, 2, res.Positions["s-b"].Position)
}

func TestPositionOfUnqueuedSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Create(context.Background(), &models.Session{ID: "p", Status: models.SessionStatusPending}))

	_, err := f.mgr.Position(context.Background(), "p", models.UnassignedPool)
	assert.ErrorIs(t, err, models.ErrNotQueued)

	_, err = f.mgr.Position(context.Background(), "ghost", models.UnassignedPool)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.queue(t, "s1", nil, 10, 0)
	require.NoError(t, f.mgr.Enqueue(context.Background(), models.UnassignedPool, s.ID, 10, *s.QueuedAt))

	members, err := f.store.ZMembers(context.Background(), cache.QueueKey(models.UnassignedPool))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, members)
}

func TestMoveBetweenPools(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.queue(t, "s1", nil, 10, 0)

	require.NoError(t, f.mgr.Move(ctx, models.EntryFor(s), models.UnassignedPool, models.AgentPool("a1")))

	_, err := f.store.ZRank(ctx, cache.QueueKey(models.UnassignedPool), "s1")
	assert.ErrorIs(t, err, cache.ErrMemberNotFound)
	rank, err := f.store.ZRank(ctx, cache.QueueKey(models.AgentPool("a1")), "s1")
	require.NoError(t, err)
	assert.Zero(t, rank)
}

func TestRemoveRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "s1", nil, 10, 0)
	f.store.failRemovals(2)

	require.NoError(t, f.mgr.Remove(ctx, "s1", models.UnassignedPool))

	_, err := f.store.ZRank(ctx, cache.QueueKey(models.UnassignedPool), "s1")
	assert.ErrorIs(t, err, cache.ErrMemberNotFound)
	assert.Zero(t, f.mgr.Repairs().Len())
}

func TestRemoveFailureIsLoggedForRepair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "s1", nil, 10, 0)
	f.store.failRemovals(-1)

	require.NoError(t, f.mgr.Remove(ctx, "s1", models.UnassignedPool))
	pending := f.mgr.Repairs().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].SessionID)
	assert.Equal(t, "zrem timeout", pending[0].LastError)

	f.store.failRemovals(0)
	fixed, err := f.mgr.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	assert.Zero(t, f.mgr.Repairs().Len())
}

func TestRemoveWhileStoreDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "s1", nil, 10, 0)
	f.store.SetAvailable(false)

	require.NoError(t, f.mgr.Remove(ctx, "s1", models.UnassignedPool))
	assert.Equal(t, 1, f.mgr.Repairs().Len())

	_, err := f.mgr.Repair(ctx)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestReorderPersistsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "s1", nil, 10, 0)
	f.queue(t, "s2", nil, 50, time.Minute)

	res, err := f.mgr.Reorder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, res.Positions["s2"].Position)
	assert.Equal(t, 2, res.Positions["s1"].Position)

	s1, err := f.sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s1.QueuePosition)
	assert.Equal(t, 2, *s1.QueuePosition)
	// no history yet: default AHT of five minutes per position
	assert.Equal(t, 600, *s1.EstimatedWaitSeconds)

	updates := f.rec.Find(events.SessionRoom("s1"), events.QueueUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, events.QueuePayload{SessionID: "s1", Position: 2, EstimatedWaitTime: 600}, updates[0].Payload)

	// an unchanged pass writes and broadcasts nothing
	f.rec.Reset()
	res, err = f.mgr.Reorder(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
	assert.Empty(t, f.rec.Events())
}

func TestReorderRepairsOrderingStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "kept", nil, 10, 0)

	// durable row the store never heard of
	at := f.base.Add(time.Second)
	require.NoError(t, f.sessions.Create(ctx, &models.Session{ID: "lost", Status: models.SessionStatusQueued, PriorityScore: 90, QueuedAt: &at}))
	// store entry whose session already closed
	require.NoError(t, f.store.ZAdd(ctx, cache.QueueKey(models.UnassignedPool), "ghost", 0))

	res, err := f.mgr.Reorder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, 1, res.Pruned)

	members, err := f.store.ZMembers(ctx, cache.QueueKey(models.UnassignedPool))
	require.NoError(t, err)
	assert.Equal(t, []string{"lost", "kept"}, members)
}

func TestReorderDegradedUsesDurableRanking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "s1", nil, 10, 0)
	f.queue(t, "s2", nil, 10, time.Second)
	f.store.SetAvailable(false)

	res, err := f.mgr.Reorder(ctx)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, res.Positions["s1"].Position)
	assert.Equal(t, 2, res.Positions["s2"].Position)
}

func TestReorderSkipsFailingSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue(t, "s1", nil, 10, 0)
	f.queue(t, "s2", nil, 20, 0)
	f.rec.FailWith(errors.New("socket closed"))

	res, err := f.mgr.Reorder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated, "delivery failures never roll back persisted positions")
}

func TestReorderUsesHandlingHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i, minutes := range []int{2, 4, 4, 6, 300} {
		start := f.base.Add(-time.Duration(i+1) * time.Hour)
		end := start.Add(time.Duration(minutes) * time.Minute)
		require.NoError(t, f.sessions.Create(ctx, &models.Session{
			ID: "closed-" + string(rune('a'+i)), Status: models.SessionStatusClosed, StartedAt: &start, ClosedAt: &end,
		}))
	}
	f.queue(t, "s1", nil, 10, 0)

	res, err := f.mgr.Reorder(ctx)
	require.NoError(t, err)
	// 300m is an outlier around the 4m median; mean of the rest is 4m
	assert.Equal(t, 4*time.Minute, res.Positions["s1"].EstimatedWait)
}
