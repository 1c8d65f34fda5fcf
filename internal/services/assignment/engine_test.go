package assignment

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/repository/memory"
	"github.com/gotrs-io/gotrs-chat/internal/services/queue"
)

type fixture struct {
	store  *repository.Store
	order  *cache.LocalOrderingStore
	queue  *queue.Manager
	rec    *events.Recorder
	engine *Engine
	base   time.Time
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		order: cache.NewLocalOrderingStore(),
		rec:   events.NewRecorder(),
		base:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	quiet := log.New(io.Discard, "", 0)
	clock := func() time.Time { return f.base }
	f.queue = queue.NewManager(f.order, f.store.Sessions, queue.Options{}, queue.WithLogger(quiet), queue.WithClock(clock))
	f.engine = NewEngine(f.store, f.queue, WithLogger(quiet), WithEmitter(f.rec), WithClock(clock), WithAdminLoadPenalty(2))
	return f
}

func (f *fixture) staff(t *testing.T, id string, role models.StaffRole, loginOffset time.Duration) {
	t.Helper()
	login := f.base.Add(loginOffset)
	require.NoError(t, f.store.Staff.Upsert(context.Background(), &models.Staff{ID: id, Username: id, Role: role, IsOnline: true, LastLoginAt: &login}))
}

// active gives agentID n sessions in progress.
func (f *fixture) active(t *testing.T, agentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.seq++
		id := fmt.Sprintf("busy-%d", f.seq)
		require.NoError(t, f.store.Sessions.Create(context.Background(), &models.Session{
			ID: id, TicketID: "t-" + id, AgentID: &agentID, Status: models.SessionStatusInProgress,
		}))
	}
}

func (f *fixture) queued(t *testing.T, id string, score int, offset time.Duration) *models.Session {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Tickets.Create(ctx, &models.Ticket{ID: "t-" + id, TicketNo: "N" + id, Status: models.TicketStatusWaiting}))
	at := queue.StampTime(f.base.Add(offset))
	s := &models.Session{ID: id, TicketID: "t-" + id, Status: models.SessionStatusQueued, PriorityScore: score, QueuedAt: &at}
	require.NoError(t, f.store.Sessions.Create(ctx, s))
	require.NoError(t, f.queue.Enqueue(ctx, models.UnassignedPool, id, score, at))
	return s
}

func (f *fixture) members(t *testing.T, pool string) []string {
	t.Helper()
	m, err := f.order.ZMembers(context.Background(), cache.QueueKey(pool))
	require.NoError(t, err)
	return m
}

func TestSelectCandidatePrefersLowestLoad(t *testing.T) {
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.staff(t, "b", models.RoleAgent, 0)
	f.staff(t, "c", models.RoleAgent, 0)
	f.active(t, "a", 2)
	f.active(t, "c", 1)

	c, err := f.engine.SelectCandidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", c.Staff.ID)
	assert.Zero(t, c.Load)
}

func TestSelectCandidateBreaksTiesByLogin(t *testing.T) {
	f := newFixture(t)
	f.staff(t, "y", models.RoleAgent, time.Minute)
	f.staff(t, "x", models.RoleAgent, 0)
	f.active(t, "x", 1)
	f.active(t, "y", 1)

	c, err := f.engine.SelectCandidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", c.Staff.ID)
}

func TestSelectCandidateAdminFallback(t *testing.T) {
	t.Run("no agents online", func(t *testing.T) {
		f := newFixture(t)
		f.staff(t, "root", models.RoleAdmin, 0)

		c, err := f.engine.SelectCandidate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "root", c.Staff.ID)
		assert.Equal(t, 2, c.Load)
	})

	t.Run("every agent busy", func(t *testing.T) {
		f := newFixture(t)
		f.staff(t, "a", models.RoleAgent, 0)
		f.staff(t, "root", models.RoleAdmin, 0)
		f.active(t, "a", 3)

		c, err := f.engine.SelectCandidate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "root", c.Staff.ID)
	})

	t.Run("penalty keeps agents ahead", func(t *testing.T) {
		f := newFixture(t)
		f.staff(t, "a", models.RoleAgent, time.Hour)
		f.staff(t, "root", models.RoleAdmin, 0)
		f.active(t, "a", 1)

		c, err := f.engine.SelectCandidate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "a", c.Staff.ID)
	})

	t.Run("idle agent hides admins", func(t *testing.T) {
		f := newFixture(t)
		f.staff(t, "a", models.RoleAgent, 0)
		f.staff(t, "b", models.RoleAgent, 0)
		f.staff(t, "root", models.RoleAdmin, 0)
		f.active(t, "a", 5)

		c, err := f.engine.SelectCandidate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "b", c.Staff.ID)
	})
}

func TestSelectCandidateNoCapacity(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SelectCandidate(context.Background())
	assert.ErrorIs(t, err, models.ErrNoCapacity)
}

func TestAutoAssignStartsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.queued(t, "s1", 10, 0)

	s, err := f.engine.AutoAssign(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusInProgress, s.Status)
	assert.Equal(t, "a", s.Agent())
	assert.Nil(t, s.QueuedAt)
	assert.Nil(t, s.QueuePosition)
	require.NotNil(t, s.StartedAt)

	stored, err := f.store.Sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusInProgress, stored.Status)
	ticket, err := f.store.Tickets.GetByID(ctx, "t-s1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusInProgress, ticket.Status)

	assert.Empty(t, f.members(t, models.UnassignedPool))
	assert.Len(t, f.rec.Find(events.UserRoom("a"), events.AgentAssigned), 1)
	assert.Len(t, f.rec.Find(events.UserRoom("a"), events.NewSession), 1)
	assert.Len(t, f.rec.Find(events.SessionRoom("s1"), events.SessionUpdate), 1)
}

func TestAutoAssignOnlyKeepsQueuedStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.queued(t, "s1", 10, 0)

	s, err := f.engine.AutoAssignOnly(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusQueued, s.Status)
	assert.Equal(t, "a", s.Agent())
	assert.Empty(t, f.members(t, models.UnassignedPool))
	assert.Equal(t, []string{"s1"}, f.members(t, models.AgentPool("a")))

	pos, err := f.queue.Position(ctx, "s1", models.AgentPool("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestManualAssignmentLocksSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.staff(t, "b", models.RoleAgent, 0)
	f.queued(t, "s1", 10, 0)

	s, err := f.engine.Manual(ctx, "s1", "b")
	require.NoError(t, err)
	assert.True(t, s.ManuallyAssigned)
	assert.Equal(t, models.SessionStatusQueued, s.Status)
	assert.Equal(t, []string{"s1"}, f.members(t, models.AgentPool("b")))

	_, err = f.engine.AutoAssign(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrManuallyAssigned)
	_, err = f.engine.AutoAssignOnly(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrManuallyAssigned)

	n, err := f.engine.DrainUnassigned(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.engine.ReleaseAgent(ctx, "b")
	require.NoError(t, err)

	stored, err := f.store.Sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "b", stored.Agent())
}

func TestManualReassignmentOverwritesBinding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.staff(t, "b", models.RoleAgent, 0)
	f.queued(t, "s1", 10, 0)

	_, err := f.engine.Manual(ctx, "s1", "a")
	require.NoError(t, err)
	s, err := f.engine.Manual(ctx, "s1", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", s.Agent())

	assert.Empty(t, f.members(t, models.AgentPool("a")))
	assert.Equal(t, []string{"s1"}, f.members(t, models.AgentPool("b")))
	assert.Len(t, f.rec.Find(events.UserRoom("a"), events.SessionUpdate), 1)
}

func TestManualRebindsSessionInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.staff(t, "b", models.RoleAgent, 0)
	f.queued(t, "s1", 10, 0)
	_, err := f.engine.AutoAssign(ctx, "s1")
	require.NoError(t, err)

	s, err := f.engine.Manual(ctx, "s1", "b")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusInProgress, s.Status)
	assert.Equal(t, "b", s.Agent())
	assert.Nil(t, s.QueuedAt)
}

func TestManualEnqueuesPendingSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	require.NoError(t, f.store.Tickets.Create(ctx, &models.Ticket{ID: "t1", Status: models.TicketStatusWaiting}))
	require.NoError(t, f.store.Sessions.Create(ctx, &models.Session{ID: "p1", TicketID: "t1", Status: models.SessionStatusPending, PriorityScore: 5}))

	s, err := f.engine.Manual(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusQueued, s.Status)
	require.NotNil(t, s.QueuedAt)
	assert.Equal(t, []string{"p1"}, f.members(t, models.AgentPool("a")))
}

func TestAssignmentRejectsClosedAndResolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	require.NoError(t, f.store.Tickets.Create(ctx, &models.Ticket{ID: "t1", Status: models.TicketStatusWaiting}))
	require.NoError(t, f.store.Tickets.Create(ctx, &models.Ticket{ID: "t2", Status: models.TicketStatusResolved}))
	require.NoError(t, f.store.Sessions.Create(ctx, &models.Session{ID: "closed", TicketID: "t1", Status: models.SessionStatusClosed}))
	require.NoError(t, f.store.Sessions.Create(ctx, &models.Session{ID: "resolved", TicketID: "t2", Status: models.SessionStatusPending}))

	for _, id := range []string{"closed", "resolved"} {
		_, err := f.engine.Manual(ctx, id, "a")
		assert.ErrorIs(t, err, models.ErrInvalidState, id)
		_, err = f.engine.AutoAssign(ctx, id)
		assert.ErrorIs(t, err, models.ErrInvalidState, id)
	}

	_, err := f.engine.Manual(ctx, "ghost", "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAtMostOneAgentPerSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.staff(t, "b", models.RoleAgent, time.Minute)
	f.queued(t, "s1", 10, 0)

	_, err := f.engine.AutoAssignOnly(ctx, "s1")
	require.NoError(t, err)
	again, err := f.engine.AutoAssignOnly(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Agent())

	queued, err := f.store.Sessions.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Empty(t, f.members(t, models.AgentPool("b")))
}

func TestDrainUnassignedStopsAtCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queued(t, "s1", 10, 0)
	f.queued(t, "s2", 50, time.Second)

	n, err := f.engine.DrainUnassigned(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.staff(t, "a", models.RoleAgent, 0)
	n, err = f.engine.DrainUnassigned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	// assign-only keeps the agent idle, so both land on the same agent
	assert.Equal(t, []string{"s2", "s1"}, f.members(t, models.AgentPool("a")))
}

func TestReleaseAgentReturnsSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.staff(t, "a", models.RoleAgent, 0)
	f.queued(t, "s1", 10, 0)
	_, err := f.engine.AutoAssignOnly(ctx, "s1")
	require.NoError(t, err)

	n, err := f.engine.ReleaseAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"s1"}, f.members(t, models.UnassignedPool))

	s, err := f.store.Sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, s.AgentID)
}
