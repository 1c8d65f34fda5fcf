package transfer

import (
	"context"
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
	"github.com/gotrs-io/gotrs-chat/internal/services/assignment"
	"github.com/gotrs-io/gotrs-chat/internal/services/priority"
	"github.com/gotrs-io/gotrs-chat/internal/services/queue"
)

type fixture struct {
	store  *repository.Store
	order  *cache.LocalOrderingStore
	queue  *queue.Manager
	rec    *events.Recorder
	engine *Engine
	base   time.Time
}

func newFixture(t *testing.T, assigner Assigner) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		order: cache.NewLocalOrderingStore(),
		rec:   events.NewRecorder(),
		base:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	quiet := log.New(io.Discard, "", 0)
	clock := func() time.Time { return f.base }
	f.queue = queue.NewManager(f.order, f.store.Sessions, queue.Options{}, queue.WithLogger(quiet), queue.WithClock(clock), queue.WithEmitter(f.rec))
	if assigner == nil {
		assigner = assignment.NewEngine(f.store, f.queue, assignment.WithLogger(quiet), assignment.WithEmitter(f.rec), assignment.WithClock(clock))
	}
	scorer := priority.NewScorer(f.store.Rules, quiet)
	f.engine = NewEngine(f.store, scorer, f.queue, assigner, WithLogger(quiet), WithEmitter(f.rec), WithClock(clock), WithUrgentScoreFloor(80))
	return f
}

func (f *fixture) pending(t *testing.T, id, description string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Tickets.Create(ctx, &models.Ticket{
		ID: "t-" + id, TicketNo: "2025060100" + id, Description: description,
		Status: models.TicketStatusWaiting, Priority: models.PriorityNormal, PriorityScore: 10,
	}))
	require.NoError(t, f.store.Sessions.Create(ctx, &models.Session{ID: id, TicketID: "t-" + id, Status: models.SessionStatusPending}))
}

func (f *fixture) online(t *testing.T, id string, role models.StaffRole) {
	t.Helper()
	login := f.base
	require.NoError(t, f.store.Staff.Upsert(context.Background(), &models.Staff{ID: id, Role: role, IsOnline: true, LastLoginAt: &login}))
}

func TestTransferWithZeroCapacityEscalates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.pending(t, "1", "cannot log in")

	res, err := f.engine.TransferToAgent(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.ConvertedToTicket)
	assert.False(t, res.Queued)
	assert.Equal(t, "20250601001", res.TicketNo)

	ticket, err := f.store.Tickets.GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, ticket.Priority)
	assert.GreaterOrEqual(t, ticket.PriorityScore, 80)
	assert.Equal(t, models.TicketStatusWaiting, ticket.Status)

	s, err := f.store.Sessions.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusClosed, s.Status)
	assert.Nil(t, s.QueuedAt)

	msgs, err := f.store.Messages.ListBySession(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderSystem, msgs[0].SenderType)
	assert.Contains(t, msgs[0].Content, "20250601001")

	assert.Len(t, f.rec.Find(events.TicketRoom("t-1"), events.TicketUpdate), 1)
	assert.Len(t, f.rec.Find(events.SessionRoom("1"), events.Message), 1)

	keys, err := f.order.Keys(ctx, cache.QueueKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys, "escalation never creates a queue entry")
}

func TestTransferQueuesAndAssignsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.online(t, "agent-1", models.RoleAgent)
	f.pending(t, "1", "refund please")

	res, err := f.engine.TransferToAgent(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.False(t, res.ConvertedToTicket)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, "agent-1", res.AgentID)
	assert.Equal(t, 5*time.Minute, res.EstimatedWait)

	s, err := f.store.Sessions.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusQueued, s.Status)
	require.NotNil(t, s.QueuedAt)
	assert.Equal(t, f.base, *s.QueuedAt)

	members, err := f.order.ZMembers(ctx, cache.QueueKey(models.AgentPool("agent-1")))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)
}

func TestTransferScoresSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.online(t, "agent-1", models.RoleAgent)
	require.NoError(t, f.store.Rules.Upsert(ctx, &models.PriorityRule{ID: "r1", Enabled: true, Weight: 30, Keywords: models.StringList{"refund"}}))
	require.NoError(t, f.store.Rules.Upsert(ctx, &models.PriorityRule{ID: "r2", Enabled: true, Weight: 5, Priority: "NORMAL"}))
	f.pending(t, "1", "Refund please")

	_, err := f.engine.TransferToAgent(ctx, "1")
	require.NoError(t, err)
	s, err := f.store.Sessions.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 35, s.PriorityScore)
}

func TestTransferIsExclusive(t *testing.T) {
	for _, staffed := range []bool{true, false} {
		f := newFixture(t, nil)
		if staffed {
			f.online(t, "a", models.RoleAdmin)
		}
		f.pending(t, "1", "help")

		res, err := f.engine.TransferToAgent(context.Background(), "1")
		require.NoError(t, err)
		assert.NotEqual(t, res.Queued, res.ConvertedToTicket, "staffed=%v", staffed)
		if res.Queued {
			assert.Positive(t, res.Position)
			assert.Empty(t, res.TicketNo)
		} else {
			assert.NotEmpty(t, res.TicketNo)
			assert.Zero(t, res.Position)
		}
	}
}

// vanishingAssigner takes every staff member offline before reporting no
// capacity, like an agent disconnecting mid-transfer.
type vanishingAssigner struct {
	staff repository.StaffRepository
	ids   []string
}

func (v *vanishingAssigner) AutoAssignOnly(ctx context.Context, _ string) (*models.Session, error) {
	for _, id := range v.ids {
		if err := v.staff.SetOnline(ctx, id, false, nil); err != nil {
			return nil, err
		}
	}
	return nil, models.ErrNoCapacity
}

func TestTransferEscalatesWhenStaffLeaveMidway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, busyAssigner{})
	f.engine.assigner = &vanishingAssigner{staff: f.store.Staff, ids: []string{"a"}}
	f.online(t, "a", models.RoleAgent)
	f.pending(t, "1", "help")

	res, err := f.engine.TransferToAgent(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.ConvertedToTicket)

	s, err := f.store.Sessions.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusClosed, s.Status)

	members, err := f.order.ZMembers(ctx, cache.QueueKey(models.UnassignedPool))
	require.NoError(t, err)
	assert.Empty(t, members)
}

type busyAssigner struct{}

func (busyAssigner) AutoAssignOnly(context.Context, string) (*models.Session, error) {
	return nil, models.ErrNoCapacity
}

func TestTransferStaysQueuedWithoutCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, busyAssigner{})
	f.online(t, "a", models.RoleAgent)
	f.pending(t, "1", "help")

	res, err := f.engine.TransferToAgent(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Empty(t, res.AgentID)
	assert.Equal(t, 1, res.Position)
}

func TestTransferOfQueuedSessionReportsSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, busyAssigner{})
	f.online(t, "a", models.RoleAgent)
	f.pending(t, "1", "help")
	f.pending(t, "2", "help")
	_, err := f.engine.TransferToAgent(ctx, "1")
	require.NoError(t, err)
	_, err = f.engine.TransferToAgent(ctx, "2")
	require.NoError(t, err)

	res, err := f.engine.TransferToAgent(ctx, "2")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, 2, res.Position)
	assert.Equal(t, 10*time.Minute, res.EstimatedWait)
}

func TestTransferRejectsInvalidStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.store.Tickets.Create(ctx, &models.Ticket{ID: "t1", Status: models.TicketStatusResolved}))
	require.NoError(t, f.store.Tickets.Create(ctx, &models.Ticket{ID: "t2", Status: models.TicketStatusWaiting}))
	require.NoError(t, f.store.Sessions.Create(ctx, &models.Session{ID: "resolved", TicketID: "t1", Status: models.SessionStatusPending}))
	require.NoError(t, f.store.Sessions.Create(ctx, &models.Session{ID: "closed", TicketID: "t2", Status: models.SessionStatusClosed}))

	for _, id := range []string{"resolved", "closed"} {
		_, err := f.engine.TransferToAgent(ctx, id)
		assert.ErrorIs(t, err, models.ErrInvalidState, id)
	}
	_, err := f.engine.TransferToAgent(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEscalateQueuedSessionDropsEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, busyAssigner{})
	f.online(t, "a", models.RoleAgent)
	f.pending(t, "1", "help")
	_, err := f.engine.TransferToAgent(ctx, "1")
	require.NoError(t, err)

	res, err := f.engine.Escalate(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.ConvertedToTicket)

	members, err := f.order.ZMembers(ctx, cache.QueueKey(models.UnassignedPool))
	require.NoError(t, err)
	assert.Empty(t, members)
}
