// Package queue ranks QUEUED sessions per pool in the fast ordering store,
// with the durable store as the fallback and the source of membership.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/config"
	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
)

// Options tune the queue manager.
type Options struct {
	ProbeTimeout          time.Duration
	AHTWindow             int
	AHT                   AHTOptions
	RemovalMaxTries       uint
	RemovalInitialBackoff time.Duration
}

// OptionsFromConfig maps the queue configuration section.
func OptionsFromConfig(c config.QueueConfig) Options {
	return Options{
		ProbeTimeout: c.ProbeTimeout,
		AHTWindow:    c.AHTWindow,
		AHT: AHTOptions{
			Min:           c.AHTMin,
			Max:           c.AHTMax,
			Default:       c.AHTDefault,
			OutlierFactor: c.OutlierFactor,
		},
		RemovalMaxTries:       c.RemovalMaxTries,
		RemovalInitialBackoff: c.RemovalInitialBackoff,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEmitter sets where queue-update events go.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the queue manager.
type Manager struct {
	store    cache.OrderingStore
	sessions repository.SessionRepository
	emitter  events.Emitter
	logger   *log.Logger
	opts     Options
	now      func() time.Time
	repairs  *RepairLog
	degraded atomic.Bool
}

func NewManager(store cache.OrderingStore, sessions repository.SessionRepository, opts Options, options ...Option) *Manager {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 250 * time.Millisecond
	}
	if opts.AHTWindow <= 0 {
		opts.AHTWindow = 50
	}
	if opts.AHT.Default <= 0 {
		opts.AHT.Default = 5 * time.Minute
	}
	if opts.AHT.OutlierFactor <= 0 {
		opts.AHT.OutlierFactor = 3
	}
	if opts.RemovalMaxTries == 0 {
		opts.RemovalMaxTries = 3
	}
	if opts.RemovalInitialBackoff <= 0 {
		opts.RemovalInitialBackoff = 50 * time.Millisecond
	}
	m := &Manager{
		store:    store,
		sessions: sessions,
		emitter:  events.Nop{},
		logger:   log.Default(),
		opts:     opts,
		now:      time.Now,
		repairs:  NewRepairLog(),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Repairs exposes the log of failed removals.
func (m *Manager) Repairs() *RepairLog {
	return m.repairs
}

// Available probes the ordering store. It is called before every operation
// so an outage is noticed and recovered from without restarts.
func (m *Manager) Available(ctx context.Context) bool {
	if m.store == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	err := m.store.Ping(probeCtx)
	if err != nil {
		if !m.degraded.Swap(true) {
			m.logger.Printf("queue: ordering store unavailable, using durable fallback: %v", err)
		}
		return false
	}
	if m.degraded.Swap(false) {
		m.logger.Printf("queue: ordering store reachable again")
	}
	return true
}

// Enqueue inserts the session into pool. Repeating it is harmless. When the
// ordering store is down the entry is left for the next Reorder to restore.
func (m *Manager) Enqueue(ctx context.Context, pool, sessionID string, score int, queuedAt time.Time) error {
	if !m.Available(ctx) {
		return nil
	}
	if err := m.store.ZAdd(ctx, cache.QueueKey(pool), sessionID, EncodeScore(score, queuedAt)); err != nil {
		m.logger.Printf("queue: enqueue %s into %s failed, deferring to reorder: %v", sessionID, pool, err)
	}
	return nil
}

// Move transfers the entry between pools; used when a queued session gains
// an agent without leaving QUEUED.
func (m *Manager) Move(ctx context.Context, entry models.QueueEntry, from, to string) error {
	if from == to || !m.Available(ctx) {
		return nil
	}
	if err := m.store.ZMove(ctx, cache.QueueKey(from), cache.QueueKey(to), entry.SessionID, EncodeEntry(entry)); err != nil {
		m.logger.Printf("queue: move %s from %s to %s failed, deferring to reorder: %v", entry.SessionID, from, to, err)
		m.repairs.Record(from, entry.SessionID, err, m.now())
	}
	return nil
}

// Remove drops the entry from pool, retrying with bounded backoff. A removal
// that still fails is logged for repair; the caller is never blocked on it.
func (m *Manager) Remove(ctx context.Context, sessionID, pool string) error {
	if !m.Available(ctx) {
		m.repairs.Record(pool, sessionID, models.ErrStoreUnavailable, m.now())
		return nil
	}
	if err := m.removeWithRetry(ctx, sessionID, pool); err != nil {
		m.logger.Printf("queue: remove %s from %s failed after retries, logged for repair: %v", sessionID, pool, err)
		m.repairs.Record(pool, sessionID, err, m.now())
		return nil
	}
	m.repairs.Resolve(pool, sessionID)
	return nil
}

func (m *Manager) removeWithRetry(ctx context.Context, sessionID, pool string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.RemovalInitialBackoff
	b.MaxInterval = 20 * m.opts.RemovalInitialBackoff
	op := func() (struct{}, error) {
		return struct{}{}, m.store.ZRem(ctx, cache.QueueKey(pool), sessionID)
	}
	_, err := backoff.Retry[struct{}](ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(m.opts.RemovalMaxTries))
	return err
}

// Repair retries logged removals. It returns how many were applied.
func (m *Manager) Repair(ctx context.Context) (int, error) {
	pending := m.repairs.Pending()
	if len(pending) == 0 {
		return 0, nil
	}
	if !m.Available(ctx) {
		return 0, models.ErrStoreUnavailable
	}
	fixed := 0
	for _, e := range pending {
		if err := m.store.ZRem(ctx, cache.QueueKey(e.Pool), e.SessionID); err != nil {
			m.repairs.Record(e.Pool, e.SessionID, err, m.now())
			continue
		}
		m.repairs.Resolve(e.Pool, e.SessionID)
		fixed++
	}
	return fixed, nil
}

// Position returns the 1-based rank of the session in pool. The ordering
// store answers when reachable; otherwise the rank is counted from durable
// rows with the same comparator.
func (m *Manager) Position(ctx context.Context, sessionID, pool string) (int, error) {
	if m.Available(ctx) {
		rank, err := m.store.ZRank(ctx, cache.QueueKey(pool), sessionID)
		if err == nil {
			return int(rank) + 1, nil
		}
		if !errors.Is(err, cache.ErrMemberNotFound) {
			m.logger.Printf("queue: rank lookup for %s failed, using durable fallback: %v", sessionID, err)
		}
	}
	return m.durablePosition(ctx, sessionID, pool)
}

func (m *Manager) durablePosition(ctx context.Context, sessionID, pool string) (int, error) {
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !s.IsQueued() || models.PoolFor(s) != pool {
		return 0, fmt.Errorf("session %s in %s: %w", sessionID, pool, models.ErrNotQueued)
	}
	ahead, err := m.sessions.CountAhead(ctx, s.AgentID, models.EntryFor(s))
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// AverageHandlingTime estimates the current handling time from the trailing
// window of closed sessions.
func (m *Manager) AverageHandlingTime(ctx context.Context) time.Duration {
	samples, err := m.sessions.RecentHandlingTimes(ctx, m.opts.AHTWindow)
	if err != nil {
		m.logger.Printf("queue: failed to load handling times, using default: %v", err)
		samples = nil
	}
	return AverageHandlingTime(samples, m.opts.AHT)
}

// ReorderResult summarizes a reorder pass.
type ReorderResult struct {
	Positions map[string]models.QueueInfo
	Updated   int
	Failed    int
	Restored  int
	Pruned    int
	Degraded  bool
}

// Reorder recomputes rank and ETA for every queued session, repairs the
// ordering store from the durable store, persists changed positions and
// pushes queue-update to each session room. A failing session is logged and
// skipped. Concurrent Enqueue/Remove calls are tolerated; the next pass
// converges whatever this one missed.
func (m *Manager) Reorder(ctx context.Context) (*ReorderResult, error) {
	queued, err := m.sessions.ListQueued(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued sessions: %w", err)
	}
	pools := make(map[string][]*models.Session)
	for _, s := range queued {
		pool := models.PoolFor(s)
		pools[pool] = append(pools[pool], s)
	}

	res := &ReorderResult{Positions: make(map[string]models.QueueInfo, len(queued))}
	aht := m.AverageHandlingTime(ctx)
	available := m.Available(ctx)
	res.Degraded = !available
	if available {
		m.syncStore(ctx, pools, res)
	}

	names := make([]string, 0, len(pools))
	for pool := range pools {
		names = append(names, pool)
	}
	sort.Strings(names)

	for _, pool := range names {
		positions := m.poolPositions(ctx, pool, pools[pool], available)
		for _, s := range pools[pool] {
			pos, ok := positions[s.ID]
			if !ok {
				res.Failed++
				continue
			}
			info := models.QueueInfo{SessionID: s.ID, Pool: pool, Position: pos, EstimatedWait: EstimateWait(pos, aht)}
			res.Positions[s.ID] = info
			changed, err := m.persist(ctx, s, info)
			if err != nil {
				m.logger.Printf("queue: failed to persist position of %s: %v", s.ID, err)
				res.Failed++
				continue
			}
			if changed {
				res.Updated++
				m.notify(ctx, info)
			}
		}
	}
	return res, nil
}

// syncStore makes each pool set hold exactly the durable queued sessions.
func (m *Manager) syncStore(ctx context.Context, pools map[string][]*models.Session, res *ReorderResult) {
	want := make(map[string]map[string]bool, len(pools))
	for pool, list := range pools {
		ids := make(map[string]bool, len(list))
		for _, s := range list {
			ids[s.ID] = true
		}
		want[pool] = ids
	}

	keys, err := m.store.Keys(ctx, cache.QueueKeyPrefix)
	if err != nil {
		m.logger.Printf("queue: failed to list pools for repair: %v", err)
	}
	seen := make(map[string]bool)
	for _, key := range keys {
		pool := strings.TrimPrefix(key, cache.QueueKeyPrefix)
		seen[pool] = true
		members, err := m.store.ZMembers(ctx, key)
		if err != nil {
			m.logger.Printf("queue: failed to read pool %s: %v", pool, err)
			continue
		}
		present := make(map[string]bool, len(members))
		for _, id := range members {
			present[id] = true
			if !want[pool][id] {
				if err := m.store.ZRem(ctx, key, id); err != nil {
					m.logger.Printf("queue: failed to prune %s from %s: %v", id, pool, err)
					continue
				}
				m.repairs.Resolve(pool, id)
				res.Pruned++
			}
		}
		for _, s := range pools[pool] {
			if !present[s.ID] {
				m.restore(ctx, pool, s, res)
			}
		}
	}
	for pool, list := range pools {
		if seen[pool] {
			continue
		}
		for _, s := range list {
			m.restore(ctx, pool, s, res)
		}
	}
}

func (m *Manager) restore(ctx context.Context, pool string, s *models.Session, res *ReorderResult) {
	if err := m.store.ZAdd(ctx, cache.QueueKey(pool), s.ID, EncodeEntry(models.EntryFor(s))); err != nil {
		m.logger.Printf("queue: failed to restore %s into %s: %v", s.ID, pool, err)
		return
	}
	res.Restored++
}

// poolPositions ranks one pool. With the ordering store it reads the sorted
// set; without it, it applies the durable comparator to the snapshot.
func (m *Manager) poolPositions(ctx context.Context, pool string, list []*models.Session, available bool) map[string]int {
	out := make(map[string]int, len(list))
	if available {
		members, err := m.store.ZMembers(ctx, cache.QueueKey(pool))
		if err == nil {
			for i, id := range members {
				out[id] = i + 1
			}
			// sessions the store still lacks fall back individually
			for _, s := range list {
				if _, ok := out[s.ID]; !ok {
					if pos, ok := countAhead(list, s); ok {
						out[s.ID] = pos
					}
				}
			}
			return out
		}
		m.logger.Printf("queue: failed to read pool %s, using durable ranking: %v", pool, err)
	}
	for _, s := range list {
		if pos, ok := countAhead(list, s); ok {
			out[s.ID] = pos
		}
	}
	return out
}

func countAhead(list []*models.Session, s *models.Session) (int, bool) {
	if !s.IsQueued() {
		return 0, false
	}
	ref := models.EntryFor(s)
	n := 0
	for _, other := range list {
		if other.ID != s.ID && models.EntryFor(other).Before(ref) {
			n++
		}
	}
	return n + 1, true
}

func (m *Manager) persist(ctx context.Context, s *models.Session, info models.QueueInfo) (bool, error) {
	eta := info.EstimatedWaitSeconds()
	if s.QueuePosition != nil && *s.QueuePosition == info.Position &&
		s.EstimatedWaitSeconds != nil && *s.EstimatedWaitSeconds == eta {
		return false, nil
	}
	// Re-read so a concurrent assignment or close is not overwritten.
	current, err := m.sessions.GetByID(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if !current.IsQueued() || models.PoolFor(current) != info.Pool {
		return false, nil
	}
	pos := info.Position
	current.QueuePosition = &pos
	current.EstimatedWaitSeconds = &eta
	current.UpdatedAt = m.now().UTC()
	if err := m.sessions.Update(ctx, current); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) notify(ctx context.Context, info models.QueueInfo) {
	payload := events.QueuePayload{
		SessionID:         info.SessionID,
		Position:          info.Position,
		EstimatedWaitTime: info.EstimatedWaitSeconds(),
	}
	if err := m.emitter.Emit(ctx, events.SessionRoom(info.SessionID), events.QueueUpdate, payload); err != nil {
		m.logger.Printf("queue: failed to push queue-update to %s: %v", info.SessionID, err)
	}
}
