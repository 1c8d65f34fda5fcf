package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// LocalOrderingStore keeps sorted sets and TTL keys in process memory. It is
// used by single-node deployments and tests; SetAvailable simulates outages.
// Equal scores order by member, as in Redis.
type LocalOrderingStore struct {
	mu        sync.Mutex
	sets      map[string]map[string]localMember
	items     map[string]localItem
	available bool
	now       func() time.Time
}

type localMember struct {
	score float64
}

type localItem struct {
	value     string
	expiresAt time.Time
}

// NewLocalOrderingStore creates an available, empty store.
func NewLocalOrderingStore() *LocalOrderingStore {
	return &LocalOrderingStore{
		sets:      make(map[string]map[string]localMember),
		items:     make(map[string]localItem),
		available: true,
		now:       time.Now,
	}
}

// SetAvailable toggles simulated reachability.
func (s *LocalOrderingStore) SetAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
}

// SetClock overrides the clock used for TTL expiry.
func (s *LocalOrderingStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *LocalOrderingStore) check() error {
	if !s.available {
		return fmt.Errorf("local ordering store offline")
	}
	return nil
}

func (s *LocalOrderingStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

func (s *LocalOrderingStore) ZAdd(_ context.Context, set, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.zadd(set, member, score)
	return nil
}

func (s *LocalOrderingStore) zadd(set, member string, score float64) {
	m, ok := s.sets[set]
	if !ok {
		m = make(map[string]localMember)
		s.sets[set] = m
	}
	m[member] = localMember{score: score}
}

func (s *LocalOrderingStore) ordered(set string) []string {
	m := s.sets[set]
	out := make([]string, 0, len(m))
	for member := range m {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := m[out[i]], m[out[j]]
		if a.score != b.score {
			return a.score < b.score
		}
		return out[i] < out[j]
	})
	return out
}

func (s *LocalOrderingStore) ZRank(_ context.Context, set, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	if _, ok := s.sets[set][member]; !ok {
		return 0, ErrMemberNotFound
	}
	for i, m := range s.ordered(set) {
		if m == member {
			return int64(i), nil
		}
	}
	return 0, ErrMemberNotFound
}

func (s *LocalOrderingStore) ZMove(_ context.Context, from, to, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.sets[from], member)
	s.zadd(to, member, score)
	return nil
}

func (s *LocalOrderingStore) ZRem(_ context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.sets[set], member)
	return nil
}

func (s *LocalOrderingStore) ZMembers(_ context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.ordered(set), nil
}

func (s *LocalOrderingStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	item := localItem{value: value}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

func (s *LocalOrderingStore) live(key string) (localItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return item, false
	}
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return item, false
	}
	return item, true
}

func (s *LocalOrderingStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", err
	}
	item, ok := s.live(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return item.value, nil
}

func (s *LocalOrderingStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.items, key)
	delete(s.sets, key)
	return nil
}

func (s *LocalOrderingStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			if _, ok := s.live(k); ok {
				out = append(out, k)
			}
		}
	}
	for k, members := range s.sets {
		if strings.HasPrefix(k, prefix) && len(members) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *LocalOrderingStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int64
	if item, ok := s.live(key); ok {
		if _, err := fmt.Sscan(item.value, &n); err != nil {
			return 0, fmt.Errorf("value at %s is not an integer", key)
		}
	}
	n++
	s.items[key] = localItem{value: fmt.Sprint(n)}
	return n, nil
}
