// Package recovery reconciles presence state after a process restart.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/services/queue"
)

// Reorderer runs a full queue pass.
type Reorderer interface {
	Reorder(ctx context.Context) (*queue.ReorderResult, error)
}

// Result summarizes a recovery run.
type Result struct {
	// Skipped is set when the ordering store was unreachable and nothing
	// was changed.
	Skipped     bool
	MarkedOn    []string
	MarkedOff   []string
	Unknown     []string
	Connections map[string]int
	Reorder     *queue.ReorderResult
}

// Service is the state recovery routine.
type Service struct {
	store        cache.OrderingStore
	staff        repository.StaffRepository
	queue        Reorderer
	logger       *log.Logger
	probeTimeout time.Duration
}

func NewService(store cache.OrderingStore, staff repository.StaffRepository, q Reorderer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, staff: staff, queue: q, logger: logger, probeTimeout: 2 * time.Second}
}

// Run copies the ordering store's online markers into the durable store,
// marks durable-online staff without a marker offline, logs a snapshot of
// mirrored connections and finishes with a reorder pass. An unreachable
// ordering store leaves the durable store untouched.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	err := s.store.Ping(probeCtx)
	cancel()
	if err != nil {
		s.logger.Printf("recovery: ordering store unreachable, keeping durable presence as-is: %v", err)
		return &Result{Skipped: true}, nil
	}

	keys, err := s.store.Keys(ctx, cache.StaffOnlinePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list online markers: %w", err)
	}
	res := &Result{Connections: make(map[string]int)}
	marked := make(map[string]bool, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, cache.StaffOnlinePrefix)
		marked[id] = true
		if err := s.staff.SetOnline(ctx, id, true, nil); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				res.Unknown = append(res.Unknown, id)
				continue
			}
			return nil, fmt.Errorf("failed to mark %s online: %w", id, err)
		}
		res.MarkedOn = append(res.MarkedOn, id)
	}

	online, err := s.staff.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list online staff: %w", err)
	}
	for _, member := range online {
		if marked[member.ID] {
			continue
		}
		if err := s.staff.SetOnline(ctx, member.ID, false, nil); err != nil {
			s.logger.Printf("recovery: failed to mark %s offline: %v", member.ID, err)
			continue
		}
		res.MarkedOff = append(res.MarkedOff, member.ID)
	}

	s.snapshotConnections(ctx, res)
	s.logger.Printf("recovery: %d staff online, %d marked offline, %d unknown markers, connections %v",
		len(res.MarkedOn), len(res.MarkedOff), len(res.Unknown), res.Connections)

	if s.queue != nil {
		reorder, err := s.queue.Reorder(ctx)
		if err != nil {
			s.logger.Printf("recovery: reorder failed: %v", err)
		} else {
			res.Reorder = reorder
		}
	}
	return res, nil
}

func (s *Service) snapshotConnections(ctx context.Context, res *Result) {
	keys, err := s.store.Keys(ctx, cache.ConnectionKeyPrefix)
	if err != nil {
		s.logger.Printf("recovery: failed to list connection mirrors: %v", err)
		return
	}
	for _, key := range keys {
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			continue
		}
		rec, err := cache.DecodeConnection(raw)
		if err != nil {
			s.logger.Printf("recovery: skipping %s: %v", key, err)
			continue
		}
		res.Connections[rec.Kind]++
	}
}
