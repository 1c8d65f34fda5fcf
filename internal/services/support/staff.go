package support

import (
	"context"
	"fmt"

	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/events"
)

// StaffOnline marks the staff member online in both stores, announces it
// and offers unassigned queued sessions to the assignment engine.
func (s *Service) StaffOnline(ctx context.Context, staffID string) error {
	now := s.now().UTC()
	if err := s.staff.SetOnline(ctx, staffID, true, &now); err != nil {
		return fmt.Errorf("failed to mark %s online: %w", staffID, err)
	}
	s.RefreshPresence(ctx, staffID)
	s.emit(ctx, events.StaffRoom, events.AgentStatusChanged, events.StaffStatusPayload{StaffID: staffID, IsOnline: true})

	if n, err := s.deps.Assigner.DrainUnassigned(ctx); err != nil {
		s.logger.Printf("support: drain after %s came online failed: %v", staffID, err)
	} else if n > 0 {
		s.logger.Printf("support: %d queued sessions assigned after %s came online", n, staffID)
	}
	return nil
}

// StaffOffline marks the staff member offline, hands their automatically
// bound queued sessions back to the unassigned pool and drains it again.
func (s *Service) StaffOffline(ctx context.Context, staffID string) error {
	if err := s.staff.SetOnline(ctx, staffID, false, nil); err != nil {
		return fmt.Errorf("failed to mark %s offline: %w", staffID, err)
	}
	if s.presence != nil {
		if err := s.presence.Del(ctx, cache.StaffOnlineKey(staffID)); err != nil {
			s.logger.Printf("support: failed to clear presence of %s: %v", staffID, err)
		}
	}
	s.emit(ctx, events.StaffRoom, events.AgentStatusChanged, events.StaffStatusPayload{StaffID: staffID, IsOnline: false})

	if _, err := s.deps.Assigner.ReleaseAgent(ctx, staffID); err != nil {
		s.logger.Printf("support: failed to release sessions of %s: %v", staffID, err)
	}
	if _, err := s.deps.Assigner.DrainUnassigned(ctx); err != nil {
		s.logger.Printf("support: drain after %s went offline failed: %v", staffID, err)
	}
	return nil
}

// RefreshPresence renews the staff member's online marker.
func (s *Service) RefreshPresence(ctx context.Context, staffID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.Set(ctx, cache.StaffOnlineKey(staffID), s.now().UTC().Format(timeLayout), s.onlineTTL); err != nil {
		s.logger.Printf("support: failed to refresh presence of %s: %v", staffID, err)
	}
}
