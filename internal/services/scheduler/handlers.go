package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/config"
	"github.com/gotrs-io/gotrs-chat/internal/models"
)

// Job handler names.
const (
	HandlerReorder    = "queue.reorder"
	HandlerStaleClose = "ticket.staleClose"
	HandlerDrain      = "assignment.drain"
	HandlerRepair     = "queue.repair"
)

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler(HandlerReorder, s.handleReorder)
	s.RegisterHandler(HandlerStaleClose, s.handleStaleClose)
	s.RegisterHandler(HandlerDrain, s.handleDrain)
	s.RegisterHandler(HandlerRepair, s.handleRepair)
}

func (s *Service) handleReorder(ctx context.Context, _ *models.ScheduledJob) error {
	if s.queue == nil {
		s.logger.Printf("scheduler: queue manager unavailable, skipping reorder")
		return nil
	}
	res, err := s.queue.Reorder(ctx)
	if err != nil {
		return err
	}
	if res.Updated > 0 || res.Failed > 0 || res.Restored > 0 || res.Pruned > 0 {
		s.logger.Printf("scheduler: reorder updated %d, failed %d, restored %d, pruned %d (degraded=%v)",
			res.Updated, res.Failed, res.Restored, res.Pruned, res.Degraded)
	}
	return nil
}

func (s *Service) handleStaleClose(ctx context.Context, job *models.ScheduledJob) error {
	if s.stale == nil {
		s.logger.Printf("scheduler: support service unavailable, skipping staleClose")
		return nil
	}
	waiting := durationFromConfig(job.Config, "waiting_stale_after", 72*time.Hour)
	replied := durationFromConfig(job.Config, "replied_stale_after", 24*time.Hour)
	limit := intFromConfig(job.Config, "batch_size", 200)
	res, err := s.stale.CloseStale(ctx, waiting, replied, limit)
	if err != nil {
		return err
	}
	if res.Resolved > 0 || res.Failed > 0 {
		s.logger.Printf("scheduler: staleClose resolved %d ticket(s), %d failed", res.Resolved, res.Failed)
	}
	return nil
}

func (s *Service) handleDrain(ctx context.Context, _ *models.ScheduledJob) error {
	if s.drainer == nil {
		s.logger.Printf("scheduler: assignment engine unavailable, skipping drain")
		return nil
	}
	n, err := s.drainer.DrainUnassigned(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Printf("scheduler: drain assigned %d session(s)", n)
	}
	return nil
}

func (s *Service) handleRepair(ctx context.Context, _ *models.ScheduledJob) error {
	if s.queue == nil {
		s.logger.Printf("scheduler: queue manager unavailable, skipping repair")
		return nil
	}
	n, err := s.queue.Repair(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Printf("scheduler: repair applied %d queue removal(s)", n)
	}
	return nil
}

// MaintenanceSchedule carries the tunables of the default jobs. Zero values
// fall back to the built-in defaults.
type MaintenanceSchedule struct {
	ReorderSchedule   string
	StaleSchedule     string
	DrainSchedule     string
	RepairSchedule    string
	WaitingStaleAfter time.Duration
	RepliedStaleAfter time.Duration
	BatchSize         int
}

// ScheduleFromConfig maps the maintenance configuration section.
func ScheduleFromConfig(c config.MaintenanceConfig) MaintenanceSchedule {
	return MaintenanceSchedule{
		ReorderSchedule:   c.ReorderSchedule,
		StaleSchedule:     c.StaleSchedule,
		DrainSchedule:     c.DrainSchedule,
		RepairSchedule:    c.RepairSchedule,
		WaitingStaleAfter: c.WaitingStaleAfter,
		RepliedStaleAfter: c.RepliedStaleAfter,
		BatchSize:         c.BatchSize,
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// DefaultJobs returns the maintenance jobs of the support engine.
func DefaultJobs(m MaintenanceSchedule) []*models.ScheduledJob {
	stale := map[string]any{
		"waiting_stale_after": (72 * time.Hour).String(),
		"replied_stale_after": (24 * time.Hour).String(),
		"batch_size":          200,
	}
	if m.WaitingStaleAfter > 0 {
		stale["waiting_stale_after"] = m.WaitingStaleAfter.String()
	}
	if m.RepliedStaleAfter > 0 {
		stale["replied_stale_after"] = m.RepliedStaleAfter.String()
	}
	if m.BatchSize > 0 {
		stale["batch_size"] = m.BatchSize
	}
	return []*models.ScheduledJob{
		{
			Name:           "Queue Reorder",
			Slug:           "queue-reorder",
			Handler:        HandlerReorder,
			Schedule:       orDefault(m.ReorderSchedule, "@every 30s"),
			TimeoutSeconds: 25,
			RunOnStartup:   true,
		},
		{
			Name:           "Close Stale Tickets",
			Slug:           "stale-ticket-close",
			Handler:        HandlerStaleClose,
			Schedule:       orDefault(m.StaleSchedule, "@every 10m"),
			TimeoutSeconds: 300,
			Config:         stale,
		},
		{
			Name:           "Drain Unassigned Queue",
			Slug:           "assignment-drain",
			Handler:        HandlerDrain,
			Schedule:       orDefault(m.DrainSchedule, "@every 15s"),
			TimeoutSeconds: 10,
		},
		{
			Name:           "Queue Repair",
			Slug:           "queue-repair",
			Handler:        HandlerRepair,
			Schedule:       orDefault(m.RepairSchedule, "@every 1m"),
			TimeoutSeconds: 30,
		},
	}
}

func intFromConfig(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	val, ok := cfg[key]
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}

func durationFromConfig(cfg map[string]any, key string, def time.Duration) time.Duration {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}
