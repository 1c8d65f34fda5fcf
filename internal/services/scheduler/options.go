package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

type options struct {
	Logger   *log.Logger
	Queue    queueMaintainer
	Stale    staleCloser
	Drainer  drainer
	Cron     *cron.Cron
	Parser   cron.Parser
	Jobs     []*models.ScheduledJob
	Location *time.Location
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{Logger: log.Default(), Location: time.UTC}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithQueue injects the queue manager used by the reorder and repair jobs.
func WithQueue(q queueMaintainer) Option {
	return func(o *options) {
		o.Queue = q
	}
}

// WithStaleCloser injects the service that resolves stale tickets.
func WithStaleCloser(c staleCloser) Option {
	return func(o *options) {
		o.Stale = c
	}
}

// WithDrainer injects the assignment engine used by the drain job.
func WithDrainer(d drainer) Option {
	return func(o *options) {
		o.Drainer = d
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithCronParser allows replacing the cron expression parser.
func WithCronParser(p cron.Parser) Option {
	return func(o *options) {
		o.Parser = p
	}
}

// WithJobs registers explicit job definitions instead of defaults.
func WithJobs(jobs []*models.ScheduledJob) Option {
	return func(o *options) {
		o.Jobs = jobs
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}
