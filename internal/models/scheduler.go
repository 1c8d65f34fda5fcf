package models

import (
	"maps"
	"time"
)

// Job run outcomes.
const (
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
	JobStatusTimeout = "timeout"
)

// ScheduledJob describes a periodic maintenance task of the support engine.
type ScheduledJob struct {
	Name           string
	Slug           string
	Handler        string
	Schedule       string
	TimeoutSeconds int
	RunOnStartup   bool
	Config         map[string]any
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastStatus     string
	ErrorMessage   *string
	LastDurationMS int64
}

// Timeout returns the per-run deadline, or zero when unbounded.
func (j *ScheduledJob) Timeout() time.Duration {
	if j == nil || j.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// Clone returns a deep copy so run bookkeeping stays isolated.
func (j *ScheduledJob) Clone() *ScheduledJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.Config != nil {
		c.Config = maps.Clone(j.Config)
	}
	c.LastRunAt = cloneTime(j.LastRunAt)
	c.NextRunAt = cloneTime(j.NextRunAt)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	return &c
}
