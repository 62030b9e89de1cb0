package models

import "time"

// ScheduleConfig is the recurrence rule of a TaskScheduler: exactly one of
// Cron (five-field expression, evaluated in UTC) or Seconds (fixed interval).
type ScheduleConfig struct {
	Cron    string `json:"cron,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
}

// TaskScheduler is a persisted recurring rule that enqueues tasks on a cadence.
type TaskScheduler struct {
	ID        string         `json:"scheduler_id"`
	Name      string         `json:"name"`
	TaskType  TaskType       `json:"task_type"`
	Schedule  ScheduleConfig `json:"schedule_config"`
	Enabled   bool           `json:"enabled"`
	SourceID  *string        `json:"source_id,omitempty"`
	LastRun   *time.Time     `json:"last_run,omitempty"`
	NextRun   *time.Time     `json:"next_run,omitempty"`
	CreatedBy *string        `json:"created_by,omitempty"`
}
