// Package scheduler turns persisted recurrence rules into enqueued tasks.
// The daemon is safe to run in every API replica; conditional claims in the
// store guarantee each due moment fires exactly once.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
)

// ParseScheduleConfig validates a recurrence rule: exactly one of a
// five-field cron expression or a positive interval in seconds.
func ParseScheduleConfig(cfg models.ScheduleConfig) error {
	switch {
	case cfg.Cron != "" && cfg.Seconds != 0:
		return faults.Validationf("schedule config must set cron or seconds, not both")
	case cfg.Cron == "" && cfg.Seconds == 0:
		return faults.Validationf("schedule config must set cron or seconds")
	case cfg.Seconds < 0:
		return faults.Validationf("schedule interval must be positive, got %d", cfg.Seconds)
	case cfg.Cron != "":
		if _, err := cron.ParseStandard(cfg.Cron); err != nil {
			return faults.Validationf("invalid cron expression %q: %v", cfg.Cron, err)
		}
	}
	return nil
}

// Next computes the run after prev, stepped strictly past now. Cron rules
// are evaluated in UTC. Interval rules step from prev in fixed increments,
// so a slow tick or downtime never shifts the cadence.
func Next(cfg models.ScheduleConfig, prev, now time.Time) (time.Time, error) {
	if err := ParseScheduleConfig(cfg); err != nil {
		return time.Time{}, err
	}
	now = now.UTC()
	if cfg.Cron != "" {
		sched, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			return time.Time{}, faults.Validationf("invalid cron expression %q: %v", cfg.Cron, err)
		}
		from := prev.UTC()
		if from.Before(now) {
			from = now
		}
		return sched.Next(from), nil
	}

	step := time.Duration(cfg.Seconds) * time.Second
	next := prev.UTC().Add(step)
	for !next.After(now) {
		next = next.Add(step)
	}
	return next, nil
}
