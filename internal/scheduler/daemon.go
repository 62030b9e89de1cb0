package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/telemetry"
)

// Store is the scheduler slice of the relational store.
type Store interface {
	DueSchedulers(ctx context.Context, now time.Time) ([]models.TaskScheduler, error)
	ClaimScheduler(ctx context.Context, id string, prevNext, newNext, lastRun time.Time) (bool, error)
	GetRunningTaskForSource(ctx context.Context, sourceID string) (*models.Task, error)
}

// TaskEnqueuer creates a task row and pushes it onto the dispatch queue.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, taskType models.TaskType, sourceID string, metadata map[string]any, createdBy string) (models.Task, error)
}

// Daemon polls for due schedulers and fires them. next_run always advances
// on a claim, even when the fire itself is skipped, so a stuck source can
// never pile up a backlog of identical tasks.
type Daemon struct {
	store    Store
	enqueuer TaskEnqueuer
	tick     time.Duration
	log      *zap.SugaredLogger
}

// NewDaemon builds a daemon polling at the given interval.
func NewDaemon(store Store, enqueuer TaskEnqueuer, tick time.Duration, log *zap.SugaredLogger) *Daemon {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Daemon{store: store, enqueuer: enqueuer, tick: tick, log: log}
}

// Run ticks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	d.log.Infow("scheduler daemon started", "tick", d.tick)
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("scheduler daemon stopped")
			return
		case <-ticker.C:
			d.Tick(ctx, time.Now())
		}
	}
}

// Tick processes every scheduler due at now. Exported so tests can drive
// the daemon without real time.
func (d *Daemon) Tick(ctx context.Context, now time.Time) {
	telemetry.SchedulerTicks.Inc()
	due, err := d.store.DueSchedulers(ctx, now)
	if err != nil {
		d.log.Errorw("list due schedulers", "error", err)
		return
	}
	for _, sched := range due {
		d.fire(ctx, sched, now)
	}
}

func (d *Daemon) fire(ctx context.Context, sched models.TaskScheduler, now time.Time) {
	if sched.NextRun == nil {
		return
	}
	next, err := Next(sched.Schedule, *sched.NextRun, now)
	if err != nil {
		d.log.Errorw("compute next run", "scheduler", sched.ID, "error", err)
		return
	}
	claimed, err := d.store.ClaimScheduler(ctx, sched.ID, *sched.NextRun, next, now)
	if err != nil {
		d.log.Errorw("claim scheduler", "scheduler", sched.ID, "error", err)
		return
	}
	if !claimed {
		// Another replica won this due moment.
		return
	}

	sourceID := ""
	if sched.SourceID != nil {
		sourceID = *sched.SourceID
	}
	if sourceID != "" {
		running, err := d.store.GetRunningTaskForSource(ctx, sourceID)
		if err != nil {
			d.log.Errorw("check running task", "scheduler", sched.ID, "error", err)
			return
		}
		if running != nil {
			d.log.Infow("skipping fire, source busy",
				"scheduler", sched.ID, "source", sourceID, "running_task", running.ID)
			return
		}
	}

	task, err := d.enqueuer.EnqueueTask(ctx, sched.TaskType, sourceID, map[string]any{
		"scheduler_id":   sched.ID,
		"scheduler_name": sched.Name,
	}, "scheduler:"+sched.Name)
	if err != nil {
		d.log.Errorw("enqueue scheduled task", "scheduler", sched.ID, "error", err)
		return
	}
	telemetry.SchedulerFires.Inc()
	d.log.Infow("scheduler fired", "scheduler", sched.ID, "task", task.ID, "next_run", next)
}
