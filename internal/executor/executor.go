package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"vocab-ingest/internal/config"
	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/ingest"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/store"
	"vocab-ingest/internal/telemetry"
)

// TaskStore is the store surface the executor needs to claim, observe, and
// finalize tasks.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (models.Task, error)
	ClaimTask(ctx context.Context, id string) (bool, error)
	TransitionTask(ctx context.Context, id string, from, to models.TaskStatus, opts store.TransitionOpts) error
	GetRunningTaskForSource(ctx context.Context, sourceID string) (*models.Task, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
	AppendTaskLog(ctx context.Context, id, line string) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
}

// DispatchQueue is the queue surface the executor consumes.
type DispatchQueue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, taskID string, extension time.Duration) error
	Ack(ctx context.Context, taskID string) error
	Defer(ctx context.Context, taskID string, runAt time.Time) error
	PromoteDeferred(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
	InFlightDepth(ctx context.Context) (int64, error)
}

// Executor runs a bounded pool of workers plus one maintenance loop.
type Executor struct {
	store    TaskStore
	queue    DispatchQueue
	registry *ingest.Registry
	hub      *progress.Hub
	cfg      config.Config
	log      *zap.SugaredLogger
}

// New builds an executor.
func New(st TaskStore, queue DispatchQueue, registry *ingest.Registry, hub *progress.Hub, cfg config.Config, log *zap.SugaredLogger) *Executor {
	return &Executor{store: st, queue: queue, registry: registry, hub: hub, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled and all workers have drained.
func (e *Executor) Run(ctx context.Context) {
	e.log.Infow("executor started", "workers", e.cfg.WorkerCount)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.workerLoop(ctx, id)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.maintenanceLoop(ctx)
	}()
	wg.Wait()
	e.log.Info("executor stopped")
}

func (e *Executor) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		taskID, err := e.queue.DequeueWithLease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Errorw("dequeue", "worker", id, "error", err)
			taskID = ""
		}
		if taskID == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.WorkerPollInterval):
			}
			continue
		}
		e.process(ctx, taskID)
	}
}

// maintenanceLoop promotes deferred tasks, reclaims expired leases, and
// refreshes queue gauges.
func (e *Executor) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.WorkerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		e.maintain(ctx, time.Now())
	}
}

// maintain runs one maintenance pass.
func (e *Executor) maintain(ctx context.Context, now time.Time) {
	if _, err := e.queue.PromoteDeferred(ctx, now, int64(e.cfg.DeferredBatchSize)); err != nil {
		e.log.Errorw("promote deferred", "error", err)
	}
	reclaimed, err := e.queue.RequeueExpired(ctx, now, int64(e.cfg.DeferredBatchSize))
	if err != nil {
		e.log.Errorw("requeue expired", "error", err)
	}
	for _, id := range reclaimed {
		e.log.Warnw("reclaimed expired lease", "task", id)
	}
	if depth, err := e.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	if depth, err := e.queue.InFlightDepth(ctx); err == nil {
		telemetry.InFlightGauge.Set(float64(depth))
	}
}

// process drives one dequeued task to a terminal state.
func (e *Executor) process(ctx context.Context, taskID string) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		if faults.IsNotFound(err) {
			_ = e.queue.Ack(ctx, taskID)
			return
		}
		e.log.Errorw("load task", "task", taskID, "error", err)
		return
	}
	if task.Status != models.StatusPending {
		// Already claimed or finished elsewhere; drop the duplicate delivery.
		_ = e.queue.Ack(ctx, taskID)
		return
	}

	// Per-source exclusivity: one running task per source. A busy source
	// postpones the claim instead of failing it.
	if task.SourceID != nil {
		running, err := e.store.GetRunningTaskForSource(ctx, *task.SourceID)
		if err != nil {
			e.log.Errorw("check source exclusivity", "task", taskID, "error", err)
			return
		}
		if running != nil {
			e.deferTask(ctx, taskID)
			return
		}
	}

	// The claim is a conditional update that only succeeds while the task is
	// pending and no sibling task of the same source is running, so the
	// exclusivity check above is a fast path, not the guarantee.
	claimed, err := e.store.ClaimTask(ctx, taskID)
	if err != nil {
		e.log.Errorw("claim task", "task", taskID, "error", err)
		return
	}
	if !claimed {
		current, err := e.store.GetTask(ctx, taskID)
		if err == nil && current.Status == models.StatusPending {
			// Still pending means a sibling won the source in the meantime.
			e.deferTask(ctx, taskID)
			return
		}
		// Claimed or finished elsewhere; drop the duplicate delivery.
		_ = e.queue.Ack(ctx, taskID)
		return
	}
	task.Status = models.StatusRunning

	var source *models.Source
	if task.SourceID != nil {
		source, err = e.store.GetSource(ctx, *task.SourceID)
		if err != nil {
			e.fail(ctx, task, "load source: "+err.Error())
			_ = e.queue.Ack(ctx, taskID)
			return
		}
	}

	summary, runErr, cancelled := e.runHandler(ctx, task, source)
	e.finalize(ctx, task, summary, runErr, cancelled)
	_ = e.queue.Ack(ctx, taskID)
}

// deferTask parks a delivery whose source is occupied.
func (e *Executor) deferTask(ctx context.Context, taskID string) {
	telemetry.TasksDeferred.Inc()
	if err := e.queue.Defer(ctx, taskID, time.Now().Add(e.cfg.DeferRetryDelay)); err != nil {
		e.log.Errorw("defer task", "task", taskID, "error", err)
	}
}

// runHandler executes the task's handler under its per-type deadline, with a
// watcher cancelling the handler context when cancellation is requested and
// a keepalive extending the queue lease.
func (e *Executor) runHandler(ctx context.Context, task models.Task, source *models.Source) (progress.Summary, error, bool) {
	handler, err := e.registry.Get(task.Type)
	if err != nil {
		return progress.Summary{}, err, false
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout(string(task.Type)))
	defer cancel()

	var cancelledFlag bool
	var mu sync.Mutex
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		ticker := time.NewTicker(e.cfg.CancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				requested, err := e.store.CancelRequested(ctx, task.ID)
				if err == nil && requested {
					mu.Lock()
					cancelledFlag = true
					mu.Unlock()
					cancel()
					return
				}
				_ = e.queue.ExtendLease(ctx, task.ID, e.cfg.VisibilityTimeout)
			}
		}
	}()

	sink := progress.NewTaskSink(ctx, e.hub, e.store, task.ID)
	summary, runErr := e.safeRun(runCtx, handler, task, source, sink)
	cancel()
	<-watcherDone

	mu.Lock()
	defer mu.Unlock()
	return summary, runErr, cancelledFlag
}

// safeRun converts handler panics into errors so one bad task never takes
// down a worker.
func (e *Executor) safeRun(ctx context.Context, handler ingest.Handler, task models.Task, source *models.Source, sink progress.Sink) (summary progress.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return handler.Run(ctx, task, source, sink)
}

// finalize applies the terminal transition and publishes the terminal event.
func (e *Executor) finalize(ctx context.Context, task models.Task, summary progress.Summary, runErr error, cancelled bool) {
	switch {
	case runErr == nil:
		metadata := task.Metadata
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata["summary"] = summary.Map()
		err := e.store.TransitionTask(ctx, task.ID, models.StatusRunning, models.StatusCompleted, store.TransitionOpts{
			LogAppend: "info: task completed",
			Metadata:  metadata,
		})
		if err != nil {
			e.log.Errorw("complete task", "task", task.ID, "error", err)
			return
		}
		telemetry.TasksCompleted.Inc()
		e.hub.Publish(ctx, task.ID, progress.Event{Type: progress.EventDone, Message: "task completed", Data: summary.Map()})

	case cancelled:
		err := e.store.TransitionTask(ctx, task.ID, models.StatusRunning, models.StatusCancelled, store.TransitionOpts{
			LogAppend: "info: task cancelled",
		})
		if err != nil {
			e.log.Errorw("cancel task", "task", task.ID, "error", err)
			return
		}
		telemetry.TasksCancelled.Inc()
		e.hub.Publish(ctx, task.ID, progress.Event{Type: progress.EventError, Message: "task cancelled"})

	default:
		msg := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) {
			msg = fmt.Sprintf("task timed out after %s", e.cfg.TaskTimeout(string(task.Type)))
		}
		e.fail(ctx, task, msg)
	}
}

func (e *Executor) fail(ctx context.Context, task models.Task, msg string) {
	from := task.Status
	if from == models.StatusPending {
		// A task that never started still has to end somewhere observable.
		if err := e.store.TransitionTask(ctx, task.ID, models.StatusPending, models.StatusRunning, store.TransitionOpts{}); err != nil {
			e.log.Errorw("fail task", "task", task.ID, "error", err)
			return
		}
	}
	err := e.store.TransitionTask(ctx, task.ID, models.StatusRunning, models.StatusFailed, store.TransitionOpts{
		Error:     msg,
		LogAppend: "error: " + msg,
	})
	if err != nil {
		e.log.Errorw("fail task", "task", task.ID, "error", err)
		return
	}
	telemetry.TasksFailed.Inc()
	e.hub.Publish(ctx, task.ID, progress.Event{Type: progress.EventError, Message: msg})
}
