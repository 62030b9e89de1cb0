// Package executor claims pending tasks off the dispatch queue and drives
// them through the task state machine with per-type deadlines, cooperative
// cancellation, and per-source exclusivity.
package executor

import (
	"context"

	"github.com/cockroachdb/errors"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/store"
	"vocab-ingest/internal/telemetry"
)

// TaskCreator is the store slice the enqueuer writes through.
type TaskCreator interface {
	CreateTask(ctx context.Context, p store.CreateTaskParams) (models.Task, error)
}

// ReadyQueue pushes created tasks into their priority lane.
type ReadyQueue interface {
	Enqueue(ctx context.Context, taskID, priority string) error
}

// Enqueuer creates a task row and makes it visible to workers. It is the
// single entry point for new tasks: the API, the scheduler daemon, and
// handlers chaining follow-ups all go through it.
type Enqueuer struct {
	store TaskCreator
	queue ReadyQueue
}

// NewEnqueuer wires an enqueuer.
func NewEnqueuer(store TaskCreator, queue ReadyQueue) *Enqueuer {
	return &Enqueuer{store: store, queue: queue}
}

// EnqueueTask persists a pending task and pushes it onto the ready queue.
func (e *Enqueuer) EnqueueTask(ctx context.Context, taskType models.TaskType, sourceID string, metadata map[string]any, createdBy string) (models.Task, error) {
	task, err := e.store.CreateTask(ctx, store.CreateTaskParams{
		Type:      taskType,
		SourceID:  sourceID,
		Metadata:  metadata,
		CreatedBy: createdBy,
	})
	if err != nil {
		return models.Task{}, err
	}
	telemetry.TasksCreated.Inc()
	if err := e.queue.Enqueue(ctx, task.ID, priorityFor(taskType)); err != nil {
		// Nothing rescans pending rows. The orphaned task is returned with
		// the error so the caller can retry the enqueue or cancel it.
		return task, errors.Wrap(err, "enqueue task")
	}
	return task, nil
}

// priorityFor maps task types to queue lanes. User-facing uploads jump the
// line, bulk harvests yield to everything else.
func priorityFor(t models.TaskType) string {
	switch t {
	case models.TypeFileUpload:
		return "interactive"
	case models.TypeHarvest:
		return "bulk"
	default:
		return "default"
	}
}
