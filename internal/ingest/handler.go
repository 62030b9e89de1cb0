// Package ingest contains one handler per task type. Handlers perform the
// external I/O and store mutation for a single task attempt; everything
// around them (claiming, timeouts, finalization, streaming) belongs to the
// executor.
package ingest

import (
	"context"
	"sync"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
)

// Handler executes one task type. Implementations must honor ctx at batch
// boundaries and keep external writes in small, individually committed
// batches so an abandoned run leaves the stores consistent.
type Handler interface {
	Type() models.TaskType
	Run(ctx context.Context, task models.Task, source *models.Source, sink progress.Sink) (progress.Summary, error)
}

// Registry maps task types to handlers so the executor dispatches without
// knowing any ingestion specifics. Adding a task type means registering a
// handler, nothing else.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.TaskType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.TaskType]Handler)}
}

// Register binds a handler to its task type. Registering the same type twice
// is a wiring bug and panics at startup.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		panic("handler already registered for type " + string(h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for a task type.
func (r *Registry) Get(t models.TaskType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, faults.Validationf("no handler registered for task type %q", t)
	}
	return h, nil
}

// TermStore is the slice of the relational store the harvest and sync
// handlers mutate. Upserts are keyed by natural keys (term URI, field URI)
// so re-runs converge instead of accumulating duplicates.
type TermStore interface {
	UpsertTerm(ctx context.Context, sourceID, uri string) (int64, bool, error)
	InsertTermField(ctx context.Context, termID int64, fieldURI string, role models.FieldRole, value string) (int64, bool, error)
	InsertTranslation(ctx context.Context, termFieldID int64, language, value string) (bool, error)
}

// FollowUp lets a handler chain a successor task, e.g. file_upload kicking
// off triplestore_sync for the same source.
type FollowUp interface {
	EnqueueTask(ctx context.Context, taskType models.TaskType, sourceID string, metadata map[string]any, createdBy string) (models.Task, error)
}
