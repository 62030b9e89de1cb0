package ingest

import (
	"context"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
)

// OtherHandler accepts ad-hoc tasks that carry their payload in metadata and
// need no ingestion work. It exists so externally created bookkeeping tasks
// flow through the same lifecycle as real ingestion tasks.
type OtherHandler struct{}

// NewOtherHandler returns the no-op handler.
func NewOtherHandler() *OtherHandler { return &OtherHandler{} }

func (h *OtherHandler) Type() models.TaskType { return models.TypeOther }

func (h *OtherHandler) Run(_ context.Context, task models.Task, _ *models.Source, sink progress.Sink) (progress.Summary, error) {
	sink.Info("task " + task.ID + " acknowledged")
	return progress.Summary{}, nil
}
