package ingest

import (
	"context"
	"strings"
	"time"

	"vocab-ingest/internal/container"
	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
)

const ldesLogTail = 50

// ldesOps is the shared plumbing of the two LDES task types. Each LDES
// source has a dedicated consumer container named after the source id.
type ldesOps struct {
	runtime container.Runtime
	prefix  string
}

func (l ldesOps) containerName(source *models.Source) string {
	return l.prefix + source.ID
}

// awaitHealthy polls the consumer until it reports running/healthy or the
// grace period runs out. Consumers with healthchecks can flap right after a
// (re)start, so one immediate inspect is not enough.
func (l ldesOps) awaitHealthy(ctx context.Context, name string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		running, err := l.runtime.Running(ctx, name)
		if err != nil {
			return err
		}
		if running {
			return nil
		}
		if time.Now().After(deadline) {
			return faults.Externalf("consumer container %s did not become healthy", name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (l ldesOps) reportLogs(ctx context.Context, name string, sink progress.Sink) {
	logs, err := l.runtime.Logs(ctx, name, ldesLogTail)
	if err != nil {
		sink.Warning("could not read consumer logs: " + err.Error())
		return
	}
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		if line != "" {
			sink.Info("consumer: " + line)
		}
	}
}

// LDESFeedHandler makes sure a source's consumer container is up, starting
// it only when needed. Scheduled runs use this type so an already-streaming
// consumer is left alone.
type LDESFeedHandler struct {
	ops ldesOps
}

// NewLDESFeedHandler wires the handler to a container runtime.
func NewLDESFeedHandler(runtime container.Runtime, namePrefix string) *LDESFeedHandler {
	return &LDESFeedHandler{ops: ldesOps{runtime: runtime, prefix: namePrefix}}
}

func (h *LDESFeedHandler) Type() models.TaskType { return models.TypeLDESFeed }

func (h *LDESFeedHandler) Run(ctx context.Context, task models.Task, source *models.Source, sink progress.Sink) (progress.Summary, error) {
	var summary progress.Summary
	if source == nil {
		return summary, faults.Validationf("ldes_feed task %s has no source", task.ID)
	}
	if source.Type != models.SourceLDES {
		return summary, faults.Validationf("source %s is not an LDES source", source.ID)
	}
	name := h.ops.containerName(source)

	running, err := h.ops.runtime.Running(ctx, name)
	if err != nil {
		return summary, err
	}
	if running {
		sink.Info("consumer " + name + " already running")
		return summary, nil
	}
	sink.Info("starting consumer " + name)
	if err := h.ops.runtime.Start(ctx, name); err != nil {
		return summary, err
	}
	if err := h.ops.awaitHealthy(ctx, name); err != nil {
		h.ops.reportLogs(ctx, name, sink)
		return summary, err
	}
	h.ops.reportLogs(ctx, name, sink)
	return summary, nil
}

// LDESSyncHandler force-restarts a source's consumer container so it
// replays the stream from its last checkpoint. Used for manually requested
// resyncs.
type LDESSyncHandler struct {
	ops ldesOps
}

// NewLDESSyncHandler wires the handler to a container runtime.
func NewLDESSyncHandler(runtime container.Runtime, namePrefix string) *LDESSyncHandler {
	return &LDESSyncHandler{ops: ldesOps{runtime: runtime, prefix: namePrefix}}
}

func (h *LDESSyncHandler) Type() models.TaskType { return models.TypeLDESSync }

func (h *LDESSyncHandler) Run(ctx context.Context, task models.Task, source *models.Source, sink progress.Sink) (progress.Summary, error) {
	var summary progress.Summary
	if source == nil {
		return summary, faults.Validationf("ldes_sync task %s has no source", task.ID)
	}
	if source.Type != models.SourceLDES {
		return summary, faults.Validationf("source %s is not an LDES source", source.ID)
	}
	name := h.ops.containerName(source)

	sink.Info("restarting consumer " + name)
	if err := h.ops.runtime.Restart(ctx, name); err != nil {
		return summary, err
	}
	if err := h.ops.awaitHealthy(ctx, name); err != nil {
		h.ops.reportLogs(ctx, name, sink)
		return summary, err
	}
	h.ops.reportLogs(ctx, name, sink)
	return summary, nil
}
