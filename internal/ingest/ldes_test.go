package ingest

import (
	"context"
	"sync"
	"testing"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
)

type fakeRuntime struct {
	mu       sync.Mutex
	running  map[string]bool
	starts   []string
	restarts []string
	logs     string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: make(map[string]bool), logs: "consumer up\nreplication caught up"}
}

func (f *fakeRuntime) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, name)
	f.running[name] = true
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = false
	return nil
}

func (f *fakeRuntime) Restart(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, name)
	f.running[name] = true
	return nil
}

func (f *fakeRuntime) Running(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name], nil
}

func (f *fakeRuntime) Logs(_ context.Context, _ string, _ int) (string, error) {
	return f.logs, nil
}

type recordingSink struct {
	mu    sync.Mutex
	infos []string
}

func (r *recordingSink) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}
func (r *recordingSink) Progress(string, map[string]any) {}
func (r *recordingSink) Warning(string)                  {}

func ldesSource() *models.Source {
	return &models.Source{ID: "src-1", Path: "https://ldes.example.org/feed", Type: models.SourceLDES}
}

func TestLDESFeedStartsStoppedConsumer(t *testing.T) {
	rt := newFakeRuntime()
	h := NewLDESFeedHandler(rt, "ldes-consumer-")
	sink := &recordingSink{}

	_, err := h.Run(context.Background(), models.Task{ID: "t1", Type: models.TypeLDESFeed}, ldesSource(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rt.starts) != 1 || rt.starts[0] != "ldes-consumer-src-1" {
		t.Fatalf("expected consumer start got %v", rt.starts)
	}
}

func TestLDESFeedLeavesRunningConsumerAlone(t *testing.T) {
	rt := newFakeRuntime()
	rt.running["ldes-consumer-src-1"] = true
	h := NewLDESFeedHandler(rt, "ldes-consumer-")

	_, err := h.Run(context.Background(), models.Task{ID: "t1", Type: models.TypeLDESFeed}, ldesSource(), progress.NopSink{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rt.starts) != 0 {
		t.Fatalf("expected no start for running consumer got %v", rt.starts)
	}
}

func TestLDESSyncAlwaysRestarts(t *testing.T) {
	rt := newFakeRuntime()
	rt.running["ldes-consumer-src-1"] = true
	h := NewLDESSyncHandler(rt, "ldes-consumer-")
	sink := &recordingSink{}

	_, err := h.Run(context.Background(), models.Task{ID: "t1", Type: models.TypeLDESSync}, ldesSource(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rt.restarts) != 1 {
		t.Fatalf("expected restart got %v", rt.restarts)
	}
	// Consumer log lines surface in the progress stream.
	found := false
	for _, msg := range sink.infos {
		if msg == "consumer: replication caught up" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected consumer logs in progress, got %v", sink.infos)
	}
}

func TestLDESHandlersRejectNonLDESSource(t *testing.T) {
	rt := newFakeRuntime()
	src := &models.Source{ID: "src-1", Type: models.SourceStaticFile}

	feed := NewLDESFeedHandler(rt, "ldes-consumer-")
	if _, err := feed.Run(context.Background(), models.Task{ID: "t1"}, src, progress.NopSink{}); !faults.IsValidation(err) {
		t.Fatalf("expected validation error got %v", err)
	}
	syncHandler := NewLDESSyncHandler(rt, "ldes-consumer-")
	if _, err := syncHandler.Run(context.Background(), models.Task{ID: "t2"}, src, progress.NopSink{}); !faults.IsValidation(err) {
		t.Fatalf("expected validation error got %v", err)
	}
}
