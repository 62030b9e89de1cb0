package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vocab-ingest/internal/config"
	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/ingest"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/store"
	"vocab-ingest/internal/telemetry"
)

type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	sources   map[string]*models.Source
	cancelled map[string]bool
	logs      []string

	// hideRunning makes GetRunningTaskForSource report an idle source even
	// while a running task exists, simulating a stale read in the window
	// between the exclusivity check and the claim.
	hideRunning bool
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:     make(map[string]*models.Task),
		sources:   make(map[string]*models.Source),
		cancelled: make(map[string]bool),
	}
}

func (f *fakeTaskStore) GetTask(_ context.Context, id string) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return models.Task{}, faults.NotFoundf("task %s not found", id)
	}
	return *task, nil
}

func (f *fakeTaskStore) TransitionTask(_ context.Context, id string, from, to models.TaskStatus, opts store.TransitionOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return faults.NotFoundf("task %s not found", id)
	}
	if !models.CanTransition(from, to) || task.Status != from {
		return faults.Conflictf("task %s is %s, cannot apply %s -> %s", id, task.Status, from, to)
	}
	task.Status = to
	if opts.Error != "" {
		msg := opts.Error
		task.ErrorMessage = &msg
	}
	if opts.Metadata != nil {
		task.Metadata = opts.Metadata
	}
	return nil
}

func (f *fakeTaskStore) ClaimTask(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok || task.Status != models.StatusPending {
		return false, nil
	}
	if task.SourceID != nil {
		for _, other := range f.tasks {
			if other.ID != id && other.SourceID != nil && *other.SourceID == *task.SourceID && other.Status == models.StatusRunning {
				return false, nil
			}
		}
	}
	task.Status = models.StatusRunning
	return true, nil
}

func (f *fakeTaskStore) GetRunningTaskForSource(_ context.Context, sourceID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hideRunning {
		return nil, nil
	}
	for _, task := range f.tasks {
		if task.SourceID != nil && *task.SourceID == sourceID && task.Status == models.StatusRunning {
			t := *task
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeTaskStore) CancelRequested(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[id], nil
}

func (f *fakeTaskStore) AppendTaskLog(_ context.Context, id, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, id+": "+line)
	return nil
}

func (f *fakeTaskStore) GetSource(_ context.Context, id string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.sources[id]
	if !ok {
		return nil, faults.NotFoundf("source %s not found", id)
	}
	return src, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	acks     []string
	deferred []string
	ready    int64
	inflight int64
}

func (f *fakeQueue) DequeueWithLease(context.Context) (string, error) { return "", nil }
func (f *fakeQueue) ExtendLease(context.Context, string, time.Duration) error {
	return nil
}
func (f *fakeQueue) Ack(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, taskID)
	return nil
}
func (f *fakeQueue) Defer(_ context.Context, taskID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, taskID)
	return nil
}
func (f *fakeQueue) PromoteDeferred(context.Context, time.Time, int64) (int, error) {
	return 0, nil
}
func (f *fakeQueue) RequeueExpired(context.Context, time.Time, int64) ([]string, error) {
	return nil, nil
}
func (f *fakeQueue) ReadyDepth(context.Context) (int64, error)    { return f.ready, nil }
func (f *fakeQueue) InFlightDepth(context.Context) (int64, error) { return f.inflight, nil }

type stubHandler struct {
	typ models.TaskType
	fn  func(ctx context.Context) (progress.Summary, error)
}

func (h stubHandler) Type() models.TaskType { return h.typ }
func (h stubHandler) Run(ctx context.Context, _ models.Task, _ *models.Source, _ progress.Sink) (progress.Summary, error) {
	return h.fn(ctx)
}

func testConfig() config.Config {
	return config.Config{
		WorkerCount:        1,
		WorkerPollInterval: 10 * time.Millisecond,
		VisibilityTimeout:  time.Second,
		DeferRetryDelay:    10 * time.Millisecond,
		DeferredBatchSize:  10,
		CancelPollInterval: 10 * time.Millisecond,
		DefaultTaskTimeout: 100 * time.Millisecond,
		HarvestTimeout:     time.Second,
		FileUploadTimeout:  time.Second,
		SyncTimeout:        time.Second,
		LDESTimeout:        time.Second,
	}
}

func newTestExecutor(t *testing.T, st *fakeTaskStore, q *fakeQueue, handler ingest.Handler) *Executor {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	hub := progress.NewHubWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop().Sugar())

	registry := ingest.NewRegistry()
	registry.Register(handler)
	return New(st, q, registry, hub, testConfig(), zap.NewNop().Sugar())
}

func pendingTask(st *fakeTaskStore, id string, typ models.TaskType, sourceID string) {
	task := &models.Task{ID: id, Type: typ, Status: models.StatusPending}
	if sourceID != "" {
		task.SourceID = &sourceID
	}
	st.tasks[id] = task
}

func TestProcessCompletesTask(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{}
	pendingTask(st, "t1", models.TypeOther, "")

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeOther, fn: func(context.Context) (progress.Summary, error) {
		return progress.Summary{TermsInserted: 7}, nil
	}})
	e.process(context.Background(), "t1")

	task := st.tasks["t1"]
	if task.Status != models.StatusCompleted {
		t.Fatalf("expected completed got %s", task.Status)
	}
	summary, ok := task.Metadata["summary"].(map[string]any)
	if !ok || summary["termsInserted"] != 7 {
		t.Fatalf("expected summary in metadata got %+v", task.Metadata)
	}
	if len(q.acks) != 1 {
		t.Fatalf("expected one ack got %v", q.acks)
	}
}

func TestProcessDefersWhenSourceBusy(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{}
	st.sources["src-1"] = &models.Source{ID: "src-1", Type: models.SourceLDES}
	pendingTask(st, "t1", models.TypeOther, "src-1")
	running := "src-1"
	st.tasks["busy"] = &models.Task{ID: "busy", Status: models.StatusRunning, SourceID: &running}

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeOther, fn: func(context.Context) (progress.Summary, error) {
		t.Fatal("handler must not run while source is busy")
		return progress.Summary{}, nil
	}})
	e.process(context.Background(), "t1")

	if st.tasks["t1"].Status != models.StatusPending {
		t.Fatalf("expected task to stay pending got %s", st.tasks["t1"].Status)
	}
	if len(q.deferred) != 1 || q.deferred[0] != "t1" {
		t.Fatalf("expected deferral got %v", q.deferred)
	}
	if len(q.acks) != 0 {
		t.Fatalf("deferred task must keep its delivery pending, got acks %v", q.acks)
	}
}

func TestProcessDefersWhenClaimLosesSourceRace(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{}
	st.sources["src-1"] = &models.Source{ID: "src-1", Type: models.SourceLDES}
	pendingTask(st, "t1", models.TypeOther, "src-1")
	running := "src-1"
	st.tasks["busy"] = &models.Task{ID: "busy", Status: models.StatusRunning, SourceID: &running}
	st.hideRunning = true

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeOther, fn: func(context.Context) (progress.Summary, error) {
		t.Fatal("handler must not run while the source is claimed")
		return progress.Summary{}, nil
	}})
	e.process(context.Background(), "t1")

	if st.tasks["t1"].Status != models.StatusPending {
		t.Fatalf("expected task to stay pending got %s", st.tasks["t1"].Status)
	}
	if len(q.deferred) != 1 || q.deferred[0] != "t1" {
		t.Fatalf("expected deferral got %v", q.deferred)
	}
}

func TestMaintainSetsQueueGauges(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{ready: 3, inflight: 2}

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeOther, fn: func(context.Context) (progress.Summary, error) {
		return progress.Summary{}, nil
	}})
	e.maintain(context.Background(), time.Now())

	if got := testutil.ToFloat64(telemetry.QueueDepthGauge); got != 3 {
		t.Fatalf("expected ready depth gauge 3 got %v", got)
	}
	if got := testutil.ToFloat64(telemetry.InFlightGauge); got != 2 {
		t.Fatalf("expected inflight gauge 2 got %v", got)
	}
}

func TestProcessFailsTaskWithHandlerError(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{}
	pendingTask(st, "t1", models.TypeOther, "")

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeOther, fn: func(context.Context) (progress.Summary, error) {
		return progress.Summary{}, errors.New("upstream exploded")
	}})
	e.process(context.Background(), "t1")

	task := st.tasks["t1"]
	if task.Status != models.StatusFailed {
		t.Fatalf("expected failed got %s", task.Status)
	}
	if task.ErrorMessage == nil || *task.ErrorMessage != "upstream exploded" {
		t.Fatalf("expected verbatim handler error got %v", task.ErrorMessage)
	}
}

func TestProcessTimesOutSlowHandler(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{}
	pendingTask(st, "t1", models.TypeOther, "")

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeOther, fn: func(ctx context.Context) (progress.Summary, error) {
		<-ctx.Done()
		return progress.Summary{}, ctx.Err()
	}})
	e.process(context.Background(), "t1")

	task := st.tasks["t1"]
	if task.Status != models.StatusFailed {
		t.Fatalf("expected failed got %s", task.Status)
	}
	if task.ErrorMessage == nil || !strings.Contains(*task.ErrorMessage, "timed out") {
		t.Fatalf("expected timeout message got %v", task.ErrorMessage)
	}
}

func TestProcessCancelsCooperatively(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{}
	pendingTask(st, "t1", models.TypeHarvest, "")
	st.mu.Lock()
	st.cancelled["t1"] = true
	st.mu.Unlock()

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeHarvest, fn: func(ctx context.Context) (progress.Summary, error) {
		// Simulates a handler honoring ctx between batches.
		<-ctx.Done()
		return progress.Summary{}, ctx.Err()
	}})
	e.process(context.Background(), "t1")

	if st.tasks["t1"].Status != models.StatusCancelled {
		t.Fatalf("expected cancelled got %s", st.tasks["t1"].Status)
	}
}

func TestProcessSkipsAlreadyClaimedTask(t *testing.T) {
	st := newFakeTaskStore()
	q := &fakeQueue{}
	st.tasks["t1"] = &models.Task{ID: "t1", Type: models.TypeOther, Status: models.StatusRunning}

	e := newTestExecutor(t, st, q, stubHandler{typ: models.TypeOther, fn: func(context.Context) (progress.Summary, error) {
		t.Fatal("handler must not run for a claimed task")
		return progress.Summary{}, nil
	}})
	e.process(context.Background(), "t1")

	if len(q.acks) != 1 {
		t.Fatalf("expected duplicate delivery acked got %v", q.acks)
	}
}
