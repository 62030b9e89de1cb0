package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/store"
)

type fakeCreator struct {
	created []store.CreateTaskParams
}

func (f *fakeCreator) CreateTask(_ context.Context, p store.CreateTaskParams) (models.Task, error) {
	f.created = append(f.created, p)
	return models.Task{ID: "t-new", Type: p.Type, Status: models.StatusPending}, nil
}

type fakeReadyQueue struct {
	pushes map[string]string
	err    error
}

func (f *fakeReadyQueue) Enqueue(_ context.Context, taskID, priority string) error {
	if f.err != nil {
		return f.err
	}
	if f.pushes == nil {
		f.pushes = make(map[string]string)
	}
	f.pushes[taskID] = priority
	return nil
}

func TestEnqueueTaskMapsTypeToPriority(t *testing.T) {
	cases := []struct {
		taskType models.TaskType
		priority string
	}{
		{models.TypeFileUpload, "interactive"},
		{models.TypeHarvest, "bulk"},
		{models.TypeTriplestoreSync, "default"},
	}
	for _, tc := range cases {
		q := &fakeReadyQueue{}
		enq := NewEnqueuer(&fakeCreator{}, q)
		task, err := enq.EnqueueTask(context.Background(), tc.taskType, "", nil, "tester")
		if err != nil {
			t.Fatalf("%s: %v", tc.taskType, err)
		}
		if q.pushes[task.ID] != tc.priority {
			t.Fatalf("%s: expected priority %s got %s", tc.taskType, tc.priority, q.pushes[task.ID])
		}
	}
}

func TestEnqueueTaskSurfacesPushFailure(t *testing.T) {
	q := &fakeReadyQueue{err: errors.New("redis down")}
	enq := NewEnqueuer(&fakeCreator{}, q)

	task, err := enq.EnqueueTask(context.Background(), models.TypeOther, "", nil, "tester")
	if err == nil || !strings.Contains(err.Error(), "enqueue task") {
		t.Fatalf("expected enqueue failure got %v", err)
	}
	// The pending row was already written; the caller needs its id to retry
	// or cancel, so it rides along with the error.
	if task.ID == "" {
		t.Fatal("expected the created task alongside the error")
	}
}
