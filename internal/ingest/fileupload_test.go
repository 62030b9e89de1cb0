package ingest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"vocab-ingest/internal/blob"
	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/triplestore"
)

type fakeFollowUp struct {
	mu    sync.Mutex
	tasks []models.TaskType
}

func (f *fakeFollowUp) EnqueueTask(_ context.Context, taskType models.TaskType, _ string, _ map[string]any, _ string) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, taskType)
	return models.Task{ID: "followup-1", Type: taskType}, nil
}

// updateRecorder captures SPARQL update bodies.
type updateRecorder struct {
	mu      sync.Mutex
	updates []string
}

func (u *updateRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.updates = append(u.updates, string(body))
		u.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const turtleDoc = `@prefix skos: <http://www.w3.org/2004/02/skos/core#> .
<http://example.org/term/1> skos:prefLabel "fiets"@nl .
<http://example.org/term/2> skos:prefLabel "auto"@nl .
`

func uploadTask(key string) models.Task {
	return models.Task{
		ID:   "t1",
		Type: models.TypeFileUpload,
		Metadata: map[string]any{
			"blob_key": key,
			"filename": "vocab.ttl",
		},
	}
}

func uploadSource(withConfig bool) *models.Source {
	src := &models.Source{ID: "src-1", Path: "vocab.ttl", Type: models.SourceStaticFile}
	if withConfig {
		src.TranslationConfig = map[string]any{"rdf_type": "http://www.w3.org/2004/02/skos/core#Concept"}
	}
	return src
}

func TestFileUploadLoadsGraphAndChainsSync(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewLocal(t.TempDir())
	if _, err := blobs.Put(ctx, "src-1/doc.ttl", []byte(turtleDoc), "text/turtle"); err != nil {
		t.Fatalf("put blob: %v", err)
	}

	rec := &updateRecorder{}
	srv := rec.server(t)
	client := triplestore.NewWithEndpoints(srv.URL, srv.URL, zap.NewNop().Sugar())
	followUp := &fakeFollowUp{}
	h := NewFileUploadHandler(blobs, client, followUp, 500)

	_, err := h.Run(ctx, uploadTask("src-1/doc.ttl"), uploadSource(true), progress.NopSink{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(rec.updates) != 2 {
		t.Fatalf("expected drop + insert got %d updates", len(rec.updates))
	}
	if !strings.HasPrefix(rec.updates[0], "DROP SILENT GRAPH") {
		t.Fatalf("expected graph drop first got %q", rec.updates[0])
	}
	if !strings.Contains(rec.updates[1], "INSERT DATA") || !strings.Contains(rec.updates[1], "fiets") {
		t.Fatalf("expected INSERT DATA with triples got %q", rec.updates[1])
	}
	if !strings.Contains(rec.updates[1], "urn:vocab-ingest:source:src-1") {
		t.Fatalf("expected derived graph name in %q", rec.updates[1])
	}

	if len(followUp.tasks) != 1 || followUp.tasks[0] != models.TypeTriplestoreSync {
		t.Fatalf("expected chained triplestore_sync got %v", followUp.tasks)
	}
}

func TestFileUploadSkipsSyncWithoutConfig(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewLocal(t.TempDir())
	if _, err := blobs.Put(ctx, "src-1/doc.ttl", []byte(turtleDoc), "text/turtle"); err != nil {
		t.Fatalf("put blob: %v", err)
	}

	rec := &updateRecorder{}
	srv := rec.server(t)
	client := triplestore.NewWithEndpoints(srv.URL, srv.URL, zap.NewNop().Sugar())
	followUp := &fakeFollowUp{}
	h := NewFileUploadHandler(blobs, client, followUp, 500)

	if _, err := h.Run(ctx, uploadTask("src-1/doc.ttl"), uploadSource(false), progress.NopSink{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(followUp.tasks) != 0 {
		t.Fatalf("expected no follow-up without rdf_type got %v", followUp.tasks)
	}
}

func TestFileUploadRejectsUnknownExtension(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewLocal(t.TempDir())
	h := NewFileUploadHandler(blobs, nil, &fakeFollowUp{}, 500)

	task := uploadTask("src-1/doc.csv")
	task.Metadata["filename"] = "vocab.csv"
	_, err := h.Run(ctx, task, uploadSource(false), progress.NopSink{})
	if !faults.IsValidation(err) {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestFileUploadRequiresBlobKey(t *testing.T) {
	h := NewFileUploadHandler(blob.NewLocal(t.TempDir()), nil, &fakeFollowUp{}, 500)
	task := models.Task{ID: "t1", Type: models.TypeFileUpload}
	_, err := h.Run(context.Background(), task, uploadSource(false), progress.NopSink{})
	if !faults.IsValidation(err) {
		t.Fatalf("expected validation error got %v", err)
	}
}
