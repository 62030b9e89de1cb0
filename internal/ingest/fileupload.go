package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/knakk/rdf"

	"vocab-ingest/internal/blob"
	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/triplestore"
)

// FileUploadHandler loads an uploaded RDF document into the source's named
// graph, replacing whatever the graph held before, then chains a
// triplestore_sync task so the relational term tables catch up.
type FileUploadHandler struct {
	blobs     blob.Storage
	sparql    *triplestore.Client
	followUp  FollowUp
	batchSize int
}

// NewFileUploadHandler wires the handler; batchSize bounds each INSERT DATA
// statement sent to the triple store.
func NewFileUploadHandler(blobs blob.Storage, sparql *triplestore.Client, followUp FollowUp, batchSize int) *FileUploadHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &FileUploadHandler{blobs: blobs, sparql: sparql, followUp: followUp, batchSize: batchSize}
}

func (h *FileUploadHandler) Type() models.TaskType { return models.TypeFileUpload }

func (h *FileUploadHandler) Run(ctx context.Context, task models.Task, source *models.Source, sink progress.Sink) (progress.Summary, error) {
	var summary progress.Summary
	if source == nil {
		return summary, faults.Validationf("file_upload task %s has no source", task.ID)
	}
	key, _ := task.Metadata["blob_key"].(string)
	if key == "" {
		return summary, faults.Validationf("file_upload task %s has no blob_key in metadata", task.ID)
	}
	filename, _ := task.Metadata["filename"].(string)
	if filename == "" {
		filename = key
	}

	format, err := formatForFilename(filename)
	if err != nil {
		return summary, err
	}
	body, err := h.blobs.Get(ctx, key)
	if err != nil {
		return summary, err
	}

	graph := source.Graph()
	sink.Info(fmt.Sprintf("loading %s into graph %s", filename, graph))
	if err := h.sparql.DropGraph(ctx, graph); err != nil {
		return summary, err
	}

	dec := rdf.NewTripleDecoder(bytes.NewReader(body), format)
	batch := make([]rdf.Triple, 0, h.batchSize)
	loaded := 0
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		t, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summary, faults.Validationf("parse %s: %v", filename, err)
		}
		batch = append(batch, t)
		if len(batch) == h.batchSize {
			if err := h.sparql.InsertTriples(ctx, graph, batch); err != nil {
				return summary, err
			}
			loaded += len(batch)
			batch = batch[:0]
			sink.Progress(fmt.Sprintf("loaded %d triples", loaded), map[string]any{"triples": loaded})
		}
	}
	if len(batch) > 0 {
		if err := h.sparql.InsertTriples(ctx, graph, batch); err != nil {
			return summary, err
		}
		loaded += len(batch)
	}
	sink.Info(fmt.Sprintf("loaded %d triples into %s", loaded, graph))

	// The relational side only needs a refresh when a translation
	// configuration scopes the sync to an RDF class.
	if source.RDFType() != "" {
		next, err := h.followUp.EnqueueTask(ctx, models.TypeTriplestoreSync, source.ID, map[string]any{
			"triggered_by": task.ID,
		}, "system")
		if err != nil {
			sink.Warning("could not enqueue triplestore_sync: " + err.Error())
		} else {
			sink.Info("enqueued triplestore_sync task " + next.ID)
		}
	}
	return summary, nil
}

func formatForFilename(name string) (rdf.Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ttl", ".turtle":
		return rdf.Turtle, nil
	case ".nt":
		return rdf.NTriples, nil
	case ".rdf", ".xml", ".owl":
		return rdf.RDFXML, nil
	default:
		return 0, faults.Validationf("unsupported RDF file extension on %q (want .ttl, .nt, .rdf or .xml)", name)
	}
}
