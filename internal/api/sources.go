package api

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/store"
)

type createSourceRequest struct {
	Path      string            `json:"source_path"`
	Type      models.SourceType `json:"source_type"`
	GraphName string            `json:"graph_name"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	src, err := s.store.CreateSource(r.Context(), store.CreateSourceParams{
		Path:      req.Path,
		Type:      req.Type,
		GraphName: req.GraphName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// handleUploadSource accepts a multipart RDF document, registers a
// Static_file source for it, stores the document, and enqueues the
// file_upload task that loads it into the triple store.
func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	if !s.allowRequest(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes)
	if err := r.ParseMultipartForm(s.cfg.UploadMaxBytes); err != nil {
		http.Error(w, "upload too large or malformed", http.StatusRequestEntityTooLarge)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	body, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	src, err := s.store.CreateSource(r.Context(), store.CreateSourceParams{
		Path:      header.Filename,
		Type:      models.SourceStaticFile,
		GraphName: r.FormValue("graph_name"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	key := src.ID + "/" + time.Now().UTC().Format("20060102T150405") + filepath.Ext(header.Filename)
	location, err := s.blobs.Put(r.Context(), key, body, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := s.enqueuer.EnqueueTask(r.Context(), models.TypeFileUpload, src.ID, map[string]any{
		"blob_key": key,
		"filename": header.Filename,
		"location": location,
	}, createdBy(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"source": src, "task": task})
}

func (s *Server) handleUpdateSourceConfig(w http.ResponseWriter, r *http.Request) {
	var cfg store.SourceConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.UpdateSourceConfig(r.Context(), id, cfg); err != nil {
		writeError(w, err)
		return
	}
	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// handleSyncTerms requests a relational resync for a source. When a task is
// already working the source, that task is returned instead of stacking a
// second one.
func (s *Server) handleSyncTerms(w http.ResponseWriter, r *http.Request) {
	if !s.allowRequest(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	running, err := s.store.GetRunningTaskForSource(r.Context(), src.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if running != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"task": running, "already_running": true})
		return
	}

	taskType := models.TypeTriplestoreSync
	if src.Type == models.SourceLDES {
		taskType = models.TypeLDESSync
	}
	task, err := s.enqueuer.EnqueueTask(r.Context(), taskType, src.ID, nil, createdBy(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
}

func createdBy(r *http.Request) string {
	if u := r.Header.Get("X-User"); u != "" {
		return u
	}
	return "api"
}
