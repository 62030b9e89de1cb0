package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/store"
	"vocab-ingest/internal/telemetry"
)

type createTaskRequest struct {
	Type     models.TaskType `json:"task_type"`
	SourceID string          `json:"source_id"`
	Metadata map[string]any  `json:"metadata"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.allowRequest(w, r) {
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	task, err := s.enqueuer.EnqueueTask(r.Context(), req.Type, req.SourceID, req.Metadata, createdBy(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	tasks, err := s.store.ListTasks(r.Context(), store.TaskFilter{
		Status:   models.TaskStatus(q.Get("status")),
		Type:     models.TaskType(q.Get("task_type")),
		SourceID: q.Get("source_id"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TaskStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCancelTask cancels a task. Pending tasks go terminal immediately and
// leave the queue; running tasks get the cancel_requested flag and finish
// cooperatively when the executor's watcher observes it.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	switch task.Status {
	case models.StatusPending:
		err := s.store.TransitionTask(r.Context(), id, models.StatusPending, models.StatusCancelled, store.TransitionOpts{
			LogAppend: "info: cancelled before start",
		})
		if err != nil {
			writeError(w, err)
			return
		}
		telemetry.TasksCancelled.Inc()
		if err := s.queue.Remove(r.Context(), id); err != nil {
			s.log.Warnw("remove cancelled task from queue", "task", id, "error", err)
		}
		task, _ = s.store.GetTask(r.Context(), id)
		writeJSON(w, http.StatusOK, task)

	case models.StatusRunning:
		if err := s.store.SetCancelRequested(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "cancel_requested": true})

	default:
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "task is already " + string(task.Status),
		})
	}
}
