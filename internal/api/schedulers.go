package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/scheduler"
	"vocab-ingest/internal/store"
)

func (s *Server) handleListSchedulers(w http.ResponseWriter, r *http.Request) {
	schedulers, err := s.store.ListSchedulers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if schedulers == nil {
		schedulers = []models.TaskScheduler{}
	}
	writeJSON(w, http.StatusOK, schedulers)
}

type createSchedulerRequest struct {
	Name     string                `json:"name"`
	TaskType models.TaskType       `json:"task_type"`
	Schedule models.ScheduleConfig `json:"schedule_config"`
	SourceID string                `json:"source_id"`
}

func (s *Server) handleCreateScheduler(w http.ResponseWriter, r *http.Request) {
	var req createSchedulerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := scheduler.ParseScheduleConfig(req.Schedule); err != nil {
		writeError(w, err)
		return
	}
	now := time.Now().UTC()
	next, err := scheduler.Next(req.Schedule, now, now)
	if err != nil {
		writeError(w, err)
		return
	}
	sched, err := s.store.CreateScheduler(r.Context(), store.CreateSchedulerParams{
		Name:      req.Name,
		TaskType:  req.TaskType,
		Schedule:  req.Schedule,
		SourceID:  req.SourceID,
		NextRun:   next,
		CreatedBy: createdBy(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

type toggleSchedulerRequest struct {
	Enabled bool `json:"enabled"`
}

// handleToggleScheduler enables or disables a scheduler. Disabling freezes
// next_run; re-enabling resumes the cadence from now, skipping every run
// that would have fired while disabled.
func (s *Server) handleToggleScheduler(w http.ResponseWriter, r *http.Request) {
	var req toggleSchedulerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")

	var nextRun *time.Time
	if req.Enabled {
		sched, err := s.store.GetScheduler(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		now := time.Now().UTC()
		next, err := scheduler.Next(sched.Schedule, now, now)
		if err != nil {
			writeError(w, err)
			return
		}
		nextRun = &next
	}
	if err := s.store.SetSchedulerEnabled(r.Context(), id, req.Enabled, nextRun); err != nil {
		writeError(w, err)
		return
	}
	sched, err := s.store.GetScheduler(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleDeleteScheduler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduler(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
