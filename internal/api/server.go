// Package api exposes the HTTP surface: source administration, task
// creation and inspection, scheduler management, and live progress streams.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"vocab-ingest/internal/blob"
	"vocab-ingest/internal/config"
	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/ratelimit"
	"vocab-ingest/internal/store"
	"vocab-ingest/internal/telemetry"
)

// Registry is the store surface the API reads and writes.
type Registry interface {
	CreateSource(ctx context.Context, p store.CreateSourceParams) (models.Source, error)
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	UpdateSourceConfig(ctx context.Context, id string, cfg store.SourceConfig) error

	GetTask(ctx context.Context, id string) (models.Task, error)
	ListTasks(ctx context.Context, f store.TaskFilter) ([]models.Task, error)
	TaskStats(ctx context.Context) (models.TaskStats, error)
	TransitionTask(ctx context.Context, id string, from, to models.TaskStatus, opts store.TransitionOpts) error
	SetCancelRequested(ctx context.Context, id string) error
	GetRunningTaskForSource(ctx context.Context, sourceID string) (*models.Task, error)

	ListSchedulers(ctx context.Context) ([]models.TaskScheduler, error)
	CreateScheduler(ctx context.Context, p store.CreateSchedulerParams) (models.TaskScheduler, error)
	GetScheduler(ctx context.Context, id string) (*models.TaskScheduler, error)
	SetSchedulerEnabled(ctx context.Context, id string, enabled bool, nextRun *time.Time) error
	DeleteScheduler(ctx context.Context, id string) error
}

// TaskEnqueuer creates task rows and makes them visible to workers.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, taskType models.TaskType, sourceID string, metadata map[string]any, createdBy string) (models.Task, error)
}

// TaskQueue is the queue slice used when cancelling pending tasks.
type TaskQueue interface {
	Remove(ctx context.Context, taskID string) error
}

// Server wires HTTP handlers over the store, queue, and progress hub.
type Server struct {
	cfg      config.Config
	store    Registry
	enqueuer TaskEnqueuer
	queue    TaskQueue
	hub      *progress.Hub
	blobs    blob.Storage
	limiter  *ratelimit.Limiter
	log      *zap.SugaredLogger
}

// New constructs the API server.
func New(cfg config.Config, st Registry, enq TaskEnqueuer, q TaskQueue, hub *progress.Hub, blobs blob.Storage, limiter *ratelimit.Limiter, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		enqueuer: enq,
		queue:    q,
		hub:      hub,
		blobs:    blobs,
		limiter:  limiter,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/sources", s.handleCreateSource)
		r.Get("/sources", s.handleListSources)
		r.Post("/sources/upload", s.handleUploadSource)
		r.Get("/sources/{id}", s.handleGetSource)
		r.Put("/sources/{id}/config", s.handleUpdateSourceConfig)
		r.Post("/sources/{id}/sync-terms", s.handleSyncTerms)

		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/stats", s.handleTaskStats)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)
		r.Get("/tasks/{id}/stream", s.handleStreamTask)

		r.Get("/schedulers", s.handleListSchedulers)
		r.Post("/schedulers", s.handleCreateScheduler)
		r.Put("/schedulers/{id}/enabled", s.handleToggleScheduler)
		r.Delete("/schedulers/{id}", s.handleDeleteScheduler)
	})
	return r
}

// allowRequest applies the shared rate limit to task-creating endpoints.
func (s *Server) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
	if err != nil {
		// Redis hiccups must not block writes; log and let the request pass.
		s.log.Warnw("rate limiter unavailable", "error", err)
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the fault taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case faults.IsValidation(err):
		status = http.StatusBadRequest
	case faults.IsNotFound(err):
		status = http.StatusNotFound
	case faults.IsConflict(err):
		status = http.StatusConflict
	case faults.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case faults.IsExternalService(err):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
