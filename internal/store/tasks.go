package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
)

const taskColumns = `task_id::text, task_type, status, source_id::text, created_at, started_at, completed_at, error_message, metadata, logs, cancel_requested, created_by`

// CreateTaskParams collects inputs required to insert a task.
type CreateTaskParams struct {
	Type      models.TaskType
	SourceID  string
	Metadata  map[string]any
	CreatedBy string
}

// CreateTask inserts a task row in pending state. Unknown types and missing
// sources are rejected with a validation error before anything is written.
func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (models.Task, error) {
	if !models.ValidTaskType(p.Type) {
		return models.Task{}, faults.Validationf("unknown task type %q", p.Type)
	}
	if p.SourceID != "" {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sources WHERE source_id = $1)`, p.SourceID).Scan(&exists); err != nil {
			return models.Task{}, errors.Wrap(err, "check source")
		}
		if !exists {
			return models.Task{}, faults.Validationf("source %s does not exist", p.SourceID)
		}
	}

	var metadataJSON []byte
	if p.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(p.Metadata)
		if err != nil {
			return models.Task{}, errors.Wrap(err, "marshal metadata")
		}
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, task_type, status, source_id, created_at, metadata, created_by)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, NULLIF($7, ''))
	`, id, p.Type, models.StatusPending, p.SourceID, now, metadataJSON, p.CreatedBy)
	if err != nil {
		return models.Task{}, errors.Wrap(err, "insert task")
	}

	return models.Task{
		ID:        id,
		Type:      p.Type,
		Status:    models.StatusPending,
		SourceID:  emptyToNil(p.SourceID),
		CreatedAt: now,
		Metadata:  p.Metadata,
		CreatedBy: emptyToNil(p.CreatedBy),
	}, nil
}

// TransitionOpts carries the optional effects of a status transition.
type TransitionOpts struct {
	Error     string
	LogAppend string
	Metadata  map[string]any
}

// TransitionTask applies a status transition as one conditional UPDATE. The
// WHERE clause on the current status is what keeps two executors from both
// believing they claimed the same task; losing the race yields a conflict
// error, never a second running task.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to models.TaskStatus, opts TransitionOpts) error {
	if !models.CanTransition(from, to) {
		return faults.Conflictf("invalid transition %s -> %s", from, to)
	}

	var metadataJSON []byte
	if opts.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(opts.Metadata)
		if err != nil {
			return errors.Wrap(err, "marshal metadata")
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET
			status = $2,
			started_at = CASE WHEN $2 = 'running' THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END,
			error_message = COALESCE(NULLIF($3, ''), error_message),
			logs = CASE WHEN $4 <> '' THEN logs || $4 || E'\n' ELSE logs END,
			metadata = COALESCE($6::jsonb, metadata)
		WHERE task_id = $1 AND status = $5
	`, id, to, opts.Error, opts.LogAppend, from, metadataJSON)
	if err != nil {
		return errors.Wrap(err, "transition task")
	}
	if tag.RowsAffected() == 0 {
		current, getErr := s.GetTask(ctx, id)
		if getErr != nil {
			return getErr
		}
		return faults.Conflictf("task %s is %s, cannot apply %s -> %s", id, current.Status, from, to)
	}
	return nil
}

// ClaimTask moves a pending task to running. The NOT EXISTS guard folds the
// per-source exclusivity check into the claim itself: two workers holding
// different pending tasks for the same source cannot both win, even when
// both observed an idle source a moment earlier. A false return means the
// task is no longer pending or its source is occupied; the caller decides
// between acking and deferring.
func (s *Store) ClaimTask(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET
			status = 'running',
			started_at = NOW(),
			logs = logs || 'info: task started' || E'\n'
		WHERE task_id = $1 AND status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM tasks other
			WHERE other.source_id = tasks.source_id AND other.status = 'running'
		  )
	`, id)
	if err != nil {
		return false, errors.Wrap(err, "claim task")
	}
	return tag.RowsAffected() == 1, nil
}

// AppendTaskLog adds one line to the task's append-only log text.
func (s *Store) AppendTaskLog(ctx context.Context, id, line string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET logs = logs || $2 || E'\n' WHERE task_id = $1
	`, id, line)
	return err
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, faults.NotFoundf("task %s not found", id)
	}
	if err != nil {
		return models.Task{}, errors.Wrap(err, "scan task")
	}
	return task, nil
}

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	Status   models.TaskStatus
	Type     models.TaskType
	SourceID string
	Limit    int
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("task_type = $%d", len(args)))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// GetRunningTaskForSource returns the running task owning the source, or nil.
// This is the mutual-exclusion probe for per-source exclusivity.
func (s *Store) GetRunningTaskForSource(ctx context.Context, sourceID string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE source_id = $1 AND status = 'running'
		ORDER BY started_at DESC LIMIT 1
	`, sourceID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan running task")
	}
	return &task, nil
}

// TaskStats returns counts grouped by status and by type.
func (s *Store) TaskStats(ctx context.Context) (models.TaskStats, error) {
	stats := models.TaskStats{
		ByStatus: make(map[models.TaskStatus]int),
		ByType:   make(map[models.TaskType]int),
	}
	rows, err := s.pool.Query(ctx, `SELECT status, task_type, COUNT(*) FROM tasks GROUP BY status, task_type`)
	if err != nil {
		return stats, errors.Wrap(err, "task stats")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status models.TaskStatus
			typ    models.TaskType
			n      int
		)
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return stats, errors.Wrap(err, "scan stats")
		}
		stats.ByStatus[status] += n
		stats.ByType[typ] += n
		stats.Total += n
	}
	return stats, rows.Err()
}

// SetCancelRequested flags a running task for cooperative cancellation. The
// executor's watcher observes the flag between handler batches.
func (s *Store) SetCancelRequested(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET cancel_requested = TRUE WHERE task_id = $1 AND status = 'running'
	`, id)
	if err != nil {
		return errors.Wrap(err, "set cancel_requested")
	}
	if tag.RowsAffected() == 0 {
		return faults.Conflictf("task %s is not running", id)
	}
	return nil
}

// CancelRequested reports whether cancellation has been requested for a task.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var v bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM tasks WHERE task_id = $1`, id).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, faults.NotFoundf("task %s not found", id)
	}
	return v, err
}

func scanTask(row pgx.Row) (models.Task, error) {
	var (
		task         models.Task
		sourceID     pgtype.Text
		startedAt    pgtype.Timestamptz
		completedAt  pgtype.Timestamptz
		errMsg       pgtype.Text
		metadataJSON []byte
		createdBy    pgtype.Text
	)
	if err := row.Scan(&task.ID, &task.Type, &task.Status, &sourceID, &task.CreatedAt,
		&startedAt, &completedAt, &errMsg, &metadataJSON, &task.Logs, &task.CancelRequested, &createdBy); err != nil {
		return models.Task{}, err
	}
	task.SourceID = textPtr(sourceID)
	task.ErrorMessage = textPtr(errMsg)
	task.CreatedBy = textPtr(createdBy)
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &task.Metadata); err != nil {
			return models.Task{}, errors.Wrap(err, "unmarshal metadata")
		}
	}
	return task, nil
}
