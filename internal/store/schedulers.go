package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
)

const schedulerColumns = `scheduler_id::text, name, task_type, schedule_config, enabled, source_id::text, last_run, next_run, created_by`

// CreateSchedulerParams collects inputs required to insert a scheduler.
// Schedule validation happens before this is called.
type CreateSchedulerParams struct {
	Name      string
	TaskType  models.TaskType
	Schedule  models.ScheduleConfig
	SourceID  string
	NextRun   time.Time
	CreatedBy string
}

// CreateScheduler inserts an enabled scheduler with its first next_run.
func (s *Store) CreateScheduler(ctx context.Context, p CreateSchedulerParams) (models.TaskScheduler, error) {
	if p.Name == "" {
		return models.TaskScheduler{}, faults.Validationf("scheduler name is required")
	}
	if !models.ValidTaskType(p.TaskType) {
		return models.TaskScheduler{}, faults.Validationf("unknown task type %q", p.TaskType)
	}
	cfgJSON, err := json.Marshal(p.Schedule)
	if err != nil {
		return models.TaskScheduler{}, errors.Wrap(err, "marshal schedule config")
	}

	id := uuid.New().String()
	nextRun := p.NextRun.UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO task_schedulers (scheduler_id, name, task_type, schedule_config, enabled, source_id, next_run, created_by)
		VALUES ($1, $2, $3, $4, TRUE, NULLIF($5, '')::uuid, $6, NULLIF($7, ''))
	`, id, p.Name, p.TaskType, cfgJSON, p.SourceID, nextRun, p.CreatedBy)
	if err != nil {
		return models.TaskScheduler{}, errors.Wrap(err, "insert scheduler")
	}
	return models.TaskScheduler{
		ID:        id,
		Name:      p.Name,
		TaskType:  p.TaskType,
		Schedule:  p.Schedule,
		Enabled:   true,
		SourceID:  emptyToNil(p.SourceID),
		NextRun:   &nextRun,
		CreatedBy: emptyToNil(p.CreatedBy),
	}, nil
}

// GetScheduler fetches a scheduler by id.
func (s *Store) GetScheduler(ctx context.Context, id string) (*models.TaskScheduler, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+schedulerColumns+` FROM task_schedulers WHERE scheduler_id = $1`, id)
	sched, err := scanScheduler(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.NotFoundf("scheduler %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan scheduler")
	}
	return &sched, nil
}

// ListSchedulers returns all schedulers.
func (s *Store) ListSchedulers(ctx context.Context) ([]models.TaskScheduler, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+schedulerColumns+` FROM task_schedulers ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list schedulers")
	}
	defer rows.Close()
	var out []models.TaskScheduler
	for rows.Next() {
		sched, err := scanScheduler(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan scheduler")
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// DueSchedulers returns enabled schedulers whose next_run has passed.
// Disabled schedulers never surface here, so their next_run stays frozen.
func (s *Store) DueSchedulers(ctx context.Context, now time.Time) ([]models.TaskScheduler, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+schedulerColumns+` FROM task_schedulers
		WHERE enabled AND next_run IS NOT NULL AND next_run <= $1
		ORDER BY next_run
	`, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "list due schedulers")
	}
	defer rows.Close()
	var out []models.TaskScheduler
	for rows.Next() {
		sched, err := scanScheduler(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan scheduler")
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// ClaimScheduler advances next_run with a conditional update keyed on the
// previously observed next_run. Exactly one concurrent daemon tick wins the
// claim; everyone else sees zero rows and moves on.
func (s *Store) ClaimScheduler(ctx context.Context, id string, prevNext, newNext, lastRun time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE task_schedulers SET next_run = $3, last_run = $4
		WHERE scheduler_id = $1 AND enabled AND next_run = $2
	`, id, prevNext.UTC(), newNext.UTC(), lastRun.UTC())
	if err != nil {
		return false, errors.Wrap(err, "claim scheduler")
	}
	return tag.RowsAffected() == 1, nil
}

// SetSchedulerEnabled toggles a scheduler. Disabling freezes next_run as-is;
// enabling resumes with a fresh next_run computed by the caller from now.
func (s *Store) SetSchedulerEnabled(ctx context.Context, id string, enabled bool, nextRun *time.Time) error {
	var next any
	if nextRun != nil {
		next = nextRun.UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE task_schedulers SET enabled = $2, next_run = COALESCE($3, next_run)
		WHERE scheduler_id = $1
	`, id, enabled, next)
	if err != nil {
		return errors.Wrap(err, "toggle scheduler")
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFoundf("scheduler %s not found", id)
	}
	return nil
}

// DeleteScheduler removes a scheduler.
func (s *Store) DeleteScheduler(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_schedulers WHERE scheduler_id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete scheduler")
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFoundf("scheduler %s not found", id)
	}
	return nil
}

func scanScheduler(row pgx.Row) (models.TaskScheduler, error) {
	var (
		sched     models.TaskScheduler
		cfgJSON   []byte
		sourceID  pgtype.Text
		lastRun   pgtype.Timestamptz
		nextRun   pgtype.Timestamptz
		createdBy pgtype.Text
	)
	if err := row.Scan(&sched.ID, &sched.Name, &sched.TaskType, &cfgJSON, &sched.Enabled, &sourceID, &lastRun, &nextRun, &createdBy); err != nil {
		return models.TaskScheduler{}, err
	}
	if err := json.Unmarshal(cfgJSON, &sched.Schedule); err != nil {
		return models.TaskScheduler{}, errors.Wrap(err, "unmarshal schedule config")
	}
	sched.SourceID = textPtr(sourceID)
	sched.CreatedBy = textPtr(createdBy)
	if lastRun.Valid {
		t := lastRun.Time
		sched.LastRun = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		sched.NextRun = &t
	}
	return sched, nil
}
