package models

import (
	"time"
)

// TaskStatus enumerates task lifecycle states persisted in Postgres.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// TaskType enumerates the ingestion operations the executor can dispatch.
type TaskType string

const (
	TypeFileUpload      TaskType = "file_upload"
	TypeLDESSync        TaskType = "ldes_sync"
	TypeLDESFeed        TaskType = "ldes_feed"
	TypeTriplestoreSync TaskType = "triplestore_sync"
	TypeHarvest         TaskType = "harvest"
	TypeOther           TaskType = "other"
)

// ValidTaskType reports whether t names a known task type.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TypeFileUpload, TypeLDESSync, TypeLDESFeed, TypeTriplestoreSync, TypeHarvest, TypeOther:
		return true
	default:
		return false
	}
}

// transitions is the task state machine. Terminal states have no outgoing edges,
// so a finished task can never be observed running again.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status is sticky (no further transitions).
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one execution attempt of an ingestion or sync operation.
type Task struct {
	ID              string         `json:"task_id"`
	Type            TaskType       `json:"task_type"`
	Status          TaskStatus     `json:"status"`
	SourceID        *string        `json:"source_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Logs            string         `json:"logs,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	CreatedBy       *string        `json:"created_by,omitempty"`
}

// TaskStats aggregates task counts grouped by status and by type.
type TaskStats struct {
	ByStatus map[TaskStatus]int `json:"by_status"`
	ByType   map[TaskType]int   `json:"by_type"`
	Total    int                `json:"total"`
}
