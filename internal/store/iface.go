package store

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound means the task id does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrConflict means a conditional update lost a race: the task's status or
	// assignee changed between the caller's read and the write. Callers re-read
	// and retry; nothing was written.
	ErrConflict = errors.New("task changed concurrently")
)

// TaskFilter selects tasks for ListTasks. Zero value lists everything.
type TaskFilter struct {
	Statuses   []string // restrict to these statuses
	Unassigned bool     // only tasks with assigned_to IS NULL
	AssignedTo string   // only tasks assigned to this worker
	Limit      int      // 0 means models.DefaultTaskListLimit
}

// TaskExpect is the precondition for ConditionalUpdate. Status is always
// required; at most one of Unassigned / AssignedTo is set.
type TaskExpect struct {
	Status     string
	Unassigned bool    // require assigned_to IS NULL
	AssignedTo *string // require assigned_to = *AssignedTo
}

// TaskMutation is the complete target state written by ConditionalUpdate.
// The engine always supplies every mutable field; nil pointers write NULL.
type TaskMutation struct {
	Status      string
	AssignedTo  *string
	AssignedBy  *string
	ReturnStage *string
	Deliverable *Deliverable // optional: inserted in the same transaction
}

// Store is the persistence interface for tasks, deliverables, and the audit log.
// Implementations: the SQLite store in this package and *postgres.Store.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, submissionRef string) (int64, error)
	GetTask(ctx context.Context, taskID int64) (*Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, error)

	// ConditionalUpdate applies mut to the task only if expect still holds, and
	// commits the task row, the optional deliverable, and the audit entry as one
	// transaction. Returns ErrNotFound if the task does not exist, ErrConflict
	// if expect no longer holds. On any insert failure the whole transaction
	// rolls back: a task is never updated without its audit entry.
	ConditionalUpdate(ctx context.Context, taskID int64, expect TaskExpect, mut TaskMutation, entry AuditEntry) (*Task, error)

	// Deliverables and audit trail (read side)
	ListDeliverables(ctx context.Context, taskID int64) ([]Deliverable, error)
	ListAuditLog(ctx context.Context, taskID int64) ([]AuditEntry, error)

	// CountTasksByStatus returns task counts keyed by status, for metrics.
	CountTasksByStatus(ctx context.Context) (map[string]int64, error)

	Close() error
}
