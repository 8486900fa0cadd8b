package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ankittk/taskflow/internal/store"
	"github.com/ankittk/taskflow/pkg/models"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `task_id, submission_ref, status, assigned_to, assigned_by, return_stage, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, submissionRef string) (int64, error) {
	now := time.Now().UTC().Unix()
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO tasks(submission_ref, status, assigned_to, created_at, updated_at) VALUES($1, 'pending_assignment', NULL, $2, $3) RETURNING task_id`,
		submissionRef, now, now).Scan(&id)
	return id, err
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (*store.Task, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			args = append(args, st)
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, `status IN (`+strings.Join(ph, ",")+`)`)
	}
	if f.Unassigned {
		conds = append(conds, `assigned_to IS NULL`)
	}
	if f.AssignedTo != "" {
		args = append(args, f.AssignedTo)
		conds = append(conds, fmt.Sprintf(`assigned_to = $%d`, len(args)))
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at ASC, task_id ASC LIMIT $%d`, len(args))

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ConditionalUpdate(ctx context.Context, taskID int64, expect store.TaskExpect, mut store.TaskMutation, entry store.AuditEntry) (*store.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC().Unix()
	q := `UPDATE tasks SET status=$1, assigned_to=$2, assigned_by=$3, return_stage=$4, updated_at=$5 WHERE task_id=$6 AND status=$7`
	args := []any{mut.Status, mut.AssignedTo, mut.AssignedBy, mut.ReturnStage, now, taskID, expect.Status}
	switch {
	case expect.Unassigned:
		q += ` AND assigned_to IS NULL`
	case expect.AssignedTo != nil:
		args = append(args, *expect.AssignedTo)
		q += fmt.Sprintf(` AND assigned_to = $%d`, len(args))
	}
	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var exists int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE task_id=$1`, taskID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrConflict
	}

	if d := mut.Deliverable; d != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO deliverables(deliverable_id, task_id, kind, content_ref, uploaded_by, created_at) VALUES($1, $2, $3, $4, $5, $6)`,
			d.DeliverableID, taskID, d.Kind, d.ContentRef, d.UploadedBy, now); err != nil {
			return nil, err
		}
	}

	detail := entry.Detail
	if detail == "" {
		detail = "{}"
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log(task_id, actor, action, from_status, to_status, detail, created_at) VALUES($1, $2, $3, $4, $5, $6, $7)`,
		taskID, entry.Actor, entry.Action, entry.FromStatus, entry.ToStatus, detail, now); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) ListDeliverables(ctx context.Context, taskID int64) ([]store.Deliverable, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT deliverable_id, task_id, kind, content_ref, uploaded_by, created_at FROM deliverables WHERE task_id = $1 ORDER BY created_at ASC, deliverable_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Deliverable
	for rows.Next() {
		var d store.Deliverable
		var createdAt int64
		if err := rows.Scan(&d.DeliverableID, &d.TaskID, &d.Kind, &d.ContentRef, &d.UploadedBy, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListAuditLog(ctx context.Context, taskID int64) ([]store.AuditEntry, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT entry_id, task_id, actor, action, from_status, to_status, detail, created_at FROM audit_log WHERE task_id = $1 ORDER BY entry_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var createdAt int64
		if err := rows.Scan(&e.EntryID, &e.TaskID, &e.Actor, &e.Action, &e.FromStatus, &e.ToStatus, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*store.Task, error) {
	var (
		t           store.Task
		assignedTo  *string
		assignedBy  *string
		returnStage *string
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&t.TaskID, &t.SubmissionRef, &t.Status, &assignedTo, &assignedBy, &returnStage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.AssignedTo = assignedTo
	t.AssignedBy = assignedBy
	t.ReturnStage = returnStage
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}
