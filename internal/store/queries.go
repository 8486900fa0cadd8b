package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ankittk/taskflow/pkg/models"
)

func (s *sqliteStore) CreateTask(ctx context.Context, submissionRef string) (int64, error) {
	now := time.Now().UTC().Unix()
	res, err := s.stmtCreateTask.ExecContext(ctx, submissionRef, models.StagePendingAssignment, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetTask(ctx context.Context, taskID int64) (*Task, error) {
	row := s.stmtGetTask.QueryRowContext(ctx, taskID)
	t, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		conds = append(conds, `status IN (?`+strings.Repeat(",?", len(f.Statuses)-1)+`)`)
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.Unassigned {
		conds = append(conds, `assigned_to IS NULL`)
	}
	if f.AssignedTo != "" {
		conds = append(conds, `assigned_to = ?`)
		args = append(args, f.AssignedTo)
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q += ` ORDER BY created_at ASC, task_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ConditionalUpdate(ctx context.Context, taskID int64, expect TaskExpect, mut TaskMutation, entry AuditEntry) (*Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()
	q := `UPDATE tasks SET status=?, assigned_to=?, assigned_by=?, return_stage=?, updated_at=? WHERE task_id=? AND status=?`
	args := []any{mut.Status, mut.AssignedTo, mut.AssignedBy, mut.ReturnStage, now, taskID, expect.Status}
	switch {
	case expect.Unassigned:
		q += ` AND assigned_to IS NULL`
	case expect.AssignedTo != nil:
		q += ` AND assigned_to = ?`
		args = append(args, *expect.AssignedTo)
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing task from a lost race.
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE task_id=?`, taskID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}

	if d := mut.Deliverable; d != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deliverables(deliverable_id, task_id, kind, content_ref, uploaded_by, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
			d.DeliverableID, taskID, d.Kind, d.ContentRef, d.UploadedBy, now); err != nil {
			return nil, err
		}
	}

	detail := entry.Detail
	if detail == "" {
		detail = "{}"
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log(task_id, actor, action, from_status, to_status, detail, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		taskID, entry.Actor, entry.Action, entry.FromStatus, entry.ToStatus, detail, now); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTaskRow(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqliteStore) ListDeliverables(ctx context.Context, taskID int64) ([]Deliverable, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT deliverable_id, task_id, kind, content_ref, uploaded_by, created_at FROM deliverables WHERE task_id = ? ORDER BY created_at ASC, deliverable_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Deliverable
	for rows.Next() {
		var d Deliverable
		var createdAt int64
		if err := rows.Scan(&d.DeliverableID, &d.TaskID, &d.Kind, &d.ContentRef, &d.UploadedBy, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAuditLog(ctx context.Context, taskID int64) ([]AuditEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT entry_id, task_id, actor, action, from_status, to_status, detail, created_at FROM audit_log WHERE task_id = ? ORDER BY entry_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt int64
		if err := rows.Scan(&e.EntryID, &e.TaskID, &e.Actor, &e.Action, &e.FromStatus, &e.ToStatus, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

// scanTaskRow scans the current row (columns must match taskColumns order).
func scanTaskRow(row interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		t           Task
		assignedTo  sql.NullString
		assignedBy  sql.NullString
		returnStage sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&t.TaskID, &t.SubmissionRef, &t.Status, &assignedTo, &assignedBy, &returnStage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if assignedBy.Valid {
		t.AssignedBy = &assignedBy.String
	}
	if returnStage.Valid {
		t.ReturnStage = &returnStage.String
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}
