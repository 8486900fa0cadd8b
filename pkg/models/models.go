// Package models provides shared types for the Taskflow HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import (
	"encoding/json"
	"time"
)

// Worker is an operator identity. Name and role come from the authentication
// layer and are treated as given facts by the engine.
type Worker struct {
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
}

// Task is a unit of engineering work being routed through the design,
// review, and quantification stages.
type Task struct {
	TaskID        int64     `json:"task_id"`
	SubmissionRef string    `json:"submission_ref"`
	Status        string    `json:"status"`
	AssignedTo    *string   `json:"assigned_to,omitempty"`
	AssignedBy    *string   `json:"assigned_by,omitempty"`
	ReturnStage   *string   `json:"return_stage,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Deliverable is a typed artifact submitted against a task. Deliverables are
// created only through the submit operation and never mutated afterwards.
type Deliverable struct {
	DeliverableID string    `json:"deliverable_id"`
	TaskID        int64     `json:"task_id"`
	Kind          string    `json:"kind"`
	ContentRef    string    `json:"content_ref"`
	UploadedBy    string    `json:"uploaded_by"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// AuditEntry is an immutable record of one transition. The audit log is the
// sole source of historical truth; the task row only holds current state.
type AuditEntry struct {
	EntryID    int64           `json:"entry_id"`
	TaskID     int64           `json:"task_id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	FromStatus string          `json:"from_status"`
	ToStatus   string          `json:"to_status"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
}
