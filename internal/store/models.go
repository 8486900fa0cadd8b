// Package store defines the persistence interface and shared models for tasks,
// deliverables, and the audit log.
package store

import "time"

// Task is the persisted unit of work. AssignedTo nil means "in pool" for
// whichever role the current status is poolable to. ReturnStage records the
// stage that produced the work currently under review so a rejection can route
// back without guessing.
type Task struct {
	TaskID        int64
	SubmissionRef string
	Status        string
	AssignedTo    *string
	AssignedBy    *string
	ReturnStage   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deliverable is a typed artifact attached to exactly one task. Created only
// through the submit operation, never mutated, deleted only by task cascade.
type Deliverable struct {
	DeliverableID string
	TaskID        int64
	Kind          string
	ContentRef    string
	UploadedBy    string
	CreatedAt     time.Time
}

// AuditEntry is one immutable transition record. Detail is a JSON object
// (e.g. {"reason": "..."} on rejection); empty means "{}".
type AuditEntry struct {
	EntryID    int64
	TaskID     int64
	Actor      string
	Action     string
	FromStatus string
	ToStatus   string
	Detail     string
	CreatedAt  time.Time
}
