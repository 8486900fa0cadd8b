// Package workflow implements the task workflow engine: the transition table
// and guards routing a submitted project through design, review, and
// quantification stages. Every successful transition is one conditional store
// update committing the task mutation and its audit entry together; losers of
// a race get ErrConflict and nothing is written.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/taskflow/internal/notify"
	"github.com/ankittk/taskflow/internal/otel"
	"github.com/ankittk/taskflow/internal/roles"
	"github.com/ankittk/taskflow/internal/store"
	"github.com/ankittk/taskflow/pkg/models"
)

// Engine validates events against the transition table and applies them
// through the store's conditional-update primitive. Notifier may be nil.
type Engine struct {
	Store    store.Store
	Notifier notify.Dispatcher
}

// Actor is the authenticated operator performing an operation. Name and role
// come from the authentication layer and are trusted as given.
type Actor = models.Worker

// Create registers a new task from an intake submission. The task starts at
// pending_assignment, unassigned. Creation is not a transition: the audit
// history starts with the first assignment.
func (e *Engine) Create(ctx context.Context, submissionRef string, actor Actor) (*store.Task, error) {
	if submissionRef == "" {
		return nil, validationf("submission_ref required")
	}
	id, err := e.Store.CreateTask(ctx, submissionRef)
	if err != nil {
		return nil, err
	}
	return e.Store.GetTask(ctx, id)
}

// ListTasks returns the actor's role-filtered view: tasks assigned to the
// actor plus tasks poolable (or reviewable) at the actor's role.
func (e *Engine) ListTasks(ctx context.Context, actor Actor) ([]store.Task, error) {
	return (&Pool{Store: e.Store}).List(ctx, actor)
}

// GetTask returns the task if the actor holds it, may claim it, or reviews its
// stage; otherwise ErrForbidden.
func (e *Engine) GetTask(ctx context.Context, taskID int64, actor Actor) (*store.Task, error) {
	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !visibleTo(task, actor) {
		return nil, ErrForbidden
	}
	return task, nil
}

// AssignToRole routes a fresh task into a role's pool. Approver only; valid
// only from pending_assignment.
func (e *Engine) AssignToRole(ctx context.Context, taskID int64, role string, actor Actor) (*store.Task, error) {
	if !roles.IsApprover(actor.Role) {
		return nil, ErrForbidden
	}
	target, ok := assignTargets[role]
	if !ok {
		return nil, validationf("cannot assign to role %q", role)
	}
	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StagePendingAssignment {
		return nil, invalidTransition(task.Status, eventAssign)
	}
	updated, err := e.apply(ctx, task, eventAssign,
		store.TaskExpect{Status: task.Status},
		store.TaskMutation{Status: target, AssignedBy: &actor.Name},
		store.AuditEntry{
			Actor:      actor.Name,
			Action:     models.ActionAssignedToRole,
			FromStatus: task.Status,
			ToStatus:   target,
			Detail:     detailJSON(map[string]string{"role": role}),
		})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, notify.Event{Type: models.EventTaskPooled, Recipient: role, TaskID: taskID, Stage: target})
	return updated, nil
}

// Claim takes ownership of a pool task without changing its stage. The write
// is conditional on the task still being unassigned at the same stage, so of
// two concurrent claims exactly one wins and the other gets ErrConflict.
func (e *Engine) Claim(ctx context.Context, taskID int64, actor Actor) (*store.Task, error) {
	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	claimRole := roles.ClaimRole(task.Status)
	if claimRole == "" {
		return nil, invalidTransition(task.Status, eventClaim)
	}
	if actor.Role != claimRole {
		return nil, ErrForbidden
	}
	if task.AssignedTo != nil {
		return nil, ErrConflict
	}
	updated, err := e.apply(ctx, task, eventClaim,
		store.TaskExpect{Status: task.Status, Unassigned: true},
		store.TaskMutation{Status: task.Status, AssignedTo: &actor.Name, AssignedBy: &actor.Name, ReturnStage: task.ReturnStage},
		store.AuditEntry{
			Actor:      actor.Name,
			Action:     models.ActionAssignedToWorker,
			FromStatus: task.Status,
			ToStatus:   task.Status,
		})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			otel.RecordClaimConflict(ctx, actor.Role)
		}
		return nil, err
	}
	return updated, nil
}

// Reassign changes the current assignee without changing stage. Approver only;
// any non-terminal stage; requires a current assignee. Pure reassignment, but
// still audited and notified.
func (e *Engine) Reassign(ctx context.Context, taskID int64, newWorker string, actor Actor) (*store.Task, error) {
	if !roles.IsApprover(actor.Role) {
		return nil, ErrForbidden
	}
	if newWorker == "" {
		return nil, validationf("new assignee required")
	}
	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.StageCompleted {
		return nil, invalidTransition(task.Status, eventReassign)
	}
	if task.AssignedTo == nil {
		return nil, validationf("task has no current assignee")
	}
	updated, err := e.apply(ctx, task, eventReassign,
		store.TaskExpect{Status: task.Status, AssignedTo: task.AssignedTo},
		store.TaskMutation{Status: task.Status, AssignedTo: &newWorker, AssignedBy: &actor.Name, ReturnStage: task.ReturnStage},
		store.AuditEntry{
			Actor:      actor.Name,
			Action:     models.ActionReassigned,
			FromStatus: task.Status,
			ToStatus:   task.Status,
			Detail:     detailJSON(map[string]string{"from": *task.AssignedTo, "to": newWorker}),
		})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, notify.Event{Type: models.EventTaskAssigned, Recipient: newWorker, TaskID: taskID, Stage: task.Status})
	return updated, nil
}

// SubmitDeliverable attaches a typed artifact and advances the task per the
// stage's submit rule. Only the current assignee may submit, and the kind must
// satisfy the stage's gate. The deliverable, the status change, and the audit
// entry commit in one transaction.
func (e *Engine) SubmitDeliverable(ctx context.Context, taskID int64, kind, contentRef string, actor Actor) (*store.Task, error) {
	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	rule, ok := submitRules[task.Status]
	if !ok {
		return nil, invalidTransition(task.Status, eventSubmit)
	}
	if task.AssignedTo == nil || *task.AssignedTo != actor.Name {
		return nil, ErrForbidden
	}
	if !models.ValidKind(kind) {
		return nil, validationf("unknown deliverable kind %q", kind)
	}
	if !rule.acceptedKind(kind) {
		return nil, validationf("stage %s requires a %s deliverable", task.Status, rule.kind)
	}
	if contentRef == "" {
		return nil, validationf("content_ref required")
	}

	deliverable := &store.Deliverable{
		DeliverableID: uuid.NewString(),
		TaskID:        taskID,
		Kind:          kind,
		ContentRef:    contentRef,
		UploadedBy:    actor.Name,
	}
	mut := store.TaskMutation{Status: rule.next, Deliverable: deliverable}
	switch {
	case rule.review:
		// Keep the author assigned through review and remember where the
		// submission came from so a rejection routes back without guessing.
		from := task.Status
		mut.AssignedTo = task.AssignedTo
		mut.AssignedBy = task.AssignedBy
		mut.ReturnStage = &from
	case rule.unassign:
		// Back to a pool: next stage's role claims it fresh.
	}

	updated, err := e.apply(ctx, task, eventSubmit,
		store.TaskExpect{Status: task.Status, AssignedTo: &actor.Name},
		mut,
		store.AuditEntry{
			Actor:      actor.Name,
			Action:     models.ActionDeliverableSubmitted,
			FromStatus: task.Status,
			ToStatus:   rule.next,
			Detail:     detailJSON(map[string]string{"kind": kind, "deliverable_id": deliverable.DeliverableID}),
		})
	if err != nil {
		return nil, err
	}
	if rule.review {
		e.emit(ctx, notify.Event{Type: models.EventReviewRequested, Recipient: models.RoleApprover, TaskID: taskID, Stage: rule.next})
	} else if role := roles.ClaimRole(rule.next); role != "" {
		e.emit(ctx, notify.Event{Type: models.EventTaskPooled, Recipient: role, TaskID: taskID, Stage: rule.next})
	}
	return updated, nil
}

// Approve advances a task out of a review stage. Approver only. Design
// approval pools the task for quantity surveyors; final approval completes it.
// Either way the assignee is cleared.
func (e *Engine) Approve(ctx context.Context, taskID int64, actor Actor) (*store.Task, error) {
	if !roles.IsApprover(actor.Role) {
		return nil, ErrForbidden
	}
	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	rule, ok := approveRules[task.Status]
	if !ok {
		return nil, invalidTransition(task.Status, eventApprove)
	}
	updated, err := e.apply(ctx, task, eventApprove,
		store.TaskExpect{Status: task.Status},
		store.TaskMutation{Status: rule.next, AssignedBy: &actor.Name},
		store.AuditEntry{
			Actor:      actor.Name,
			Action:     models.ActionApproved,
			FromStatus: task.Status,
			ToStatus:   rule.next,
		})
	if err != nil {
		return nil, err
	}
	if role := roles.ClaimRole(rule.next); role != "" {
		e.emit(ctx, notify.Event{Type: models.EventTaskPooled, Recipient: role, TaskID: taskID, Stage: rule.next})
	}
	return updated, nil
}

// Reject returns a task from a review stage to the stage that produced the
// submission, keeping the author assigned so the rework lands back with them.
// Approver only; a reason is required.
func (e *Engine) Reject(ctx context.Context, taskID int64, reason string, actor Actor) (*store.Task, error) {
	if !roles.IsApprover(actor.Role) {
		return nil, ErrForbidden
	}
	if reason == "" {
		return nil, validationf("rejection reason required")
	}
	task, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, ok := approveRules[task.Status]; !ok {
		return nil, invalidTransition(task.Status, eventReject)
	}
	target := rejectFallbacks[task.Status]
	if task.ReturnStage != nil {
		target = *task.ReturnStage
	}
	updated, err := e.apply(ctx, task, eventReject,
		store.TaskExpect{Status: task.Status},
		store.TaskMutation{Status: target, AssignedTo: task.AssignedTo, AssignedBy: &actor.Name},
		store.AuditEntry{
			Actor:      actor.Name,
			Action:     models.ActionRejected,
			FromStatus: task.Status,
			ToStatus:   target,
			Detail:     detailJSON(map[string]string{"reason": reason}),
		})
	if err != nil {
		return nil, err
	}
	if task.AssignedTo != nil {
		e.emit(ctx, notify.Event{
			Type:      models.EventWorkRejected,
			Recipient: *task.AssignedTo,
			TaskID:    taskID,
			Stage:     target,
			Detail:    map[string]string{"reason": reason},
		})
	}
	return updated, nil
}

// ListDeliverables returns a task's deliverables, subject to the same
// visibility rule as GetTask.
func (e *Engine) ListDeliverables(ctx context.Context, taskID int64, actor Actor) ([]store.Deliverable, error) {
	if _, err := e.GetTask(ctx, taskID, actor); err != nil {
		return nil, err
	}
	return e.Store.ListDeliverables(ctx, taskID)
}

// ListAuditLog returns a task's full transition history, oldest first.
func (e *Engine) ListAuditLog(ctx context.Context, taskID int64, actor Actor) ([]store.AuditEntry, error) {
	if _, err := e.GetTask(ctx, taskID, actor); err != nil {
		return nil, err
	}
	return e.Store.ListAuditLog(ctx, taskID)
}

// apply runs one conditional update and records metrics. Store errors are
// mapped onto the engine taxonomy.
func (e *Engine) apply(ctx context.Context, task *store.Task, event string, expect store.TaskExpect, mut store.TaskMutation, entry store.AuditEntry) (*store.Task, error) {
	start := time.Now()
	updated, err := e.Store.ConditionalUpdate(ctx, task.TaskID, expect, mut, entry)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	otel.RecordTransition(ctx, event, entry.FromStatus, entry.ToStatus, time.Since(start))
	return updated, nil
}

func (e *Engine) load(ctx context.Context, taskID int64) (*store.Task, error) {
	task, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return task, nil
}

// emit hands the event to the dispatcher. Delivery is the dispatcher's
// problem: it never blocks or fails the transition that produced the event.
func (e *Engine) emit(ctx context.Context, ev notify.Event) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Dispatch(ctx, ev)
}

// visibleTo implements the getTask guard: assignee, poolable for the actor's
// role, or approver (approvers administer the whole flow, e.g. reassign at any
// non-terminal stage).
func visibleTo(task *store.Task, actor Actor) bool {
	if roles.IsApprover(actor.Role) {
		return true
	}
	if task.AssignedTo != nil && *task.AssignedTo == actor.Name {
		return true
	}
	return task.AssignedTo == nil && roles.CanClaim(actor.Role, task.Status)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func detailJSON(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
