package httpapi

import (
	"encoding/json"

	"github.com/ankittk/taskflow/internal/store"
	"github.com/ankittk/taskflow/pkg/models"
)

func apiTask(t *store.Task) models.Task {
	return models.Task{
		TaskID:        t.TaskID,
		SubmissionRef: t.SubmissionRef,
		Status:        t.Status,
		AssignedTo:    t.AssignedTo,
		AssignedBy:    t.AssignedBy,
		ReturnStage:   t.ReturnStage,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func apiTasks(ts []store.Task) []models.Task {
	out := make([]models.Task, 0, len(ts))
	for i := range ts {
		out = append(out, apiTask(&ts[i]))
	}
	return out
}

func apiDeliverables(ds []store.Deliverable) []models.Deliverable {
	out := make([]models.Deliverable, 0, len(ds))
	for _, d := range ds {
		out = append(out, models.Deliverable{
			DeliverableID: d.DeliverableID,
			TaskID:        d.TaskID,
			Kind:          d.Kind,
			ContentRef:    d.ContentRef,
			UploadedBy:    d.UploadedBy,
			CreatedAt:     d.CreatedAt,
		})
	}
	return out
}

func apiAuditEntries(es []store.AuditEntry) []models.AuditEntry {
	out := make([]models.AuditEntry, 0, len(es))
	for _, e := range es {
		detail := e.Detail
		if detail == "" {
			detail = "{}"
		}
		out = append(out, models.AuditEntry{
			EntryID:    e.EntryID,
			TaskID:     e.TaskID,
			Actor:      e.Actor,
			Action:     e.Action,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Detail:     json.RawMessage(detail),
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}
