package workflow

import (
	"context"
	"sort"

	"github.com/ankittk/taskflow/internal/roles"
	"github.com/ankittk/taskflow/internal/store"
)

// Pool is the derived assignment view: per role, the unclaimed tasks eligible
// for that role, plus whatever is already assigned to the worker. It holds no
// state of its own; it is a projection over the store and the role capability
// table, so listing and the claim guard can never disagree.
type Pool struct {
	Store store.Store
}

// List returns the actor's view, oldest first: tasks assigned to the actor,
// unassigned tasks at the actor's claimable stages, and (for approvers) tasks
// at review stages regardless of assignee.
func (p *Pool) List(ctx context.Context, actor Actor) ([]store.Task, error) {
	seen := make(map[int64]bool)
	var out []store.Task
	add := func(tasks []store.Task) {
		for _, t := range tasks {
			if !seen[t.TaskID] {
				seen[t.TaskID] = true
				out = append(out, t)
			}
		}
	}

	mine, err := p.Store.ListTasks(ctx, store.TaskFilter{AssignedTo: actor.Name})
	if err != nil {
		return nil, err
	}
	add(mine)

	if stages := roles.ClaimStages(actor.Role); len(stages) > 0 {
		poolable, err := p.Store.ListTasks(ctx, store.TaskFilter{Statuses: stages, Unassigned: true})
		if err != nil {
			return nil, err
		}
		add(poolable)
	}

	if stages := roles.ReviewStages(actor.Role); len(stages) > 0 {
		reviewable, err := p.Store.ListTasks(ctx, store.TaskFilter{Statuses: stages})
		if err != nil {
			return nil, err
		}
		add(reviewable)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}
