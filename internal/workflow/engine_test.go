package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ankittk/taskflow/internal/store"
	"github.com/ankittk/taskflow/pkg/models"
)

var (
	boss  = Actor{Name: "boss", Role: models.RoleApprover}
	ada   = Actor{Name: "ada", Role: models.RoleArchitect}
	edgar = Actor{Name: "edgar", Role: models.RoleEngineer}
	quinn = Actor{Name: "quinn", Role: models.RoleQuantitySurveyor}
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return &Engine{Store: st}, st
}

func mustCreate(t *testing.T, eng *Engine, ref string) int64 {
	t.Helper()
	task, err := eng.Create(context.Background(), ref, boss)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task.TaskID
}

// advance runs a task through the happy path up to (but not past) stopAt.
func advance(t *testing.T, eng *Engine, id int64, stopAt string) *store.Task {
	t.Helper()
	ctx := context.Background()
	steps := []func() (*store.Task, error){
		func() (*store.Task, error) { return eng.AssignToRole(ctx, id, models.RoleArchitect, boss) },
		func() (*store.Task, error) { return eng.Claim(ctx, id, ada) },
		func() (*store.Task, error) {
			return eng.SubmitDeliverable(ctx, id, models.KindArchitectDesign, "ref://arch", ada)
		},
		func() (*store.Task, error) { return eng.Claim(ctx, id, edgar) },
		func() (*store.Task, error) {
			return eng.SubmitDeliverable(ctx, id, models.KindEngineerDesign, "ref://eng", edgar)
		},
		func() (*store.Task, error) { return eng.Approve(ctx, id, boss) },
		func() (*store.Task, error) { return eng.Claim(ctx, id, quinn) },
		func() (*store.Task, error) {
			return eng.SubmitDeliverable(ctx, id, models.KindQuotation, "ref://quote", quinn)
		},
		func() (*store.Task, error) { return eng.Approve(ctx, id, boss) },
	}
	task, err := eng.GetTask(ctx, id, boss)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	for _, step := range steps {
		if task.Status == stopAt {
			return task
		}
		if task, err = step(); err != nil {
			t.Fatalf("advance to %s: at %s: %v", stopAt, task.Status, err)
		}
	}
	if task.Status != stopAt {
		t.Fatalf("advance: ended at %s, want %s", task.Status, stopAt)
	}
	return task
}

func TestHappyPath(t *testing.T) {
	t.Parallel()
	eng, st := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, eng, "SUB-1")

	task, err := eng.AssignToRole(ctx, id, models.RoleArchitect, boss)
	if err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}
	if task.Status != models.StagePendingArchitectDesign || task.AssignedTo != nil {
		t.Fatalf("after assign: %+v", task)
	}

	task, err = eng.Claim(ctx, id, ada)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task.AssignedTo == nil || *task.AssignedTo != "ada" {
		t.Fatalf("after claim: %+v", task)
	}

	// Architect submit pools the task for engineers.
	task, err = eng.SubmitDeliverable(ctx, id, models.KindArchitectDesign, "ref://arch", ada)
	if err != nil {
		t.Fatalf("architect submit: %v", err)
	}
	if task.Status != models.StagePendingEngineerDesign || task.AssignedTo != nil {
		t.Fatalf("after architect submit: %+v", task)
	}

	if _, err := eng.Claim(ctx, id, edgar); err != nil {
		t.Fatalf("engineer claim: %v", err)
	}

	// Engineer submit keeps the author assigned through review and records
	// where the submission came from.
	task, err = eng.SubmitDeliverable(ctx, id, models.KindEngineerDesign, "ref://eng", edgar)
	if err != nil {
		t.Fatalf("engineer submit: %v", err)
	}
	if task.Status != models.StagePendingDesignApproval {
		t.Fatalf("after engineer submit: %+v", task)
	}
	if task.AssignedTo == nil || *task.AssignedTo != "edgar" {
		t.Fatalf("author should stay assigned through review: %+v", task)
	}
	if task.ReturnStage == nil || *task.ReturnStage != models.StagePendingEngineerDesign {
		t.Fatalf("return stage not recorded: %+v", task)
	}

	task, err = eng.Approve(ctx, id, boss)
	if err != nil {
		t.Fatalf("design approve: %v", err)
	}
	if task.Status != models.StagePendingQuantifying || task.AssignedTo != nil || task.ReturnStage != nil {
		t.Fatalf("after design approve: %+v", task)
	}

	if _, err := eng.Claim(ctx, id, quinn); err != nil {
		t.Fatalf("surveyor claim: %v", err)
	}
	task, err = eng.SubmitDeliverable(ctx, id, models.KindQuotation, "ref://quote", quinn)
	if err != nil {
		t.Fatalf("quotation submit: %v", err)
	}
	if task.Status != models.StagePendingFinalApproval {
		t.Fatalf("after quotation submit: %+v", task)
	}

	task, err = eng.Approve(ctx, id, boss)
	if err != nil {
		t.Fatalf("final approve: %v", err)
	}
	if task.Status != models.StageCompleted || task.AssignedTo != nil {
		t.Fatalf("after final approve: %+v", task)
	}

	// Three deliverables, full audit trail.
	ds, err := st.ListDeliverables(ctx, id)
	if err != nil {
		t.Fatalf("ListDeliverables: %v", err)
	}
	if len(ds) != 3 {
		t.Fatalf("expected 3 deliverables, got %+v", ds)
	}
	entries, err := st.ListAuditLog(ctx, id)
	if err != nil {
		t.Fatalf("ListAuditLog: %v", err)
	}
	wantActions := []string{
		models.ActionAssignedToRole,
		models.ActionAssignedToWorker,
		models.ActionDeliverableSubmitted,
		models.ActionAssignedToWorker,
		models.ActionDeliverableSubmitted,
		models.ActionApproved,
		models.ActionAssignedToWorker,
		models.ActionDeliverableSubmitted,
		models.ActionApproved,
	}
	if len(entries) != len(wantActions) {
		t.Fatalf("expected %d audit entries, got %d", len(wantActions), len(entries))
	}
	for i, e := range entries {
		if e.Action != wantActions[i] {
			t.Fatalf("audit[%d]: got %s, want %s", i, e.Action, wantActions[i])
		}
	}
}

func TestEngineerTrackAndRejection(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// A task can skip the architect and go straight to the engineer pool.
	id := mustCreate(t, eng, "SUB-2")
	task, err := eng.AssignToRole(ctx, id, models.RoleEngineer, boss)
	if err != nil {
		t.Fatalf("AssignToRole engineer: %v", err)
	}
	if task.Status != models.StagePendingEngineerDesign {
		t.Fatalf("after assign: %+v", task)
	}

	if _, err := eng.Claim(ctx, id, edgar); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := eng.SubmitDeliverable(ctx, id, models.KindEngineerDesign, "ref://v1", edgar); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Rejection routes back to the recorded stage with the author still assigned.
	task, err = eng.Reject(ctx, id, "sizing is off", boss)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if task.Status != models.StagePendingEngineerDesign {
		t.Fatalf("rejection should return to engineer design: %+v", task)
	}
	if task.AssignedTo == nil || *task.AssignedTo != "edgar" {
		t.Fatalf("rework should land with the author: %+v", task)
	}

	// Rework re-enters through the same gate as a revision.
	task, err = eng.SubmitDeliverable(ctx, id, models.KindRevision, "ref://v2", edgar)
	if err != nil {
		t.Fatalf("revision submit: %v", err)
	}
	if task.Status != models.StagePendingDesignApproval {
		t.Fatalf("after revision submit: %+v", task)
	}
	if _, err := eng.Approve(ctx, id, boss); err != nil {
		t.Fatalf("approve after rework: %v", err)
	}
}

func TestRejectAtFinalApproval(t *testing.T) {
	t.Parallel()
	eng, st := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, "SUB-F")
	advance(t, eng, id, models.StagePendingFinalApproval)

	task, err := eng.Reject(ctx, id, "missing line items", boss)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if task.Status != models.StagePendingQuantifying {
		t.Fatalf("final rejection should return to quantifying: %+v", task)
	}
	if task.AssignedTo == nil || *task.AssignedTo != "quinn" {
		t.Fatalf("rework should land with the surveyor: %+v", task)
	}

	entries, err := st.ListAuditLog(ctx, id)
	if err != nil {
		t.Fatalf("ListAuditLog: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Action != models.ActionRejected {
		t.Fatalf("last audit action: %s", last.Action)
	}
	var detail struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(last.Detail), &detail); err != nil {
		t.Fatalf("audit detail: %v", err)
	}
	if detail.Reason != "missing line items" {
		t.Fatalf("audit detail reason: %q", detail.Reason)
	}
}

func TestRejectWithoutReason(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	id := mustCreate(t, eng, "SUB-3")
	advance(t, eng, id, models.StagePendingDesignApproval)

	_, err := eng.Reject(context.Background(), id, "", boss)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("reject without reason: got %v, want ErrValidation", err)
	}
}

func TestRoleGuards(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, "SUB-4")

	// Only approvers assign.
	if _, err := eng.AssignToRole(ctx, id, models.RoleArchitect, ada); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-approver assign: got %v, want ErrForbidden", err)
	}
	// Only architects and engineers are assignable targets.
	if _, err := eng.AssignToRole(ctx, id, models.RoleApprover, boss); !errors.Is(err, ErrValidation) {
		t.Fatalf("assign to approver: got %v, want ErrValidation", err)
	}

	if _, err := eng.AssignToRole(ctx, id, models.RoleArchitect, boss); err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}

	// Wrong role cannot claim an architect-pool task.
	if _, err := eng.Claim(ctx, id, edgar); !errors.Is(err, ErrForbidden) {
		t.Fatalf("wrong-role claim: got %v, want ErrForbidden", err)
	}

	if _, err := eng.Claim(ctx, id, ada); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Only the assignee submits.
	other := Actor{Name: "al", Role: models.RoleArchitect}
	if _, err := eng.SubmitDeliverable(ctx, id, models.KindArchitectDesign, "ref", other); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-assignee submit: got %v, want ErrForbidden", err)
	}

	// Wrong kind for the stage.
	if _, err := eng.SubmitDeliverable(ctx, id, models.KindQuotation, "ref", ada); !errors.Is(err, ErrValidation) {
		t.Fatalf("wrong kind: got %v, want ErrValidation", err)
	}
	// Unknown kind.
	if _, err := eng.SubmitDeliverable(ctx, id, "blueprint", "ref", ada); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown kind: got %v, want ErrValidation", err)
	}
	// Missing content ref.
	if _, err := eng.SubmitDeliverable(ctx, id, models.KindArchitectDesign, "", ada); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing content_ref: got %v, want ErrValidation", err)
	}

	// Only approvers approve/reject, and only at review stages.
	if _, err := eng.Approve(ctx, id, ada); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-approver approve: got %v, want ErrForbidden", err)
	}
	var it *InvalidTransitionError
	if _, err := eng.Approve(ctx, id, boss); !errors.As(err, &it) {
		t.Fatalf("approve at work stage: got %v, want InvalidTransitionError", err)
	}
}

// TestTransitionClosure drives every event against every reachable stage and
// checks that only the transitions the table declares succeed.
func TestTransitionClosure(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// Events that are never valid at each stage, given a task advanced there
	// through the happy path.
	type probe struct {
		name string
		run  func(id int64) error
	}
	probes := []probe{
		{"assign", func(id int64) error {
			_, err := eng.AssignToRole(ctx, id, models.RoleArchitect, boss)
			return err
		}},
		{"approve", func(id int64) error {
			_, err := eng.Approve(ctx, id, boss)
			return err
		}},
		{"reject", func(id int64) error {
			_, err := eng.Reject(ctx, id, "because", boss)
			return err
		}},
	}
	validAt := map[string]map[string]bool{
		"assign":  {models.StagePendingAssignment: true},
		"approve": {models.StagePendingDesignApproval: true, models.StagePendingFinalApproval: true},
		"reject":  {models.StagePendingDesignApproval: true, models.StagePendingFinalApproval: true},
	}

	for _, stage := range models.Stages() {
		for _, p := range probes {
			id := mustCreate(t, eng, fmt.Sprintf("SUB-%s-%s", stage, p.name))
			advance(t, eng, id, stage)
			err := p.run(id)
			if validAt[p.name][stage] {
				if err != nil {
					t.Errorf("%s at %s: unexpected error %v", p.name, stage, err)
				}
				continue
			}
			var it *InvalidTransitionError
			if !errors.As(err, &it) {
				t.Errorf("%s at %s: got %v, want InvalidTransitionError", p.name, stage, err)
			}
		}
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, "SUB-5")
	advance(t, eng, id, models.StageCompleted)

	var it *InvalidTransitionError
	if _, err := eng.Approve(ctx, id, boss); !errors.As(err, &it) {
		t.Fatalf("approve completed: got %v", err)
	}
	if _, err := eng.Reject(ctx, id, "nope", boss); !errors.As(err, &it) {
		t.Fatalf("reject completed: got %v", err)
	}
	if _, err := eng.Reassign(ctx, id, "someone", boss); !errors.As(err, &it) {
		t.Fatalf("reassign completed: got %v", err)
	}
	if _, err := eng.Claim(ctx, id, ada); !errors.As(err, &it) {
		t.Fatalf("claim completed: got %v", err)
	}
}

func TestConcurrentClaim(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, "SUB-6")
	if _, err := eng.AssignToRole(ctx, id, models.RoleArchitect, boss); err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := Actor{Name: fmt.Sprintf("arch%d", i), Role: models.RoleArchitect}
			_, errs[i] = eng.Claim(ctx, id, actor)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}
}

func TestReassign(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, "SUB-7")
	advance(t, eng, id, models.StagePendingArchitectDesign)
	if _, err := eng.Claim(ctx, id, ada); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Non-approver cannot reassign.
	if _, err := eng.Reassign(ctx, id, "al", ada); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-approver reassign: got %v, want ErrForbidden", err)
	}

	task, err := eng.Reassign(ctx, id, "al", boss)
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if task.Status != models.StagePendingArchitectDesign {
		t.Fatalf("reassign must not change stage: %+v", task)
	}
	if task.AssignedTo == nil || *task.AssignedTo != "al" {
		t.Fatalf("after reassign: %+v", task)
	}

	// The new assignee submits; the old one cannot.
	if _, err := eng.SubmitDeliverable(ctx, id, models.KindArchitectDesign, "ref", ada); !errors.Is(err, ErrForbidden) {
		t.Fatalf("old assignee submit: got %v, want ErrForbidden", err)
	}
	al := Actor{Name: "al", Role: models.RoleArchitect}
	if _, err := eng.SubmitDeliverable(ctx, id, models.KindArchitectDesign, "ref", al); err != nil {
		t.Fatalf("new assignee submit: %v", err)
	}
}

func TestReassignWithoutAssignee(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, "SUB-8")
	advance(t, eng, id, models.StagePendingArchitectDesign)

	if _, err := eng.Reassign(ctx, id, "al", boss); !errors.Is(err, ErrValidation) {
		t.Fatalf("reassign unassigned task: got %v, want ErrValidation", err)
	}
	if _, err := eng.Reassign(ctx, id, "", boss); !errors.Is(err, ErrValidation) {
		t.Fatalf("reassign to nobody: got %v, want ErrValidation", err)
	}
}

func TestPoolVisibility(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	fresh := mustCreate(t, eng, "SUB-A")
	pooled := mustCreate(t, eng, "SUB-B")
	advance(t, eng, pooled, models.StagePendingArchitectDesign)
	claimed := mustCreate(t, eng, "SUB-C")
	advance(t, eng, claimed, models.StagePendingArchitectDesign)
	if _, err := eng.Claim(ctx, claimed, ada); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	ids := func(tasks []store.Task) map[int64]bool {
		m := make(map[int64]bool, len(tasks))
		for _, tk := range tasks {
			m[tk.TaskID] = true
		}
		return m
	}

	// The architect sees the pooled task and their own claim, not the fresh one.
	adaView, err := eng.ListTasks(ctx, ada)
	if err != nil {
		t.Fatalf("ListTasks ada: %v", err)
	}
	got := ids(adaView)
	if !got[pooled] || !got[claimed] || got[fresh] {
		t.Fatalf("ada view: got %v", got)
	}

	// Another architect sees the pool but not ada's claim.
	al := Actor{Name: "al", Role: models.RoleArchitect}
	alView, _ := eng.ListTasks(ctx, al)
	got = ids(alView)
	if !got[pooled] || got[claimed] {
		t.Fatalf("al view: got %v", got)
	}

	// Engineers see none of these.
	edgarView, _ := eng.ListTasks(ctx, edgar)
	if len(edgarView) != 0 {
		t.Fatalf("edgar view: got %+v", edgarView)
	}

	// The approver sees the fresh task (pending_assignment is a review stage).
	bossView, _ := eng.ListTasks(ctx, boss)
	got = ids(bossView)
	if !got[fresh] {
		t.Fatalf("boss view missing fresh task: got %v", got)
	}

	// GetTask follows the same rule.
	if _, err := eng.GetTask(ctx, claimed, al); !errors.Is(err, ErrForbidden) {
		t.Fatalf("al GetTask claimed: got %v, want ErrForbidden", err)
	}
	if _, err := eng.GetTask(ctx, claimed, ada); err != nil {
		t.Fatalf("ada GetTask claimed: %v", err)
	}
	if _, err := eng.GetTask(ctx, claimed, boss); err != nil {
		t.Fatalf("boss GetTask claimed: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	if _, err := eng.Create(context.Background(), "", boss); !errors.Is(err, ErrValidation) {
		t.Fatalf("create without ref: got %v, want ErrValidation", err)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.GetTask(ctx, 404, boss); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask: got %v, want ErrNotFound", err)
	}
	if _, err := eng.Claim(ctx, 404, ada); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Claim: got %v, want ErrNotFound", err)
	}
	if _, err := eng.Approve(ctx, 404, boss); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Approve: got %v, want ErrNotFound", err)
	}
}
