package workflow

import "github.com/ankittk/taskflow/pkg/models"

// Event names, used in audit details, errors, and metrics.
const (
	eventAssign   = "assign"
	eventClaim    = "claim"
	eventReassign = "reassign"
	eventSubmit   = "submit_deliverable"
	eventApprove  = "approve"
	eventReject   = "reject"
)

// The transition table. Each stage declares which events it answers to; any
// event not listed for the current stage is an invalid transition. Keeping the
// table declarative makes the state space checkable in one place instead of
// scattering status switches across handlers.

// assignTargets maps a role to the stage an approver routes a fresh task to.
// Only valid from pending_assignment.
var assignTargets = map[string]string{
	models.RoleArchitect: models.StagePendingArchitectDesign,
	models.RoleEngineer:  models.StagePendingEngineerDesign,
}

// submitRule is the deliverable gate for a work stage: the kind the stage
// requires and where a successful submit moves the task.
type submitRule struct {
	kind     string // required deliverable kind (revision also accepted)
	next     string
	unassign bool // clear assignee: next stage is pool-visible to its role
	review   bool // next stage is a review: record the originating stage
}

var submitRules = map[string]submitRule{
	models.StagePendingArchitectDesign: {
		kind:     models.KindArchitectDesign,
		next:     models.StagePendingEngineerDesign,
		unassign: true,
	},
	models.StagePendingEngineerDesign: {
		kind:   models.KindEngineerDesign,
		next:   models.StagePendingDesignApproval,
		review: true,
	},
	models.StagePendingQuantifying: {
		kind:   models.KindQuotation,
		next:   models.StagePendingFinalApproval,
		review: true,
	},
}

// approveRule routes a review stage on approval. unassign is always true:
// approval either pools the task for the next role or completes it.
type approveRule struct {
	next string
}

var approveRules = map[string]approveRule{
	models.StagePendingDesignApproval: {next: models.StagePendingQuantifying},
	models.StagePendingFinalApproval:  {next: models.StageCompleted},
}

// rejectFallbacks routes a rejection when the task predates return_stage
// recording. Normal operation never hits these: every entry into a review
// stage records the stage that produced the submission.
var rejectFallbacks = map[string]string{
	models.StagePendingDesignApproval: models.StagePendingEngineerDesign,
	models.StagePendingFinalApproval:  models.StagePendingQuantifying,
}

// acceptedKind reports whether kind satisfies the stage's deliverable gate.
// The revision kind is accepted wherever the primary kind is: rework after a
// rejection re-enters through the same gate.
func (r submitRule) acceptedKind(kind string) bool {
	return kind == r.kind || kind == models.KindRevision
}
