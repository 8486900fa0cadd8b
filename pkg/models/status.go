package models

// Task stages, in the order a task normally moves through them.
const (
	StagePendingAssignment      = "pending_assignment"
	StagePendingArchitectDesign = "pending_architect_design"
	StagePendingEngineerDesign  = "pending_engineer_design"
	StagePendingDesignApproval  = "pending_design_approval"
	StagePendingQuantifying     = "pending_quantifying"
	StagePendingFinalApproval   = "pending_final_approval"
	StageCompleted              = "completed"
)

// Worker roles.
const (
	RoleArchitect        = "architect"
	RoleEngineer         = "engineer"
	RoleQuantitySurveyor = "quantity_surveyor"
	RoleApprover         = "approver"
)

// Deliverable kinds.
const (
	KindArchitectDesign = "architect_design"
	KindEngineerDesign  = "engineer_design"
	KindQuotation       = "quotation"
	KindRevision        = "revision"
)

// Audit log actions. One entry is written per successful transition.
const (
	ActionAssignedToRole       = "assigned_to_role"
	ActionAssignedToWorker     = "assigned_to_worker"
	ActionReassigned           = "reassigned"
	ActionDeliverableSubmitted = "deliverable_submitted"
	ActionApproved             = "approved"
	ActionRejected             = "rejected"
)

// Notification event types.
const (
	EventTaskPooled      = "task_pooled"
	EventTaskAssigned    = "task_assigned"
	EventReviewRequested = "review_requested"
	EventWorkRejected    = "work_rejected"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultTaskListLimit       = 1000
	DefaultSSEChannelBuffer    = 256
)

// Stages returns all stages in lifecycle order.
func Stages() []string {
	return []string{
		StagePendingAssignment,
		StagePendingArchitectDesign,
		StagePendingEngineerDesign,
		StagePendingDesignApproval,
		StagePendingQuantifying,
		StagePendingFinalApproval,
		StageCompleted,
	}
}

// ValidStage reports whether s is a known stage.
func ValidStage(s string) bool {
	for _, st := range Stages() {
		if st == s {
			return true
		}
	}
	return false
}

// ValidRole reports whether r is a known worker role.
func ValidRole(r string) bool {
	switch r {
	case RoleArchitect, RoleEngineer, RoleQuantitySurveyor, RoleApprover:
		return true
	}
	return false
}

// ValidKind reports whether k is a known deliverable kind.
func ValidKind(k string) bool {
	switch k {
	case KindArchitectDesign, KindEngineerDesign, KindQuotation, KindRevision:
		return true
	}
	return false
}
