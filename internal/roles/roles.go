// Package roles maps worker roles to the stages they may see and act on. It is
// the single source of truth for pool visibility: both the pool listing and the
// claim guard consult it, so the two can never disagree.
package roles

import "github.com/ankittk/taskflow/pkg/models"

// claimStages maps each worker role to the stages whose unassigned tasks are
// poolable for that role.
var claimStages = map[string][]string{
	models.RoleArchitect:        {models.StagePendingArchitectDesign},
	models.RoleEngineer:         {models.StagePendingEngineerDesign},
	models.RoleQuantitySurveyor: {models.StagePendingQuantifying},
}

// reviewStages are the stages an approver acts on regardless of assignee.
var reviewStages = []string{
	models.StagePendingAssignment,
	models.StagePendingDesignApproval,
	models.StagePendingFinalApproval,
}

// ClaimStages returns the stages whose unassigned tasks role may claim.
// Approvers claim nothing; they approve, reject, assign, and reassign.
func ClaimStages(role string) []string {
	return claimStages[role]
}

// CanClaim reports whether role may claim an unassigned task at stage.
func CanClaim(role, stage string) bool {
	for _, s := range claimStages[role] {
		if s == stage {
			return true
		}
	}
	return false
}

// ClaimRole returns the single role allowed to claim tasks at stage, or ""
// if the stage is not claimable at all (review and terminal stages).
func ClaimRole(stage string) string {
	for role, stages := range claimStages {
		for _, s := range stages {
			if s == stage {
				return role
			}
		}
	}
	return ""
}

// ReviewStages returns the stages role reviews regardless of assignee.
// Non-empty only for approvers.
func ReviewStages(role string) []string {
	if role == models.RoleApprover {
		return reviewStages
	}
	return nil
}

// IsApprover reports whether role is the approver role.
func IsApprover(role string) bool {
	return role == models.RoleApprover
}
