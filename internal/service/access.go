package service

import (
	"github.com/campushub/thesis-api/internal/models"
)

// Thesis access is a widening hierarchy: everyone with supervisor-level
// access also has advisor-level access, everyone with advisor-level
// access also has student-level access, and everyone with student-level
// access can read. Checks combine the caller's identity-provider groups
// with the roles assigned on the concrete thesis.

// HasSupervisorAccess grants admins, and supervisors assigned to the
// thesis with the SUPERVISOR role.
func HasSupervisorAccess(user models.User, thesis *models.Thesis) bool {
	if thesis == nil {
		return false
	}
	if user.InGroup(models.GroupAdmin) {
		return true
	}
	return user.InGroup(models.GroupSupervisor) && thesis.HasRole(user.ID, models.ThesisRoleSupervisor)
}

// HasAdvisorAccess additionally grants advisors assigned to the thesis
// with the ADVISOR role.
func HasAdvisorAccess(user models.User, thesis *models.Thesis) bool {
	if HasSupervisorAccess(user, thesis) {
		return true
	}
	if thesis == nil {
		return false
	}
	return user.InGroup(models.GroupAdvisor) && thesis.HasRole(user.ID, models.ThesisRoleAdvisor)
}

// HasStudentAccess additionally grants the students writing the thesis.
func HasStudentAccess(user models.User, thesis *models.Thesis) bool {
	if HasAdvisorAccess(user, thesis) {
		return true
	}
	if thesis == nil {
		return false
	}
	return thesis.HasRole(user.ID, models.ThesisRoleStudent)
}

// HasReadAccess additionally grants readers according to the thesis
// visibility. STUDENT and INTERNAL open the thesis to any signed-in
// member of the advisor, supervisor, or student groups; PUBLIC opens it
// to everyone. PRIVATE stays restricted to the participants.
func HasReadAccess(user models.User, thesis *models.Thesis) bool {
	if HasStudentAccess(user, thesis) {
		return true
	}
	if thesis == nil {
		return false
	}
	staff := user.InGroup(models.GroupAdvisor) || user.InGroup(models.GroupSupervisor)
	switch thesis.Visibility {
	case models.ThesisVisibilityPublic:
		return true
	case models.ThesisVisibilityStudent:
		return staff || user.InGroup(models.GroupStudent)
	case models.ThesisVisibilityInternal:
		return staff || user.InGroup(models.GroupStudent)
	default:
		return false
	}
}

// CanReviewApplications reports whether the user may work the
// application board.
func CanReviewApplications(user models.User) bool {
	return user.InGroup(models.GroupAdmin) || user.InGroup(models.GroupSupervisor) ||
		user.InGroup(models.GroupAdvisor)
}

// CanManageTopics reports whether the user may create or edit topics.
func CanManageTopics(user models.User) bool {
	return user.InGroup(models.GroupAdmin) || user.InGroup(models.GroupSupervisor) ||
		user.InGroup(models.GroupAdvisor)
}
