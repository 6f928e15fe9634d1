package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campushub/thesis-api/internal/models"
)

func accessThesis() *models.Thesis {
	return &models.Thesis{
		ID:         "th1",
		Visibility: models.ThesisVisibilityPrivate,
		Roles: []models.ThesisRole{
			{ThesisID: "th1", UserID: "stud1", Role: models.ThesisRoleStudent},
			{ThesisID: "th1", UserID: "adv1", Role: models.ThesisRoleAdvisor},
			{ThesisID: "th1", UserID: "sup1", Role: models.ThesisRoleSupervisor},
		},
	}
}

func TestAccessHierarchyWidens(t *testing.T) {
	thesis := accessThesis()

	supervisor := models.User{ID: "sup1", Groups: models.GroupList{models.GroupSupervisor}}
	advisor := models.User{ID: "adv1", Groups: models.GroupList{models.GroupAdvisor}}
	student := models.User{ID: "stud1", Groups: models.GroupList{models.GroupStudent}}
	stranger := models.User{ID: "other", Groups: models.GroupList{models.GroupStudent}}

	// Supervisor access implies every weaker level.
	assert.True(t, HasSupervisorAccess(supervisor, thesis))
	assert.True(t, HasAdvisorAccess(supervisor, thesis))
	assert.True(t, HasStudentAccess(supervisor, thesis))
	assert.True(t, HasReadAccess(supervisor, thesis))

	// Advisor access implies student and read but not supervisor.
	assert.False(t, HasSupervisorAccess(advisor, thesis))
	assert.True(t, HasAdvisorAccess(advisor, thesis))
	assert.True(t, HasStudentAccess(advisor, thesis))
	assert.True(t, HasReadAccess(advisor, thesis))

	// Student access implies read only.
	assert.False(t, HasSupervisorAccess(student, thesis))
	assert.False(t, HasAdvisorAccess(student, thesis))
	assert.True(t, HasStudentAccess(student, thesis))
	assert.True(t, HasReadAccess(student, thesis))

	// A private thesis stays hidden from non-participants.
	assert.False(t, HasStudentAccess(stranger, thesis))
	assert.False(t, HasReadAccess(stranger, thesis))
}

func TestAdminHasFullAccessWithoutRole(t *testing.T) {
	thesis := accessThesis()
	admin := models.User{ID: "admin1", Groups: models.GroupList{models.GroupAdmin}}

	assert.True(t, HasSupervisorAccess(admin, thesis))
	assert.True(t, HasReadAccess(admin, thesis))
}

func TestGroupMembershipAloneIsNotEnough(t *testing.T) {
	thesis := accessThesis()

	// Supervisor group without a role on this thesis.
	outsider := models.User{ID: "sup2", Groups: models.GroupList{models.GroupSupervisor}}
	assert.False(t, HasSupervisorAccess(outsider, thesis))
	assert.False(t, HasAdvisorAccess(outsider, thesis))

	// Role on the thesis without the matching group.
	demoted := models.User{ID: "sup1", Groups: models.GroupList{models.GroupStudent}}
	assert.False(t, HasSupervisorAccess(demoted, thesis))
}

func TestReadAccessFollowsVisibility(t *testing.T) {
	stranger := models.User{ID: "other", Groups: models.GroupList{models.GroupStudent}}
	anonymous := models.User{}

	thesis := accessThesis()

	thesis.Visibility = models.ThesisVisibilityPublic
	assert.True(t, HasReadAccess(stranger, thesis))
	assert.True(t, HasReadAccess(anonymous, thesis))

	thesis.Visibility = models.ThesisVisibilityStudent
	assert.True(t, HasReadAccess(stranger, thesis))
	assert.False(t, HasReadAccess(anonymous, thesis))

	// INTERNAL is open to any signed-in group member, not just staff.
	thesis.Visibility = models.ThesisVisibilityInternal
	assert.True(t, HasReadAccess(stranger, thesis))
	staff := models.User{ID: "adv9", Groups: models.GroupList{models.GroupAdvisor}}
	assert.True(t, HasReadAccess(staff, thesis))
	assert.False(t, HasReadAccess(anonymous, thesis))

	thesis.Visibility = models.ThesisVisibilityPrivate
	assert.False(t, HasReadAccess(stranger, thesis))
}
