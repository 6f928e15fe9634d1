package models

import "time"

// ThesisState tracks a thesis through its lifecycle. States form a
// total order; DROPPED_OUT is a terminal escape hatch reachable from
// any non-terminal state.
type ThesisState string

const (
	ThesisStateProposal   ThesisState = "PROPOSAL"
	ThesisStateWriting    ThesisState = "WRITING"
	ThesisStateSubmitted  ThesisState = "SUBMITTED"
	ThesisStateAssessed   ThesisState = "ASSESSED"
	ThesisStateGraded     ThesisState = "GRADED"
	ThesisStateFinished   ThesisState = "FINISHED"
	ThesisStateDroppedOut ThesisState = "DROPPED_OUT"
)

// Terminal reports whether no further transitions are defined.
func (s ThesisState) Terminal() bool {
	return s == ThesisStateFinished || s == ThesisStateDroppedOut
}

// Active reports whether the thesis still counts against its student's
// workload (used for identity-group removal at completion).
func (s ThesisState) Active() bool {
	return !s.Terminal()
}

// ThesisVisibility controls who may read a thesis.
type ThesisVisibility string

const (
	ThesisVisibilityPrivate  ThesisVisibility = "PRIVATE"
	ThesisVisibilityInternal ThesisVisibility = "INTERNAL"
	ThesisVisibilityStudent  ThesisVisibility = "STUDENT"
	ThesisVisibilityPublic   ThesisVisibility = "PUBLIC"
)

// ValidVisibility reports whether the value is one of the four
// enumerated visibilities.
func ValidVisibility(v ThesisVisibility) bool {
	switch v {
	case ThesisVisibilityPrivate, ThesisVisibilityInternal, ThesisVisibilityStudent, ThesisVisibilityPublic:
		return true
	default:
		return false
	}
}

// ThesisRoleName enumerates per-thesis role capabilities.
type ThesisRoleName string

const (
	ThesisRoleStudent    ThesisRoleName = "STUDENT"
	ThesisRoleAdvisor    ThesisRoleName = "ADVISOR"
	ThesisRoleSupervisor ThesisRoleName = "SUPERVISOR"
)

// Thesis is the materialized academic work created on application
// acceptance or directly. Never deleted.
type Thesis struct {
	ID            string           `db:"id" json:"id"`
	Title         string           `db:"title" json:"title"`
	Type          string           `db:"type" json:"type"`
	Visibility    ThesisVisibility `db:"visibility" json:"visibility"`
	State         ThesisState      `db:"state" json:"state"`
	ApplicationID *string          `db:"application_id" json:"application_id,omitempty"`
	Abstract      string           `db:"abstract" json:"abstract"`
	Info          string           `db:"info" json:"info"`
	FinalGrade    *string          `db:"final_grade" json:"final_grade,omitempty"`
	FinalFeedback *string          `db:"final_feedback" json:"final_feedback,omitempty"`
	StartDate     *time.Time       `db:"start_date" json:"start_date,omitempty"`
	EndDate       *time.Time       `db:"end_date" json:"end_date,omitempty"`
	CreatedBy     string           `db:"created_by" json:"created_by"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`

	// Loaded relations (ids only, no back-pointers).
	Roles        []ThesisRole       `db:"-" json:"roles,omitempty"`
	Proposals    []ThesisProposal   `db:"-" json:"proposals,omitempty"`
	Assessments  []ThesisAssessment `db:"-" json:"assessments,omitempty"`
	Files        []ThesisFile       `db:"-" json:"files,omitempty"`
	StateChanges []ThesisStateChange `db:"-" json:"state_changes,omitempty"`
}

// HasRole reports whether the given user holds the named role.
func (t Thesis) HasRole(userID string, role ThesisRoleName) bool {
	for _, assignment := range t.Roles {
		if assignment.UserID == userID && assignment.Role == role {
			return true
		}
	}
	return false
}

// RoleUserIDs returns the ids of all holders of the named role.
func (t Thesis) RoleUserIDs(role ThesisRoleName) []string {
	var ids []string
	for _, assignment := range t.Roles {
		if assignment.Role == role {
			ids = append(ids, assignment.UserID)
		}
	}
	return ids
}

// LatestProposal returns the most recent proposal, approved or not.
func (t Thesis) LatestProposal() *ThesisProposal {
	if len(t.Proposals) == 0 {
		return nil
	}
	return &t.Proposals[0]
}

// HasFileOfType reports whether a file of the given type is attached.
func (t Thesis) HasFileOfType(fileType ThesisFileType) bool {
	for _, file := range t.Files {
		if file.Type == fileType {
			return true
		}
	}
	return false
}

// ThesisRole assigns a per-thesis capability to a user. The authoritative
// access-control source together with live group membership.
type ThesisRole struct {
	ThesisID   string         `db:"thesis_id" json:"thesis_id"`
	UserID     string         `db:"user_id" json:"user_id"`
	Role       ThesisRoleName `db:"role" json:"role"`
	Position   int            `db:"position" json:"position"`
	AssignedBy string         `db:"assigned_by" json:"assigned_by"`
	AssignedAt time.Time      `db:"assigned_at" json:"assigned_at"`
}

// ThesisProposal is an uploaded proposal document awaiting advisor
// approval. History is retained; at most one open proposal matters.
type ThesisProposal struct {
	ID          string     `db:"id" json:"id"`
	ThesisID    string     `db:"thesis_id" json:"thesis_id"`
	DocumentRef string     `db:"document_ref" json:"document_ref"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ApprovedBy  *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
}

// Approved reports whether the proposal was accepted.
func (p ThesisProposal) Approved() bool {
	return p.ApprovedAt != nil
}

// ThesisAssessment is an advisor's append-only evaluation. The most
// recent one is authoritative for display; all are retained.
type ThesisAssessment struct {
	ID              string    `db:"id" json:"id"`
	ThesisID        string    `db:"thesis_id" json:"thesis_id"`
	Summary         string    `db:"summary" json:"summary"`
	Positives       string    `db:"positives" json:"positives"`
	Negatives       string    `db:"negatives" json:"negatives"`
	GradeSuggestion string    `db:"grade_suggestion" json:"grade_suggestion"`
	CreatedBy       string    `db:"created_by" json:"created_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// ThesisFileType distinguishes uploaded artifacts.
type ThesisFileType string

const (
	ThesisFileTypeThesis       ThesisFileType = "THESIS"
	ThesisFileTypePresentation ThesisFileType = "PRESENTATION"
)

// ThesisFile references an uploaded artifact in the document store.
type ThesisFile struct {
	ID          string         `db:"id" json:"id"`
	ThesisID    string         `db:"thesis_id" json:"thesis_id"`
	Type        ThesisFileType `db:"type" json:"type"`
	Filename    string         `db:"filename" json:"filename"`
	DocumentRef string         `db:"document_ref" json:"document_ref"`
	UploadedBy  string         `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// ThesisStateChange is one row per state ever entered; the set of rows
// reconstructs full history. Rows are derived from transitions, never
// set independently.
type ThesisStateChange struct {
	ID        string      `db:"id" json:"id"`
	ThesisID  string      `db:"thesis_id" json:"thesis_id"`
	State     ThesisState `db:"state" json:"state"`
	ChangedBy string      `db:"changed_by" json:"changed_by"`
	EnteredAt time.Time   `db:"entered_at" json:"entered_at"`
}

// ThesisFilter constrains thesis listing queries.
type ThesisFilter struct {
	States       []ThesisState
	Visibilities []ThesisVisibility
	UserID       string
	Type         string
	Search       string
	Page         int
	PageSize     int
}
