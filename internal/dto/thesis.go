package dto

import (
	"time"

	"github.com/campushub/thesis-api/internal/models"
)

// CreateThesisRequest payload for creating a thesis without an
// application, e.g. for externally arranged projects.
type CreateThesisRequest struct {
	Title         string     `json:"title" validate:"required,max=255"`
	Type          string     `json:"type" validate:"required"`
	StudentIDs    []string   `json:"studentIds" validate:"required,min=1"`
	AdvisorIDs    []string   `json:"advisorIds" validate:"required,min=1"`
	SupervisorIDs []string   `json:"supervisorIds" validate:"required,min=1"`
	StartDate     *time.Time `json:"startDate"`
}

// UpdateThesisRequest payload for editing descriptive thesis fields.
type UpdateThesisRequest struct {
	Title      string                  `json:"title" validate:"required,max=255"`
	Abstract   string                  `json:"abstract"`
	Info       string                  `json:"info"`
	Visibility models.ThesisVisibility `json:"visibility" validate:"required"`
	StartDate  *time.Time              `json:"startDate"`
	EndDate    *time.Time              `json:"endDate"`
}

// CreateAssessmentRequest payload for the advisor's pre-grading
// assessment.
type CreateAssessmentRequest struct {
	Summary         string `json:"summary" validate:"required"`
	Positives       string `json:"positives"`
	Negatives       string `json:"negatives"`
	GradeSuggestion string `json:"gradeSuggestion"`
}

// GradeThesisRequest payload for the supervisor's final grade.
type GradeThesisRequest struct {
	FinalGrade    string                   `json:"finalGrade" validate:"required"`
	FinalFeedback string                   `json:"finalFeedback"`
	Visibility    *models.ThesisVisibility `json:"visibility"`
}

// ThesisListQuery mirrors supported listing filters.
type ThesisListQuery struct {
	State      []string `form:"state"`
	Visibility []string `form:"visibility"`
	Type       string   `form:"type"`
	Search     string   `form:"search"`
	Mine       bool     `form:"mine"`
	Page       int      `form:"page"`
	PageSize   int      `form:"pageSize"`
}
