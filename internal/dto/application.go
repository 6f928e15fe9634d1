package dto

import (
	"time"

	"github.com/campushub/thesis-api/internal/models"
)

// CreateApplicationRequest payload for submitting a thesis application.
type CreateApplicationRequest struct {
	TopicID      *string    `json:"topicId"`
	ThesisTitle  string     `json:"thesisTitle" validate:"required,max=255"`
	ThesisType   string     `json:"thesisType" validate:"required"`
	Motivation   string     `json:"motivation" validate:"required,max=4000"`
	DesiredStart *time.Time `json:"desiredStartDate"`
}

// AcceptApplicationRequest payload for accepting an application and
// materialising the thesis.
type AcceptApplicationRequest struct {
	ThesisTitle   *string  `json:"thesisTitle"`
	ThesisType    *string  `json:"thesisType"`
	AdvisorIDs    []string `json:"advisorIds" validate:"required,min=1"`
	SupervisorIDs []string `json:"supervisorIds" validate:"required,min=1"`
	Comment       *string  `json:"comment"`
	CloseTopic    bool     `json:"closeTopic"`
	NotifyUser    bool     `json:"notifyUser"`
}

// RejectApplicationRequest payload for rejecting an application.
type RejectApplicationRequest struct {
	Reason     models.RejectReason `json:"reason" validate:"required"`
	Comment    *string             `json:"comment"`
	NotifyUser bool                `json:"notifyUser"`
}

// ReviewerMarkRequest records or replaces a reviewer's triage mark.
type ReviewerMarkRequest struct {
	Interest models.ReviewInterest `json:"interest" validate:"required,oneof=INTERESTED NOT_INTERESTED"`
}

// ApplicationListQuery mirrors supported listing filters.
type ApplicationListQuery struct {
	State      []string `form:"state"`
	TopicID    string   `form:"topicId"`
	ThesisType string   `form:"thesisType"`
	Search     string   `form:"search"`
	Page       int      `form:"page"`
	PageSize   int      `form:"pageSize"`
}
