package dto

import "github.com/campushub/thesis-api/internal/models"

// TopicRoleInput binds a user to an advertised topic slot.
type TopicRoleInput struct {
	UserID string           `json:"userId" validate:"required"`
	Role   models.TopicRole `json:"role" validate:"required,oneof=ADVISOR SUPERVISOR"`
}

// CreateTopicRequest payload for publishing a new topic.
type CreateTopicRequest struct {
	Title        string           `json:"title" validate:"required,max=255"`
	ProblemDesc  string           `json:"problemDescription" validate:"required"`
	Requirements string           `json:"requirements"`
	Goals        string           `json:"goals"`
	References   string           `json:"references"`
	ThesisTypes  []string         `json:"thesisTypes" validate:"required,min=1"`
	Roles        []TopicRoleInput `json:"roles" validate:"required,min=1,dive"`
}

// UpdateTopicRequest payload for editing an open topic.
type UpdateTopicRequest struct {
	Title        string           `json:"title" validate:"required,max=255"`
	ProblemDesc  string           `json:"problemDescription" validate:"required"`
	Requirements string           `json:"requirements"`
	Goals        string           `json:"goals"`
	References   string           `json:"references"`
	ThesisTypes  []string         `json:"thesisTypes" validate:"required,min=1"`
	Roles        []TopicRoleInput `json:"roles" validate:"required,min=1,dive"`
}

// CloseTopicRequest carries the reject reason applied to the topic's
// pending applications.
type CloseTopicRequest struct {
	Reason models.RejectReason `json:"reason" validate:"required"`
}

// TopicListQuery mirrors supported listing filters.
type TopicListQuery struct {
	IncludeClosed bool   `form:"includeClosed"`
	ThesisType    string `form:"thesisType"`
	Search        string `form:"search"`
	Page          int    `form:"page"`
	PageSize      int    `form:"pageSize"`
}
