package dto

import (
	"time"

	"github.com/campushub/thesis-api/internal/models"
)

// CreatePresentationRequest payload for drafting a presentation slot.
type CreatePresentationRequest struct {
	ThesisID        string                        `json:"thesisId" validate:"required"`
	Type            models.PresentationType       `json:"type" validate:"required,oneof=INTERMEDIATE FINAL"`
	Visibility      models.PresentationVisibility `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE"`
	Location        string                        `json:"location"`
	StreamURL       string                        `json:"streamUrl"`
	Language        string                        `json:"language"`
	ScheduledAt     time.Time                     `json:"scheduledAt" validate:"required"`
	DurationMinutes int                           `json:"durationMinutes" validate:"omitempty,min=5,max=480"`
	InviteEmails    []string                      `json:"inviteEmails" validate:"omitempty,dive,email"`
}

// UpdatePresentationRequest payload for rescheduling a drafted slot.
type UpdatePresentationRequest struct {
	Location        string    `json:"location"`
	StreamURL       string    `json:"streamUrl"`
	Language        string    `json:"language"`
	ScheduledAt     time.Time `json:"scheduledAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"omitempty,min=5,max=480"`
}

// PresentationListQuery mirrors supported listing filters.
type PresentationListQuery struct {
	ThesisID   string   `form:"thesisId"`
	Type       []string `form:"type"`
	Visibility []string `form:"visibility"`
	State      []string `form:"state"`
	Page       int      `form:"page"`
	PageSize   int      `form:"pageSize"`
}
