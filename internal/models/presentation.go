package models

import "time"

// PresentationType distinguishes mid-project talks from the defense.
type PresentationType string

const (
	PresentationTypeIntermediate PresentationType = "INTERMEDIATE"
	PresentationTypeFinal        PresentationType = "FINAL"
)

// PresentationVisibility controls feed and invite exposure.
type PresentationVisibility string

const (
	PresentationVisibilityPublic  PresentationVisibility = "PUBLIC"
	PresentationVisibilityPrivate PresentationVisibility = "PRIVATE"
)

// PresentationState tracks confirmation. SCHEDULED presentations cannot
// be rescheduled; delete and recreate instead.
type PresentationState string

const (
	PresentationStateDrafted   PresentationState = "DRAFTED"
	PresentationStateScheduled PresentationState = "SCHEDULED"
)

// Presentation is a scheduled talk tied to a thesis. CalendarEventID is
// the external calendar handle; nil means "not synced" and is an
// accepted degraded state.
type Presentation struct {
	ID              string                 `db:"id" json:"id"`
	ThesisID        string                 `db:"thesis_id" json:"thesis_id"`
	Type            PresentationType       `db:"type" json:"type"`
	Visibility      PresentationVisibility `db:"visibility" json:"visibility"`
	State           PresentationState      `db:"state" json:"state"`
	Location        *string                `db:"location" json:"location,omitempty"`
	StreamURL       *string                `db:"stream_url" json:"stream_url,omitempty"`
	Language        string                 `db:"language" json:"language"`
	ScheduledAt     time.Time              `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int                    `db:"duration_minutes" json:"duration_minutes"`
	CalendarEventID *string                `db:"calendar_event_id" json:"calendar_event_id,omitempty"`
	CreatedBy       string                 `db:"created_by" json:"created_by"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`

	Invites []PresentationInvite `db:"-" json:"invites,omitempty"`
}

// PresentationInvite is an external address invited to a presentation.
type PresentationInvite struct {
	PresentationID string    `db:"presentation_id" json:"presentation_id"`
	Email          string    `db:"email" json:"email"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PresentationFilter constrains presentation listing queries.
type PresentationFilter struct {
	ThesisID     string
	Types        []PresentationType
	Visibilities []PresentationVisibility
	States       []PresentationState
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}
