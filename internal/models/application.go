package models

import "time"

// ApplicationState captures the review lifecycle of an application.
// NOT_ASSESSED is the only non-terminal state; ACCEPTED and REJECTED
// are terminal.
type ApplicationState string

const (
	ApplicationStateNotAssessed ApplicationState = "NOT_ASSESSED"
	ApplicationStateAccepted    ApplicationState = "ACCEPTED"
	ApplicationStateRejected    ApplicationState = "REJECTED"
)

// Decided reports whether the application reached a terminal state.
func (s ApplicationState) Decided() bool {
	return s == ApplicationStateAccepted || s == ApplicationStateRejected
}

// RejectReason enumerates why an application was turned down.
type RejectReason string

const (
	RejectReasonTopicFilled               RejectReason = "TOPIC_FILLED"
	RejectReasonTopicOutdated             RejectReason = "TOPIC_OUTDATED"
	RejectReasonFailedStudentRequirements RejectReason = "FAILED_STUDENT_REQUIREMENTS"
	RejectReasonTitleNotInteresting       RejectReason = "TITLE_NOT_INTERESTING"
	RejectReasonNoCapacity                RejectReason = "NO_CAPACITY"
)

// ValidRejectReason reports whether the given reason is known.
func ValidRejectReason(reason RejectReason) bool {
	switch reason {
	case RejectReasonTopicFilled, RejectReasonTopicOutdated,
		RejectReasonFailedStudentRequirements, RejectReasonTitleNotInteresting,
		RejectReasonNoCapacity:
		return true
	default:
		return false
	}
}

// Application is a prospective student's submission, optionally against
// a topic. Applications are never deleted; review actions are the only
// mutations.
type Application struct {
	ID           string           `db:"id" json:"id"`
	UserID       string           `db:"user_id" json:"user_id"`
	TopicID      *string          `db:"topic_id" json:"topic_id,omitempty"`
	ThesisTitle  string           `db:"thesis_title" json:"thesis_title"`
	ThesisType   string           `db:"thesis_type" json:"thesis_type"`
	Motivation   string           `db:"motivation" json:"motivation"`
	State        ApplicationState `db:"state" json:"state"`
	RejectReason *RejectReason    `db:"reject_reason" json:"reject_reason,omitempty"`
	Comment      *string          `db:"comment" json:"-"`
	ThesisID     *string          `db:"thesis_id" json:"thesis_id,omitempty"`
	DesiredStart *time.Time       `db:"desired_start_date" json:"desired_start_date,omitempty"`
	ReviewedAt   *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// ReviewInterest enumerates reviewer triage marks.
type ReviewInterest string

const (
	ReviewInterestInterested    ReviewInterest = "INTERESTED"
	ReviewInterestNotInterested ReviewInterest = "NOT_INTERESTED"
)

// ReviewerMark records a reviewer's triage note on an application. At
// most one mark per (application, reviewer); writes are upserts. Marks
// are an audit layer and never block accept/reject decisions.
type ReviewerMark struct {
	ApplicationID string         `db:"application_id" json:"application_id"`
	ReviewerID    string         `db:"reviewer_id" json:"reviewer_id"`
	Interest      ReviewInterest `db:"interest" json:"interest"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// ApplicationFilter constrains application listing queries.
type ApplicationFilter struct {
	States     []ApplicationState
	UserID     string
	TopicID    string
	ThesisType string
	Search     string
	Page       int
	PageSize   int
}
