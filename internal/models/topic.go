package models

import "time"

// TopicRole enumerates the role slots a topic advertises. These are
// matching hints for applicants only; thesis roles are assigned
// independently at acceptance.
type TopicRole string

const (
	TopicRoleAdvisor    TopicRole = "ADVISOR"
	TopicRoleSupervisor TopicRole = "SUPERVISOR"
)

// Topic is an advisor/supervisor-authored thesis proposal pool entry.
// A nil ClosedAt means the topic still accepts applications; once set
// it is never cleared.
type Topic struct {
	ID              string     `db:"id" json:"id"`
	Title           string     `db:"title" json:"title"`
	ProblemDesc     string     `db:"problem_description" json:"problem_description"`
	Requirements    string     `db:"requirements" json:"requirements"`
	Goals           string     `db:"goals" json:"goals"`
	References      string     `db:"references" json:"references"`
	ThesisTypes     GroupList  `db:"thesis_types" json:"thesis_types"`
	ClosedAt        *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	RoleAssignments []TopicRoleAssignment `db:"-" json:"roles,omitempty"`
}

// Open reports whether the topic still accepts applications.
func (t Topic) Open() bool {
	return t.ClosedAt == nil
}

// TopicRoleAssignment binds a user to an advertised topic slot.
type TopicRoleAssignment struct {
	TopicID   string    `db:"topic_id" json:"topic_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Role      TopicRole `db:"role" json:"role"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TopicFilter constrains topic listing queries.
type TopicFilter struct {
	IncludeClosed bool
	ThesisType    string
	Search        string
	Page          int
	PageSize      int
}
