package models

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
)

// Group names sourced from the identity provider. The engine never
// invents groups; it only mirrors what the provider reports.
const (
	GroupAdmin      = "admin"
	GroupSupervisor = "supervisor"
	GroupAdvisor    = "advisor"
	GroupStudent    = "student"
)

// User represents an account stored in the users table. Group
// memberships are cached from the identity provider on login and
// carried in the JWT so access checks see the freshest set.
type User struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	UniversityID   string     `db:"university_id" json:"university_id"`
	StudyProgram   *string    `db:"study_program" json:"study_program,omitempty"`
	Groups         GroupList  `db:"groups" json:"groups"`
	Active         bool       `db:"active" json:"active"`
	LastLogin      *time.Time `db:"last_login" json:"last_login,omitempty"`
	GroupsSyncedAt *time.Time `db:"groups_synced_at" json:"groups_synced_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name for display and mail salutations.
func (u User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// InGroup reports whether the user currently belongs to the named
// identity-provider group.
func (u User) InGroup(group string) bool {
	return u.Groups.Contains(group)
}

// GroupList is a set of identity-provider group names stored as a
// Postgres text array.
type GroupList []string

// Contains reports membership of the named group.
func (g GroupList) Contains(group string) bool {
	for _, name := range g {
		if name == group {
			return true
		}
	}
	return false
}

// Scan implements sql.Scanner.
func (g *GroupList) Scan(src interface{}) error {
	return (*pq.StringArray)(g).Scan(src)
}

// Value implements driver.Valuer.
func (g GroupList) Value() (driver.Value, error) {
	return pq.StringArray(g).Value()
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Group     string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
