package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRole represents the role of a user within an organization
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
)

// Valid reports whether r is a known role
func (r UserRole) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// User represents a member of exactly one organization
type User struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	FirstName      string    `json:"first_name" db:"first_name"`
	LastName       string    `json:"last_name" db:"last_name"`
	Role           UserRole  `json:"role" db:"role"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	ExternalUserID *string   `json:"external_user_id,omitempty" db:"external_user_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User instance
func NewUser(email, firstName, lastName string, orgID uuid.UUID, role UserRole) *User {
	now := time.Now()
	return &User{
		ID:             uuid.New(),
		Email:          email,
		FirstName:      firstName,
		LastName:       lastName,
		Role:           role,
		OrganizationID: orgID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsAdmin returns true if the user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeEmail trims and lowercases email. Users and organization
// domains are keyed on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailLocalPart returns the part of email before the last "@"
func EmailLocalPart(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

// EmailDomain returns the part of email after the last "@", or "" when
// email has no domain
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return email[i+1:]
}
