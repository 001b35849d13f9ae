package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Contact is a CRM record owned by an organization
type Contact struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	FirstName      string     `json:"first_name" db:"first_name"`
	LastName       string     `json:"last_name" db:"last_name"`
	Email          *string    `json:"email" db:"email"`
	Phone          *string    `json:"phone" db:"phone"`
	Address        *string    `json:"address" db:"address"`
	CreatedBy      *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Contact model
func (Contact) TableName() string {
	return "contacts"
}

// ContactStats summarizes an organization's contacts
type ContactStats struct {
	TotalContacts        int `json:"totalContacts"`
	ContactsWithEmail    int `json:"contactsWithEmail"`
	ContactsWithoutEmail int `json:"contactsWithoutEmail"`
	RecentContacts       int `json:"recentContacts"`
	EmailPercentage      int `json:"emailPercentage"`
}

// OptionalString trims s and returns nil when nothing is left
func OptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
