package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant. It is created lazily on the first login
// from a new email domain and deduplicated by domain and external reference.
type Organization struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Domain        string    `json:"domain" db:"domain"`
	ExternalOrgID *string   `json:"external_org_id,omitempty" db:"external_org_id"` // Scalekit organization reference
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Organization model
func (Organization) TableName() string {
	return "organizations"
}

// NewOrganization creates a new Organization instance
func NewOrganization(name, domain string, externalOrgID *string) *Organization {
	now := time.Now()
	return &Organization{
		ID:            uuid.New(),
		Name:          name,
		Domain:        domain,
		ExternalOrgID: externalOrgID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// DefaultOrganizationName is the name given to an organization provisioned
// without one from the identity provider
func DefaultOrganizationName(domain string) string {
	return fmt.Sprintf("%s Organization", domain)
}
