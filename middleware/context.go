package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
)

// Context key type to avoid collisions
type contextKey string

// IdentityKey is the context key for the authenticated identity
const IdentityKey contextKey = "identity"

// Identity is the authenticated caller for a single request
type Identity struct {
	ID             uuid.UUID       `json:"id"`
	Email          string          `json:"email"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	Role           models.UserRole `json:"role"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
}

// IsAdmin returns true if the caller has the admin role
func (i *Identity) IsAdmin() bool {
	return i.Role == models.RoleAdmin
}

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentityFromContext retrieves the authenticated identity, or nil
func GetIdentityFromContext(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(IdentityKey).(*Identity); ok {
		return identity
	}
	return nil
}
