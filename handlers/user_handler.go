package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/middleware"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

// InviteUserRequest represents a request to add a user to the caller's organization
type InviteUserRequest struct {
	Email string          `json:"email"`
	Role  models.UserRole `json:"role" validate:"omitempty,oneof=member admin"`
}

// UpdateRoleRequest represents a request to change a user's role
type UpdateRoleRequest struct {
	Role models.UserRole `json:"role" validate:"required,oneof=member admin"`
}

// UserMutationResponse is returned by invite and role changes
type UserMutationResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	User    *models.User `json:"user,omitempty"`
}

// UserService defines the user administration operations
type UserService interface {
	List(ctx context.Context, orgID uuid.UUID) ([]*models.User, error)
	Invite(ctx context.Context, orgID, actorID uuid.UUID, email string, role models.UserRole) (*models.User, error)
	UpdateRole(ctx context.Context, orgID, actorID, userID uuid.UUID, role models.UserRole) (*models.User, error)
	Delete(ctx context.Context, orgID, actorID, userID uuid.UUID) error
}

// UserHandler handles user administration requests. Every operation is
// scoped to the organization in the caller's credential.
type UserHandler struct {
	users  UserService
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// HandleListOrganizationUsers handles GET /users/organization
func (h *UserHandler) HandleListOrganizationUsers(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	users, err := h.users.List(r.Context(), identity.OrganizationID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, nonNil(users))
}

// HandleInvite handles POST /users/invite
func (h *UserHandler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req InviteUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		_ = utils.WriteBadRequest(w, "Email is required", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.users.Invite(r.Context(), identity.OrganizationID, identity.ID, req.Email, req.Role)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, UserMutationResponse{
		Success: true,
		Message: "User invited successfully",
		User:    user,
	})
}

// HandleUpdateRole handles PATCH /users/{userId}/role
func (h *UserHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid role. Must be 'member' or 'admin'", nil)
		return
	}

	user, err := h.users.UpdateRole(r.Context(), identity.OrganizationID, identity.ID, userID, req.Role)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, UserMutationResponse{
		Success: true,
		Message: "Role updated successfully",
		User:    user,
	})
}

// HandleDelete handles DELETE /users/{userId}
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), identity.OrganizationID, identity.ID, userID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, UserMutationResponse{
		Success: true,
		Message: "User deleted successfully",
	})
}

// requireIdentity returns the guard's identity or writes 401. Routes are
// always mounted behind Authenticate, so a miss means a wiring mistake.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*middleware.Identity, bool) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		_ = utils.WriteErrorCode(w, http.StatusUnauthorized, middleware.CodeAuthRequired, "Authentication required")
		return nil, false
	}
	return identity, true
}

// pathUUID parses a chi URL parameter or writes 400
func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := utils.ParseUUID(chi.URLParam(r, param), param)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return uuid.Nil, false
	}
	return id, true
}

// nonNil keeps empty lists encoded as [] rather than null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
