package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/services"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

// OrganizationReader loads a tenant record
type OrganizationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// OrganizationHandler serves /organizations/{organizationId} routes. They are
// mounted behind RequireOwnOrganization, so the path id always equals the
// caller's organization.
type OrganizationHandler struct {
	orgs     OrganizationReader
	users    UserService
	contacts ContactService
	logger   *zap.Logger
}

// NewOrganizationHandler creates a new OrganizationHandler
func NewOrganizationHandler(orgs OrganizationReader, users UserService, contacts ContactService, logger *zap.Logger) *OrganizationHandler {
	return &OrganizationHandler{
		orgs:     orgs,
		users:    users,
		contacts: contacts,
		logger:   logger,
	}
}

// HandleGet handles GET /organizations/{organizationId}
func (h *OrganizationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	org, err := h.orgs.GetByID(r.Context(), identity.OrganizationID)
	if err != nil {
		HandleServiceError(w, services.FromRepository(err, "failed to get organization", services.ErrOrganizationNotFound, nil), h.logger)
		return
	}
	_ = utils.WriteOK(w, org)
}

// HandleListUsers handles GET /organizations/{organizationId}/users
func (h *OrganizationHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
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

// HandleListContacts handles GET /organizations/{organizationId}/contacts
func (h *OrganizationHandler) HandleListContacts(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	list, err := h.contacts.List(r.Context(), identity.OrganizationID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, nonNil(list))
}
