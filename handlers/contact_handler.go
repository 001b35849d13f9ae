package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/services/contacts"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

// ContactService defines the contact operations
type ContactService interface {
	List(ctx context.Context, orgID uuid.UUID) ([]*models.Contact, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error)
	Create(ctx context.Context, orgID, createdBy uuid.UUID, in contacts.Input) (*models.Contact, error)
	Update(ctx context.Context, orgID, id uuid.UUID, in contacts.Input) (*models.Contact, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error)
	DeleteMany(ctx context.Context, orgID uuid.UUID, idList string) ([]*models.Contact, error)
	Search(ctx context.Context, orgID uuid.UUID, query string) ([]*models.Contact, error)
	Stats(ctx context.Context, orgID uuid.UUID) (*models.ContactStats, error)
}

// DeleteContactResponse is returned by single deletes
type DeleteContactResponse struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	DeletedContact *models.Contact `json:"deletedContact"`
}

// BulkDeleteResponse is returned by bulk deletes
type BulkDeleteResponse struct {
	Success         bool              `json:"success"`
	Message         string            `json:"message"`
	DeletedContacts []*models.Contact `json:"deletedContacts"`
}

// ContactHandler handles contact requests for the caller's organization
type ContactHandler struct {
	contacts ContactService
	logger   *zap.Logger
}

// NewContactHandler creates a new ContactHandler
func NewContactHandler(contacts ContactService, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{
		contacts: contacts,
		logger:   logger,
	}
}

// HandleList handles GET /contacts
func (h *ContactHandler) HandleList(w http.ResponseWriter, r *http.Request) {
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

// HandleGet handles GET /contacts/{id}
func (h *ContactHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	contact, err := h.contacts.Get(r.Context(), identity.OrganizationID, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, contact)
}

// HandleCreate handles POST /contacts
func (h *ContactHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var in contacts.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	contact, err := h.contacts.Create(r.Context(), identity.OrganizationID, identity.ID, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, contact)
}

// HandleUpdate handles PUT /contacts/{id}
func (h *ContactHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var in contacts.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	contact, err := h.contacts.Update(r.Context(), identity.OrganizationID, id, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, contact)
}

// HandleDelete handles DELETE /contacts/{id}
func (h *ContactHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	contact, err := h.contacts.Delete(r.Context(), identity.OrganizationID, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, DeleteContactResponse{
		Success:        true,
		Message:        "Contact deleted successfully",
		DeletedContact: contact,
	})
}

// HandleBulkDelete handles DELETE /contacts/bulk/{ids}
func (h *ContactHandler) HandleBulkDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	deleted, err := h.contacts.DeleteMany(r.Context(), identity.OrganizationID, chi.URLParam(r, "ids"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	deleted = nonNil(deleted)
	_ = utils.WriteOK(w, BulkDeleteResponse{
		Success:         true,
		Message:         fmt.Sprintf("%d contacts deleted successfully", len(deleted)),
		DeletedContacts: deleted,
	})
}

// HandleSearch handles GET /contacts/search/{query}
func (h *ContactHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	query := chi.URLParam(r, "query")
	if unescaped, err := url.PathUnescape(query); err == nil {
		query = unescaped
	}

	results, err := h.contacts.Search(r.Context(), identity.OrganizationID, query)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, nonNil(results))
}

// HandleStats handles GET /contacts/stats/overview
func (h *ContactHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	stats, err := h.contacts.Stats(r.Context(), identity.OrganizationID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, stats)
}
