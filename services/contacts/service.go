// Package contacts is the organization-scoped contact book.
package contacts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/repositories"
	"github.com/upb/multi-tenant-crm/services"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

const (
	// SearchLimit caps the number of search results
	SearchLimit = 50

	// MinSearchLength is the shortest accepted search term
	MinSearchLength = 2

	// RecentWindow is the look-back for the recent contacts statistic
	RecentWindow = 7 * 24 * time.Hour
)

// Input carries the editable fields of a contact
type Input struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
}

func (in Input) normalize() (Input, error) {
	out := Input{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     models.OptionalString(in.Email),
		Phone:     models.OptionalString(in.Phone),
		Address:   models.OptionalString(in.Address),
	}
	if out.FirstName == "" || out.LastName == "" {
		return out, services.NewValidationError("First name and last name are required")
	}
	return out, nil
}

// ContactService handles contact CRUD within one organization
type ContactService struct {
	contactRepo repositories.ContactRepository
	logger      *zap.Logger
	now         func() time.Time
}

// NewContactService creates a new ContactService instance
func NewContactService(contactRepo repositories.ContactRepository, logger *zap.Logger) *ContactService {
	return &ContactService{
		contactRepo: contactRepo,
		logger:      logger,
		now:         time.Now,
	}
}

// List returns the organization's contacts, newest first
func (s *ContactService) List(ctx context.Context, orgID uuid.UUID) ([]*models.Contact, error) {
	contacts, err := s.contactRepo.List(ctx, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to fetch contacts", err)
	}
	return contacts, nil
}

// Get returns one contact of the organization
func (s *ContactService) Get(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error) {
	c, err := s.contactRepo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, services.FromRepository(err, "failed to fetch contact", services.ErrContactNotFound, nil)
	}
	return c, nil
}

// Create adds a contact owned by the organization and attributed to createdBy
func (s *ContactService) Create(ctx context.Context, orgID, createdBy uuid.UUID, in Input) (*models.Contact, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &models.Contact{
		ID:             uuid.New(),
		OrganizationID: orgID,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Email:          in.Email,
		Phone:          in.Phone,
		Address:        in.Address,
		CreatedBy:      &createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.contactRepo.Create(ctx, c); err != nil {
		return nil, services.FromRepository(err, "failed to create contact", nil, services.ErrContactExists)
	}

	s.logger.Info("contact created",
		zap.String("contact_id", c.ID.String()),
		zap.String("organization_id", orgID.String()))
	return c, nil
}

// Update replaces the editable fields of a contact in the organization
func (s *ContactService) Update(ctx context.Context, orgID, id uuid.UUID, in Input) (*models.Contact, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	updated, err := s.contactRepo.Update(ctx, &models.Contact{
		ID:             id,
		OrganizationID: orgID,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Email:          in.Email,
		Phone:          in.Phone,
		Address:        in.Address,
		UpdatedAt:      s.now(),
	})
	if err != nil {
		return nil, services.FromRepository(err, "failed to update contact", services.ErrContactNotFound, services.ErrContactExists)
	}
	return updated, nil
}

// Delete removes a contact and returns it
func (s *ContactService) Delete(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error) {
	c, err := s.contactRepo.Delete(ctx, orgID, id)
	if err != nil {
		return nil, services.FromRepository(err, "failed to delete contact", services.ErrContactNotFound, nil)
	}
	return c, nil
}

// DeleteMany removes the contacts named by a comma-separated id list.
// Ids outside the organization are ignored.
func (s *ContactService) DeleteMany(ctx context.Context, orgID uuid.UUID, idList string) ([]*models.Contact, error) {
	var ids []uuid.UUID
	for _, raw := range strings.Split(idList, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := utils.ParseUUID(raw, "contact id")
		if err != nil {
			return nil, services.NewValidationError(err.Error())
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, services.NewValidationError("No contact IDs provided")
	}

	deleted, err := s.contactRepo.DeleteMany(ctx, orgID, ids)
	if err != nil {
		return nil, services.WrapInternal("failed to bulk delete contacts", err)
	}

	s.logger.Info("contacts deleted",
		zap.Int("count", len(deleted)),
		zap.String("organization_id", orgID.String()))
	return deleted, nil
}

// Search matches query against names and email
func (s *ContactService) Search(ctx context.Context, orgID uuid.UUID, query string) ([]*models.Contact, error) {
	term := strings.ToLower(strings.TrimSpace(query))
	if err := utils.ValidateStringLength(term, "search query", MinSearchLength, 0); err != nil {
		return nil, services.NewValidationError("Search query must be at least 2 characters long")
	}

	contacts, err := s.contactRepo.Search(ctx, orgID, term, SearchLimit)
	if err != nil {
		return nil, services.WrapInternal("failed to search contacts", err)
	}
	return contacts, nil
}

// Stats summarizes the organization's contacts
func (s *ContactService) Stats(ctx context.Context, orgID uuid.UUID) (*models.ContactStats, error) {
	stats, err := s.contactRepo.Stats(ctx, orgID, s.now().Add(-RecentWindow))
	if err != nil {
		return nil, services.WrapInternal("failed to fetch contact statistics", err)
	}
	return stats, nil
}
