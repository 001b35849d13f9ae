package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/repositories"
	"go.uber.org/zap"
)

const organizationColumns = `id, name, domain, external_org_id, created_at, updated_at`

// OrganizationRepository implements repositories.OrganizationRepository
type OrganizationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB, logger *zap.Logger) *OrganizationRepository {
	return &OrganizationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, name, domain, external_org_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.Domain,
		org.ExternalOrgID,
		org.CreatedAt,
		org.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "create organization")
	}

	r.logger.Debug("organization created",
		zap.String("id", org.ID.String()),
		zap.String("domain", org.Domain))
	return nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return r.getOne(ctx, "get organization", `WHERE id = $1`, id)
}

// GetByExternalRef retrieves an organization by its identity provider reference
func (r *OrganizationRepository) GetByExternalRef(ctx context.Context, ref string) (*models.Organization, error) {
	return r.getOne(ctx, "get organization by external reference", `WHERE external_org_id = $1`, ref)
}

// GetByDomain retrieves an organization by email domain
func (r *OrganizationRepository) GetByDomain(ctx context.Context, domain string) (*models.Organization, error) {
	return r.getOne(ctx, "get organization by domain", `WHERE domain = $1`, domain)
}

// AttachExternalRef records ref on an organization that has none yet
func (r *OrganizationRepository) AttachExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	query := `
		UPDATE organizations
		SET external_org_id = $2,
		    updated_at = NOW()
		WHERE id = $1 AND external_org_id IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, ref)
	if err != nil {
		return mapError(err, "attach organization reference")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("attach organization reference %s: %w", id, repositories.ErrNotFound)
	}

	r.logger.Debug("organization reference attached", zap.String("id", id.String()))
	return nil
}

func (r *OrganizationRepository) getOne(ctx context.Context, op, where string, arg interface{}) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations ` + where

	executor := GetExecutor(ctx, r.db)
	org := &models.Organization{}

	err := executor.QueryRowContext(ctx, query, arg).Scan(
		&org.ID,
		&org.Name,
		&org.Domain,
		&org.ExternalOrgID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, op)
	}

	return org, nil
}
