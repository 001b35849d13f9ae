package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/repositories"
	"go.uber.org/zap"
)

const userColumns = `id, email, first_name, last_name, role, organization_id, external_user_id, created_at, updated_at`

// UserRepository implements repositories.UserRepository. Every statement
// filters on organization_id.
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.OrganizationID,
		&user.ExternalUserID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Role,
		user.OrganizationID,
		user.ExternalUserID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "create user")
	}

	r.logger.Debug("user created",
		zap.String("id", user.ID.String()),
		zap.String("organization_id", user.OrganizationID.String()))
	return nil
}

// GetByID retrieves a user by ID within an organization
func (r *UserRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE organization_id = $1 AND id = $2`

	user, err := scanUser(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, orgID, id))
	if err != nil {
		return nil, mapError(err, "get user")
	}
	return user, nil
}

// GetByEmail retrieves a user by email within an organization
func (r *UserRepository) GetByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE organization_id = $1 AND email = $2`

	user, err := scanUser(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, orgID, email))
	if err != nil {
		return nil, mapError(err, "get user by email")
	}
	return user, nil
}

// ListByOrganization retrieves all users of an organization, newest first
func (r *UserRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

// UpdateRole changes a user's role and returns the updated row
func (r *UserRepository) UpdateRole(ctx context.Context, orgID, id uuid.UUID, role models.UserRole) (*models.User, error) {
	query := `
		UPDATE users
		SET role = $3,
		    updated_at = NOW()
		WHERE organization_id = $1 AND id = $2
		RETURNING ` + userColumns

	user, err := scanUser(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, orgID, id, role))
	if err != nil {
		return nil, mapError(err, "update user role")
	}

	r.logger.Debug("user role updated",
		zap.String("id", id.String()),
		zap.String("role", string(role)))
	return user, nil
}

// Delete removes a user from an organization
func (r *UserRepository) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	query := `DELETE FROM users WHERE organization_id = $1 AND id = $2`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("delete user %s: %w", id, repositories.ErrNotFound)
	}

	r.logger.Debug("user deleted", zap.String("id", id.String()))
	return nil
}
