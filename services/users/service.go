package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/repositories"
	"github.com/upb/multi-tenant-crm/services"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

// EventRecorder records user administration events
type EventRecorder interface {
	LogUserInvited(ctx context.Context, actorID uuid.UUID, user *models.User) error
	LogRoleChanged(ctx context.Context, actorID uuid.UUID, user *models.User) error
	LogUserDeleted(ctx context.Context, orgID, actorID, userID uuid.UUID) error
}

// UserService manages the members of an organization. Every operation is
// confined to the organization passed by the caller.
type UserService struct {
	userRepo  repositories.UserRepository
	txManager repositories.TransactionManager
	events    EventRecorder
	logger    *zap.Logger
}

// NewUserService creates a new UserService instance. events may be nil.
func NewUserService(
	userRepo repositories.UserRepository,
	txManager repositories.TransactionManager,
	events EventRecorder,
	logger *zap.Logger,
) *UserService {
	return &UserService{
		userRepo:  userRepo,
		txManager: txManager,
		events:    events,
		logger:    logger,
	}
}

// List returns the organization's users, newest first
func (s *UserService) List(ctx context.Context, orgID uuid.UUID) ([]*models.User, error) {
	users, err := s.userRepo.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to list users", err)
	}
	return users, nil
}

// Get returns a single user of the organization
func (s *UserService) Get(ctx context.Context, orgID, userID uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, orgID, userID)
	if err != nil {
		return nil, services.FromRepository(err, "failed to get user", services.ErrUserNotFound, nil)
	}
	return user, nil
}

// Invite adds a user to the organization. The existence check and insert
// run in one transaction.
func (s *UserService) Invite(ctx context.Context, orgID, actorID uuid.UUID, email string, role models.UserRole) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if err := utils.ValidateEmail(email); err != nil {
		return nil, services.ErrInvalidEmail
	}
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, services.ErrInvalidRole
	}

	user := models.NewUser(email, models.EmailLocalPart(email), "", orgID, role)

	err := s.txManager.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		_, err := s.userRepo.GetByEmail(ctx, orgID, email)
		if err == nil {
			return services.ErrUserExists
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return services.WrapInternal("failed to check existing user", err)
		}
		return services.FromRepository(
			s.userRepo.Create(ctx, user),
			"failed to create user", nil, services.ErrUserExists)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user invited",
		zap.String("user_id", user.ID.String()),
		zap.String("organization_id", orgID.String()),
		zap.String("invited_by", actorID.String()))

	if s.events != nil {
		if err := s.events.LogUserInvited(ctx, actorID, user); err != nil {
			s.logger.Warn("failed to record invite", zap.Error(err))
		}
	}

	return user, nil
}

// UpdateRole changes another user's role. Admins cannot change their own role.
func (s *UserService) UpdateRole(ctx context.Context, orgID, actorID, userID uuid.UUID, role models.UserRole) (*models.User, error) {
	if !role.Valid() {
		return nil, services.NewValidationError("Invalid role. Must be 'member' or 'admin'")
	}
	if userID == actorID {
		return nil, services.NewValidationError("Cannot change your own role")
	}

	user, err := s.userRepo.UpdateRole(ctx, orgID, userID, role)
	if err != nil {
		return nil, services.FromRepository(err, "failed to update role", services.ErrUserNotFound, nil)
	}

	s.logger.Info("user role changed",
		zap.String("user_id", userID.String()),
		zap.String("role", string(role)),
		zap.String("changed_by", actorID.String()))

	if s.events != nil {
		if err := s.events.LogRoleChanged(ctx, actorID, user); err != nil {
			s.logger.Warn("failed to record role change", zap.Error(err))
		}
	}

	return user, nil
}

// Delete removes another user from the organization. Admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, orgID, actorID, userID uuid.UUID) error {
	if userID == actorID {
		return services.NewValidationError("Cannot delete your own account")
	}

	if err := s.userRepo.Delete(ctx, orgID, userID); err != nil {
		return services.FromRepository(err, "failed to delete user", services.ErrUserNotFound, nil)
	}

	s.logger.Info("user deleted",
		zap.String("user_id", userID.String()),
		zap.String("deleted_by", actorID.String()))

	if s.events != nil {
		if err := s.events.LogUserDeleted(ctx, orgID, actorID, userID); err != nil {
			s.logger.Warn("failed to record deletion", zap.Error(err))
		}
	}

	return nil
}
