// Package session turns a verified external identity into a tenant-scoped
// bearer credential, provisioning the organization and user on first login.
package session

import (
	"context"
	"errors"

	"github.com/upb/multi-tenant-crm/credential"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/repositories"
	"github.com/upb/multi-tenant-crm/services"
	"go.uber.org/zap"
)

// CredentialIssuer signs identities into bearer credentials
type CredentialIssuer interface {
	Issue(identity credential.Identity) (string, error)
}

// LoginRecorder records successful logins
type LoginRecorder interface {
	LogLogin(ctx context.Context, user *models.User, created bool) error
}

// Session is the outcome of a successful login
type Session struct {
	Token        string
	Identity     credential.Identity
	User         *models.User
	Organization *models.Organization
	UserCreated  bool
}

// Service is the session bootstrapper
type Service struct {
	orgs   repositories.OrganizationRepository
	users  repositories.UserRepository
	issuer CredentialIssuer
	audit  LoginRecorder
	logger *zap.Logger
}

// NewService creates a session bootstrapper. audit may be nil.
func NewService(
	orgs repositories.OrganizationRepository,
	users repositories.UserRepository,
	issuer CredentialIssuer,
	audit LoginRecorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		orgs:   orgs,
		users:  users,
		issuer: issuer,
		audit:  audit,
		logger: logger,
	}
}

// EstablishSession resolves or provisions the organization and user behind
// ext and issues a credential for them. Calling it again for the same email
// and organization reference returns the same records.
//
// Failures are services.ErrorTypeSession domain errors, except
// credential.ErrConfiguration which is returned as is.
func (s *Service) EstablishSession(ctx context.Context, ext models.ExternalIdentity) (*Session, error) {
	email := models.NormalizeEmail(ext.Email)
	domain := models.EmailDomain(email)
	if email == "" || domain == "" {
		return nil, services.NewSessionError("no email", nil)
	}

	org, err := s.resolveOrganization(ctx, ext, domain)
	if err != nil {
		return nil, err
	}

	user, created, err := s.resolveUser(ctx, ext, email, org)
	if err != nil {
		return nil, err
	}

	identity := credential.Identity{
		UserID:           user.ID.String(),
		Email:            user.Email,
		OrganizationID:   org.ID.String(),
		OrganizationName: org.Name,
		Role:             string(user.Role),
		FirstName:        user.FirstName,
		LastName:         user.LastName,
	}

	token, err := s.issuer.Issue(identity)
	if err != nil {
		if errors.Is(err, credential.ErrConfiguration) {
			return nil, err
		}
		return nil, services.NewSessionError("failed to issue credential", err)
	}

	if s.audit != nil {
		if err := s.audit.LogLogin(ctx, user, created); err != nil {
			s.logger.Warn("failed to record login", zap.Error(err), zap.String("user_id", user.ID.String()))
		}
	}

	s.logger.Info("session established",
		zap.String("user_id", user.ID.String()),
		zap.String("organization_id", org.ID.String()),
		zap.Bool("user_created", created))

	return &Session{
		Token:        token,
		Identity:     identity,
		User:         user,
		Organization: org,
		UserCreated:  created,
	}, nil
}

func (s *Service) resolveOrganization(ctx context.Context, ext models.ExternalIdentity, domain string) (*models.Organization, error) {
	ref := models.OptionalString(ext.OrganizationRef)

	org, err := s.findOrganization(ctx, ref, domain)
	if err != nil {
		return nil, services.NewSessionError("failed to resolve organization", err)
	}
	if org != nil {
		return org, nil
	}

	name := models.DefaultOrganizationName(domain)
	if n := models.OptionalString(ext.OrganizationName); n != nil {
		name = *n
	}

	org = models.NewOrganization(name, domain, ref)
	err = s.orgs.Create(ctx, org)
	if err == nil {
		s.logger.Info("organization provisioned",
			zap.String("organization_id", org.ID.String()),
			zap.String("domain", domain))
		return org, nil
	}
	if !errors.Is(err, repositories.ErrConflict) {
		return nil, services.NewSessionError("failed to create organization", err)
	}

	// A concurrent first login from the same domain won the insert.
	org, err = s.findOrganization(ctx, ref, domain)
	if err != nil {
		return nil, services.NewSessionError("failed to resolve organization", err)
	}
	if org == nil {
		return nil, services.NewSessionError("organization could not be resolved after conflict", nil)
	}
	return org, nil
}

// findOrganization looks up by external reference, then by domain. It
// returns nil without error when neither matches.
func (s *Service) findOrganization(ctx context.Context, ref *string, domain string) (*models.Organization, error) {
	if ref != nil {
		org, err := s.orgs.GetByExternalRef(ctx, *ref)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
	}

	org, err := s.orgs.GetByDomain(ctx, domain)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if ref != nil && org.ExternalOrgID == nil {
		if err := s.orgs.AttachExternalRef(ctx, org.ID, *ref); err != nil {
			s.logger.Warn("failed to attach organization reference",
				zap.Error(err),
				zap.String("organization_id", org.ID.String()))
		} else {
			org.ExternalOrgID = ref
		}
	}

	return org, nil
}

func (s *Service) resolveUser(ctx context.Context, ext models.ExternalIdentity, email string, org *models.Organization) (*models.User, bool, error) {
	user, err := s.users.GetByEmail(ctx, org.ID, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, false, services.NewSessionError("failed to resolve user", err)
	}

	firstName := models.EmailLocalPart(email)
	if n := models.OptionalString(ext.GivenName); n != nil {
		firstName = *n
	}
	lastName := ""
	if n := models.OptionalString(ext.FamilyName); n != nil {
		lastName = *n
	}

	user = models.NewUser(email, firstName, lastName, org.ID, models.RoleMember)
	if ext.Subject != "" {
		subject := ext.Subject
		user.ExternalUserID = &subject
	}

	err = s.users.Create(ctx, user)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, repositories.ErrConflict) {
		return nil, false, services.NewSessionError("failed to create user", err)
	}

	user, err = s.users.GetByEmail(ctx, org.ID, email)
	if err != nil {
		return nil, false, services.NewSessionError("user could not be resolved after conflict", err)
	}
	return user, false, nil
}
