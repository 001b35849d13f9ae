package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
)

var (
	// ErrNotFound is returned when no row matches the lookup
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert or update violates a unique constraint
	ErrConflict = errors.New("record already exists")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Repositories called with the ctx passed to fn join the transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// OrganizationRepository handles tenant records
type OrganizationRepository interface {
	// Create inserts a new organization. Returns ErrConflict when the domain
	// or external reference is already taken.
	Create(ctx context.Context, org *models.Organization) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetByExternalRef(ctx context.Context, ref string) (*models.Organization, error)
	GetByDomain(ctx context.Context, domain string) (*models.Organization, error)

	// AttachExternalRef sets the external reference when it is still empty
	AttachExternalRef(ctx context.Context, id uuid.UUID, ref string) error
}

// UserRepository handles user records. Every method is scoped by organization.
type UserRepository interface {
	// Create inserts a new user. Returns ErrConflict when the email already
	// exists in the organization.
	Create(ctx context.Context, user *models.User) error

	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.User, error)

	// ListByOrganization returns users newest first
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.User, error)

	UpdateRole(ctx context.Context, orgID, id uuid.UUID, role models.UserRole) (*models.User, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// ContactRepository handles contact records. Every method is scoped by organization.
type ContactRepository interface {
	List(ctx context.Context, orgID uuid.UUID) ([]*models.Contact, error)
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error)
	Create(ctx context.Context, contact *models.Contact) error

	// Update overwrites the editable fields of the contact matching
	// contact.ID and contact.OrganizationID and returns the stored row
	Update(ctx context.Context, contact *models.Contact) (*models.Contact, error)

	Delete(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error)
	DeleteMany(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]*models.Contact, error)

	// Search matches term case-insensitively against first name, last name and email
	Search(ctx context.Context, orgID uuid.UUID, term string, limit int) ([]*models.Contact, error)

	// Stats counts contacts; RecentContacts counts rows created after since
	Stats(ctx context.Context, orgID uuid.UUID, since time.Time) (*models.ContactStats, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	Insert(ctx context.Context, log *models.AuditLog) error

	// ListByOrganization returns entries newest first
	ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Organizations OrganizationRepository
	Users         UserRepository
	Contacts      ContactRepository
	AuditLogs     AuditRepository
}
