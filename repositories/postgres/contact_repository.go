package postgres

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/multi-tenant-crm/models"
	"go.uber.org/zap"
)

const contactColumns = `id, organization_id, first_name, last_name, email, phone, address, created_by, created_at, updated_at`

// ContactRepository implements repositories.ContactRepository. Every
// statement filters on organization_id.
type ContactRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *DB, logger *zap.Logger) *ContactRepository {
	return &ContactRepository{
		db:     db,
		logger: logger,
	}
}

func scanContact(row rowScanner) (*models.Contact, error) {
	c := &models.Contact{}
	err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.FirstName,
		&c.LastName,
		&c.Email,
		&c.Phone,
		&c.Address,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContactRepository) queryContacts(ctx context.Context, op, query string, args ...interface{}) ([]*models.Contact, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	contacts := make([]*models.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contact rows: %w", err)
	}

	return contacts, nil
}

// List retrieves all contacts of an organization, newest first
func (r *ContactRepository) List(ctx context.Context, orgID uuid.UUID) ([]*models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`
	return r.queryContacts(ctx, "list contacts", query, orgID)
}

// GetByID retrieves a contact by ID within an organization
func (r *ContactRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE organization_id = $1 AND id = $2`

	c, err := scanContact(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, orgID, id))
	if err != nil {
		return nil, mapError(err, "get contact")
	}
	return c, nil
}

// Create inserts a new contact
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	query := `
		INSERT INTO contacts (` + contactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		c.ID,
		c.OrganizationID,
		c.FirstName,
		c.LastName,
		c.Email,
		c.Phone,
		c.Address,
		c.CreatedBy,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "create contact")
	}

	r.logger.Debug("contact created",
		zap.String("id", c.ID.String()),
		zap.String("organization_id", c.OrganizationID.String()))
	return nil
}

// Update overwrites the editable fields of a contact
func (r *ContactRepository) Update(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	query := `
		UPDATE contacts
		SET first_name = $3,
		    last_name = $4,
		    email = $5,
		    phone = $6,
		    address = $7,
		    updated_at = NOW()
		WHERE organization_id = $1 AND id = $2
		RETURNING ` + contactColumns

	updated, err := scanContact(GetExecutor(ctx, r.db).QueryRowContext(ctx, query,
		c.OrganizationID,
		c.ID,
		c.FirstName,
		c.LastName,
		c.Email,
		c.Phone,
		c.Address,
	))
	if err != nil {
		return nil, mapError(err, "update contact")
	}
	return updated, nil
}

// Delete removes a contact and returns the deleted row
func (r *ContactRepository) Delete(ctx context.Context, orgID, id uuid.UUID) (*models.Contact, error) {
	query := `DELETE FROM contacts WHERE organization_id = $1 AND id = $2 RETURNING ` + contactColumns

	c, err := scanContact(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, orgID, id))
	if err != nil {
		return nil, mapError(err, "delete contact")
	}
	return c, nil
}

// DeleteMany removes every listed contact that belongs to the organization
func (r *ContactRepository) DeleteMany(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]*models.Contact, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query := `
		DELETE FROM contacts
		WHERE organization_id = $1 AND id = ANY($2::uuid[])
		RETURNING ` + contactColumns

	return r.queryContacts(ctx, "bulk delete contacts", query, orgID, pq.Array(keys))
}

// likeEscaper neutralizes LIKE wildcards; backslash is the default escape
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches term literally against names and email, newest first
func (r *ContactRepository) Search(ctx context.Context, orgID uuid.UUID, term string, limit int) ([]*models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE organization_id = $1
		  AND (first_name ILIKE $2 OR last_name ILIKE $2 OR email ILIKE $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	return r.queryContacts(ctx, "search contacts", query, orgID, "%"+likeEscaper.Replace(term)+"%", limit)
}

// Stats aggregates contact counts for an organization
func (r *ContactRepository) Stats(ctx context.Context, orgID uuid.UUID, since time.Time) (*models.ContactStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(email),
		       COUNT(*) FILTER (WHERE created_at > $2)
		FROM contacts
		WHERE organization_id = $1
	`

	stats := &models.ContactStats{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, orgID, since).Scan(
		&stats.TotalContacts,
		&stats.ContactsWithEmail,
		&stats.RecentContacts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute contact stats: %w", err)
	}

	stats.ContactsWithoutEmail = stats.TotalContacts - stats.ContactsWithEmail
	if stats.TotalContacts > 0 {
		stats.EmailPercentage = int(math.Round(float64(stats.ContactsWithEmail) / float64(stats.TotalContacts) * 100))
	}
	return stats, nil
}
