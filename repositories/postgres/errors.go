package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/multi-tenant-crm/repositories"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// mapError translates driver errors into repository sentinels
func mapError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, repositories.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, repositories.ErrConflict)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
