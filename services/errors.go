package services

import (
	"errors"
	"fmt"

	"github.com/upb/multi-tenant-crm/repositories"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeSession      ErrorType = "session"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Sentinels for errors.Is comparisons. Never add details to these; build a
// fresh error with NewDomainError instead.
var (
	ErrOrganizationNotFound = NewDomainError(ErrorTypeNotFound, "organization not found", nil)
	ErrUserNotFound         = NewDomainError(ErrorTypeNotFound, "user not found", nil)
	ErrContactNotFound      = NewDomainError(ErrorTypeNotFound, "contact not found", nil)

	ErrInvalidEmail = NewDomainError(ErrorTypeValidation, "invalid email format", nil)
	ErrInvalidRole  = NewDomainError(ErrorTypeValidation, "invalid role", nil)

	ErrUserExists    = NewDomainError(ErrorTypeConflict, "user already exists in organization", nil)
	ErrContactExists = NewDomainError(ErrorTypeConflict, "contact with this email already exists in your organization", nil)

	ErrSession = NewDomainError(ErrorTypeSession, "could not establish session", nil)
)

// NewValidationError creates a validation error with a caller-facing message
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, nil)
}

// NewSessionError creates a session bootstrap failure
func NewSessionError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeSession, message, err)
}

// FromRepository translates repository sentinels. notFound is returned for
// repositories.ErrNotFound and conflict for repositories.ErrConflict; any
// other error is wrapped as internal with op as the message.
func FromRepository(err error, op string, notFound, conflict *DomainError) error {
	switch {
	case err == nil:
		return nil
	case notFound != nil && errors.Is(err, repositories.ErrNotFound):
		return NewDomainError(notFound.Type, notFound.Message, err)
	case conflict != nil && errors.Is(err, repositories.ErrConflict):
		return NewDomainError(conflict.Type, conflict.Message, err)
	default:
		return WrapInternal(op, err)
	}
}

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return hasType(err, ErrorTypeConflict) }

// IsSessionError checks if an error is a session bootstrap failure
func IsSessionError(err error) bool { return hasType(err, ErrorTypeSession) }

// IsExternalError checks if an error came from the identity provider
func IsExternalError(err error) bool { return hasType(err, ErrorTypeExternal) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an identity provider failure
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
