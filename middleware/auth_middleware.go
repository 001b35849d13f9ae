package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/credential"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

// Stable codes returned in the "code" field of guard rejections
const (
	CodeTokenMissing     = "TOKEN_MISSING"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeTokenMalformed   = "TOKEN_MALFORMED"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAdminRequired    = "ADMIN_REQUIRED"
	CodeOrgAccessDenied  = "ORG_ACCESS_DENIED"
	CodeAuthServiceError = "AUTH_SERVICE_ERROR"
)

// CredentialVerifier verifies bearer credentials
type CredentialVerifier interface {
	Verify(token string) (*credential.Claims, error)
}

// FailureRecorder counts guard rejections by code
type FailureRecorder interface {
	RecordAuthFailure(code string)
}

// AuthMiddleware is the access guard. It holds no mutable state and never
// touches persisted data.
type AuthMiddleware struct {
	verifier CredentialVerifier
	failures FailureRecorder
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. failures may be nil.
func NewAuthMiddleware(verifier CredentialVerifier, failures FailureRecorder, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		failures: failures,
		logger:   logger,
	}
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if m.failures != nil {
		m.failures.RecordAuthFailure(code)
	}
	fields := []zap.Field{
		zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		zap.String("code", code),
		zap.String("path", r.URL.Path),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status >= http.StatusInternalServerError {
		m.logger.Error("access guard failure", fields...)
	} else {
		m.logger.Warn("request rejected", fields...)
	}
	_ = utils.WriteErrorCode(w, status, code, message)
}

// Authenticate requires a valid bearer credential and attaches the caller's
// Identity to the request context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			m.reject(w, r, http.StatusUnauthorized, CodeTokenMissing, "Access token required", nil)
			return
		}

		claims, err := m.verifier.Verify(token)
		switch {
		case err == nil:
		case errors.Is(err, credential.ErrConfiguration):
			m.reject(w, r, http.StatusInternalServerError, CodeAuthServiceError, "Authentication service error", err)
			return
		case errors.Is(err, credential.ErrCredentialMalformed):
			m.reject(w, r, http.StatusUnauthorized, CodeTokenMalformed, "Invalid token structure", err)
			return
		case errors.Is(err, credential.ErrCredentialExpired):
			m.reject(w, r, http.StatusUnauthorized, CodeTokenExpired, "Token expired", err)
			return
		default:
			m.reject(w, r, http.StatusUnauthorized, CodeTokenInvalid, "Invalid token", err)
			return
		}

		identity, err := identityFromClaims(claims)
		if err != nil {
			m.reject(w, r, http.StatusUnauthorized, CodeTokenMalformed, "Invalid token structure", err)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.String("user_id", identity.ID.String()),
			zap.String("organization_id", identity.OrganizationID.String()))

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func identityFromClaims(claims *credential.Claims) (*Identity, error) {
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, err
	}
	orgID, err := uuid.Parse(claims.OrganizationID)
	if err != nil {
		return nil, err
	}

	role := models.UserRole(claims.Role)
	if !role.Valid() {
		role = models.RoleMember
	}

	return &Identity{
		ID:             userID,
		Email:          claims.Email,
		OrganizationID: orgID,
		Role:           role,
		FirstName:      claims.FirstName,
		LastName:       claims.LastName,
	}, nil
}

// RequireRole requires the authenticated caller to hold role
func (m *AuthMiddleware) RequireRole(role models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentityFromContext(r.Context())
			if identity == nil {
				m.reject(w, r, http.StatusUnauthorized, CodeAuthRequired, "Authentication required", nil)
				return
			}
			if identity.Role != role {
				m.reject(w, r, http.StatusForbidden, CodeAdminRequired, "Admin access required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnOrganization rejects requests whose path parameter param names
// an organization other than the caller's. Ids are compared as UUIDs, so
// case does not matter; an unparseable id is denied. A missing parameter
// passes.
func (m *AuthMiddleware) RequireOwnOrganization(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentityFromContext(r.Context())
			if identity == nil {
				m.reject(w, r, http.StatusUnauthorized, CodeAuthRequired, "Authentication required", nil)
				return
			}
			if raw := chi.URLParam(r, param); raw != "" {
				orgID, err := uuid.Parse(raw)
				if err != nil || orgID != identity.OrganizationID {
					m.reject(w, r, http.StatusForbidden, CodeOrgAccessDenied, "Access denied to organization data", nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
