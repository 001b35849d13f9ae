// Package auth serves the browser login flow: it hands out identity provider
// URLs, completes the authorization code callback and reports the caller's
// identity.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/multi-tenant-crm/config"
	"github.com/upb/multi-tenant-crm/credential"
	"github.com/upb/multi-tenant-crm/internal/observability"
	"github.com/upb/multi-tenant-crm/middleware"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/scalekit"
	"github.com/upb/multi-tenant-crm/services/session"
	"github.com/upb/multi-tenant-crm/services"
	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName   = "oauth_state"
	stateCookieMaxAge = 600

	// Session outcomes reported to the SessionRecorder
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeFailed   = "failed"

	// errorMissingCode is sent to the client when the callback has no code
	errorMissingCode = "missing_code"
	// errorInvalidState is sent when the state does not match the cookie
	errorInvalidState = "invalid_state"
	// errorAuthFailed replaces the real cause in production
	errorAuthFailed = "authentication_failed"
)

// IdentityProvider builds login URLs and exchanges authorization codes
type IdentityProvider interface {
	AuthorizationURL(method, loginHint, state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (models.ExternalIdentity, error)
}

// SessionEstablisher turns an external identity into a bearer credential
type SessionEstablisher interface {
	EstablishSession(ctx context.Context, ext models.ExternalIdentity) (*session.Session, error)
}

// SessionRecorder counts callback outcomes
type SessionRecorder interface {
	RecordSession(outcome string)
}

// Handler handles the login, callback, logout and me endpoints
type Handler struct {
	cfg      *config.Config
	provider IdentityProvider
	sessions SessionEstablisher
	recorder SessionRecorder
	logger   *zap.Logger
}

// NewHandler creates a new auth handler. recorder may be nil.
func NewHandler(cfg *config.Config, provider IdentityProvider, sessions SessionEstablisher, recorder SessionRecorder, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		provider: provider,
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
	}
}

// LoginRequest is the body of POST /auth/login/{method}
type LoginRequest struct {
	Email string `json:"email"`
}

// LoginResponse carries the URL the browser should navigate to
type LoginResponse struct {
	Success bool   `json:"success"`
	AuthURL string `json:"authUrl"`
	Message string `json:"message"`
}

// MeResponse reports the authenticated identity
type MeResponse struct {
	User          *middleware.Identity `json:"user"`
	Authenticated bool                 `json:"authenticated"`
}

// HandleLogin returns the identity provider URL for the requested method and
// sets the state cookie checked by the callback
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		h.logger.Error("identity provider not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}
	method := chi.URLParam(r, "method")

	var req LoginRequest
	if r.Body != nil {
		// An unreadable body is treated like a missing email.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		_ = utils.WriteBadRequest(w, "Email is required", nil)
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteErrorCode(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to initiate login")
		return
	}

	authURL, err := h.provider.AuthorizationURL(method, email, state)
	if errors.Is(err, scalekit.ErrUnknownMethod) {
		_ = utils.WriteErrorCode(w, http.StatusBadRequest, "UNKNOWN_LOGIN_METHOD", "Unsupported login method")
		return
	}
	if err != nil {
		observability.WithRequest(r.Context(), h.logger).Error("failed to build authorization url",
			zap.String("method", method), zap.Error(err))
		_ = utils.WriteErrorCode(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to initiate login")
		return
	}

	http.SetCookie(w, h.stateCookie(state, stateCookieMaxAge))

	_ = utils.WriteOK(w, LoginResponse{
		Success: true,
		AuthURL: authURL,
		Message: "Redirecting to login...",
	})
}

// HandleCallback exchanges the authorization code, establishes the session
// and redirects the browser to the client with the credential or an error
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequest(r.Context(), h.logger)
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		logger.Warn("identity provider returned an error",
			zap.String("error", providerErr),
			zap.String("description", query.Get("error_description")))
		h.redirectError(w, r, providerErr)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.redirectError(w, r, errorMissingCode)
		return
	}

	// Magic links may be opened on another device, where the cookie is
	// absent. A cookie that is present must match.
	if cookie, err := r.Cookie(StateCookieName); err == nil && cookie.Value != "" {
		if cookie.Value != query.Get("state") {
			logger.Warn("oauth state mismatch")
			h.record(OutcomeFailed)
			h.redirectError(w, r, errorInvalidState)
			return
		}
	}
	http.SetCookie(w, h.stateCookie("", -1))

	if h.provider == nil {
		logger.Error("identity provider not configured")
		h.redirectError(w, r, errorAuthFailed)
		return
	}

	ext, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		if services.IsExternalError(err) {
			// Expired or replayed codes land here
			logger.Warn("identity provider rejected the login", zap.Error(err))
		} else {
			logger.Error("code exchange failed", zap.Error(err))
		}
		h.record(OutcomeFailed)
		h.redirectFailure(w, r, err)
		return
	}

	sess, err := h.sessions.EstablishSession(r.Context(), ext)
	if err != nil {
		fields := []zap.Field{zap.String("email", ext.Email), zap.Error(err)}
		if errors.Is(err, credential.ErrConfiguration) {
			logger.Error("credential signing is not configured", fields...)
		} else {
			logger.Error("failed to establish session", fields...)
		}
		h.record(OutcomeFailed)
		h.redirectFailure(w, r, err)
		return
	}

	if sess.UserCreated {
		h.record(OutcomeCreated)
	} else {
		h.record(OutcomeExisting)
	}
	logger.Info("session established",
		zap.String("user_id", sess.User.ID.String()),
		zap.String("organization_id", sess.Organization.ID.String()),
		zap.Bool("user_created", sess.UserCreated))

	target := h.clientURL("/auth/success") + "?token=" + url.QueryEscape(sess.Token)
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleLogout acknowledges the logout. Credentials are stateless, so the
// client discards its copy.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.stateCookie("", -1))
	_ = utils.WriteOK(w, map[string]bool{"success": true})
}

// HandleMe returns the identity attached by the access guard
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		_ = utils.WriteErrorCode(w, http.StatusUnauthorized, middleware.CodeAuthRequired, "Authentication required")
		return
	}
	_ = utils.WriteOK(w, MeResponse{User: identity, Authenticated: true})
}

func (h *Handler) record(outcome string) {
	if h.recorder != nil {
		h.recorder.RecordSession(outcome)
	}
}

func (h *Handler) redirectFailure(w http.ResponseWriter, r *http.Request, err error) {
	reason := errorAuthFailed
	if !h.cfg.IsProduction() {
		reason = err.Error()
	}
	h.redirectError(w, r, reason)
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	target := h.clientURL("/login") + "?error=" + url.QueryEscape(reason)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) clientURL(path string) string {
	return strings.TrimSuffix(h.cfg.Scalekit.ClientURL, "/") + path
}

func (h *Handler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/api/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.Scalekit.ServerURL, "https"),
		// Lax so the cookie survives the top-level redirect back from the provider
		SameSite: http.SameSiteLaxMode,
	}
}

// generateSecureState creates a cryptographically random state for CSRF protection
func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
