package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/multi-tenant-crm/auth"
	"github.com/upb/multi-tenant-crm/config"
	"github.com/upb/multi-tenant-crm/credential"
	"github.com/upb/multi-tenant-crm/middleware"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/scalekit"
	"github.com/upb/multi-tenant-crm/services"
	"github.com/upb/multi-tenant-crm/services/session"
	"go.uber.org/zap"
)

// MockIdentityProvider mocks the hosted identity provider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) AuthorizationURL(method, loginHint, state string) (string, error) {
	args := m.Called(method, loginHint, state)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) ExchangeCode(ctx context.Context, code string) (models.ExternalIdentity, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(models.ExternalIdentity), args.Error(1)
}

// MockSessionEstablisher mocks the session bootstrapper
type MockSessionEstablisher struct {
	mock.Mock
}

func (m *MockSessionEstablisher) EstablishSession(ctx context.Context, ext models.ExternalIdentity) (*session.Session, error) {
	args := m.Called(ctx, ext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

type outcomeCounter map[string]int

func (c outcomeCounter) RecordSession(outcome string) { c[outcome]++ }

func testConfig(env string) *config.Config {
	return &config.Config{
		Environment: env,
		Scalekit: config.ScalekitConfig{
			EnvironmentURL: "https://acme.scalekit.dev",
			ClientID:       "skc_123",
			ServerURL:      "http://localhost:3001",
			ClientURL:      "http://localhost:3000",
		},
	}
}

func loginRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/auth/login/{method}", h.HandleLogin)
	return r
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandleLogin(t *testing.T) {
	logger := zap.NewNop()
	cfg := testConfig("development")

	t.Run("returns authorization url and sets state cookie", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		var sentState string
		provider.On("AuthorizationURL", scalekit.MethodMagicLink, "ada@acme.com", mock.AnythingOfType("string")).
			Run(func(args mock.Arguments) { sentState = args.String(2) }).
			Return("https://acme.scalekit.dev/oauth/authorize?x=1", nil)

		h := auth.NewHandler(cfg, provider, nil, nil, logger)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/magic-link", strings.NewReader(`{"email":" ada@acme.com "}`))
		rec := httptest.NewRecorder()
		loginRouter(h).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp auth.LoginResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "https://acme.scalekit.dev/oauth/authorize?x=1", resp.AuthURL)
		assert.Equal(t, "Redirecting to login...", resp.Message)

		cookie := findCookie(rec, auth.StateCookieName)
		require.NotNil(t, cookie)
		assert.Equal(t, sentState, cookie.Value)
		assert.True(t, cookie.HttpOnly)
		assert.False(t, cookie.Secure)
		assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
		provider.AssertExpectations(t)
	})

	t.Run("generates unique state per login", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		provider.On("AuthorizationURL", scalekit.MethodGoogle, "ada@acme.com", mock.Anything).Return("https://x", nil)
		h := auth.NewHandler(cfg, provider, nil, nil, logger)

		states := make(map[string]bool)
		for i := 0; i < 10; i++ {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login/google", strings.NewReader(`{"email":"ada@acme.com"}`))
			rec := httptest.NewRecorder()
			loginRouter(h).ServeHTTP(rec, req)

			cookie := findCookie(rec, auth.StateCookieName)
			require.NotNil(t, cookie)
			assert.False(t, states[cookie.Value], "state should be unique")
			states[cookie.Value] = true
		}
	})

	t.Run("email is required", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"email":"   "}`, `not json`, ``} {
			provider := new(MockIdentityProvider)
			h := auth.NewHandler(cfg, provider, nil, nil, logger)
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login/otp", strings.NewReader(body))
			rec := httptest.NewRecorder()
			loginRouter(h).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
			assert.Contains(t, rec.Body.String(), "Email is required")
			provider.AssertNotCalled(t, "AuthorizationURL", mock.Anything, mock.Anything, mock.Anything)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		provider.On("AuthorizationURL", "carrier-pigeon", "ada@acme.com", mock.Anything).
			Return("", fmt.Errorf("%w: carrier-pigeon", scalekit.ErrUnknownMethod))
		h := auth.NewHandler(cfg, provider, nil, nil, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/carrier-pigeon", strings.NewReader(`{"email":"ada@acme.com"}`))
		rec := httptest.NewRecorder()
		loginRouter(h).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNKNOWN_LOGIN_METHOD")
		assert.Nil(t, findCookie(rec, auth.StateCookieName))
	})

	t.Run("provider not configured", func(t *testing.T) {
		h := auth.NewHandler(cfg, nil, nil, nil, logger)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/otp", strings.NewReader(`{"email":"ada@acme.com"}`))
		rec := httptest.NewRecorder()
		loginRouter(h).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "Authentication not configured")
	})
}

func newSession() *session.Session {
	org := models.NewOrganization("acme.com Organization", "acme.com", nil)
	user := models.NewUser("ada@acme.com", "ada", "", org.ID, models.RoleMember)
	return &session.Session{
		Token:        "signed.credential.value",
		User:         user,
		Organization: org,
		UserCreated:  true,
	}
}

func redirectParams(t *testing.T, rec *httptest.ResponseRecorder) (*url.URL, url.Values) {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc, loc.Query()
}

func TestHandleCallback(t *testing.T) {
	logger := zap.NewNop()
	ext := models.ExternalIdentity{Subject: "usr_1", Email: "ada@acme.com"}

	t.Run("redirects to client with token", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		sessions := new(MockSessionEstablisher)
		counter := outcomeCounter{}
		provider.On("ExchangeCode", mock.Anything, "auth-code").Return(ext, nil)
		sessions.On("EstablishSession", mock.Anything, ext).Return(newSession(), nil)

		h := auth.NewHandler(testConfig("development"), provider, sessions, counter, logger)
		req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=auth-code&state=state-123", nil)
		req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: "state-123"})
		rec := httptest.NewRecorder()
		h.HandleCallback(rec, req)

		loc, q := redirectParams(t, rec)
		assert.Equal(t, "localhost:3000", loc.Host)
		assert.Equal(t, "/auth/success", loc.Path)
		assert.Equal(t, "signed.credential.value", q.Get("token"))
		assert.Equal(t, 1, counter[auth.OutcomeCreated])

		cleared := findCookie(rec, auth.StateCookieName)
		require.NotNil(t, cleared)
		assert.Less(t, cleared.MaxAge, 0)
		provider.AssertExpectations(t)
		sessions.AssertExpectations(t)
	})

	t.Run("state cookie absent is accepted", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		sessions := new(MockSessionEstablisher)
		counter := outcomeCounter{}
		provider.On("ExchangeCode", mock.Anything, "auth-code").Return(ext, nil)
		existing := newSession()
		existing.UserCreated = false
		sessions.On("EstablishSession", mock.Anything, ext).Return(existing, nil)

		h := auth.NewHandler(testConfig("development"), provider, sessions, counter, logger)
		req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=auth-code", nil)
		rec := httptest.NewRecorder()
		h.HandleCallback(rec, req)

		loc, _ := redirectParams(t, rec)
		assert.Equal(t, "/auth/success", loc.Path)
		assert.Equal(t, 1, counter[auth.OutcomeExisting])
	})

	tests := []struct {
		name      string
		env       string
		target    string
		cookie    string
		setup     func(p *MockIdentityProvider, s *MockSessionEstablisher)
		wantError string
	}{
		{
			name:      "provider error is forwarded",
			target:    "/api/auth/callback?error=access_denied",
			wantError: "access_denied",
		},
		{
			name:      "missing code",
			target:    "/api/auth/callback?state=abc",
			wantError: "missing_code",
		},
		{
			name:      "state mismatch",
			target:    "/api/auth/callback?code=auth-code&state=wrong",
			cookie:    "right",
			wantError: "invalid_state",
		},
		{
			name:   "exchange failure shows cause outside production",
			target: "/api/auth/callback?code=bad-code",
			setup: func(p *MockIdentityProvider, s *MockSessionEstablisher) {
				p.On("ExchangeCode", mock.Anything, "bad-code").
					Return(models.ExternalIdentity{}, services.WrapExternal("code exchange failed", errors.New("invalid_grant")))
			},
			wantError: "external: code exchange failed (invalid_grant)",
		},
		{
			name:   "exchange failure is generic in production",
			env:    "production",
			target: "/api/auth/callback?code=bad-code",
			setup: func(p *MockIdentityProvider, s *MockSessionEstablisher) {
				p.On("ExchangeCode", mock.Anything, "bad-code").
					Return(models.ExternalIdentity{}, errors.New("invalid_grant"))
			},
			wantError: "authentication_failed",
		},
		{
			name:   "session failure",
			target: "/api/auth/callback?code=auth-code",
			setup: func(p *MockIdentityProvider, s *MockSessionEstablisher) {
				p.On("ExchangeCode", mock.Anything, "auth-code").Return(ext, nil)
				s.On("EstablishSession", mock.Anything, ext).
					Return(nil, services.NewSessionError("No email found in identity provider profile", nil))
			},
			wantError: "session: No email found in identity provider profile",
		},
		{
			name:   "missing signing secret",
			env:    "production",
			target: "/api/auth/callback?code=auth-code",
			setup: func(p *MockIdentityProvider, s *MockSessionEstablisher) {
				p.On("ExchangeCode", mock.Anything, "auth-code").Return(ext, nil)
				s.On("EstablishSession", mock.Anything, ext).Return(nil, credential.ErrConfiguration)
			},
			wantError: "authentication_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.env
			if env == "" {
				env = "development"
			}
			provider := new(MockIdentityProvider)
			sessions := new(MockSessionEstablisher)
			if tt.setup != nil {
				tt.setup(provider, sessions)
			}

			h := auth.NewHandler(testConfig(env), provider, sessions, nil, logger)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.HandleCallback(rec, req)

			loc, q := redirectParams(t, rec)
			assert.Equal(t, "/login", loc.Path)
			assert.Equal(t, tt.wantError, q.Get("error"))
			assert.Empty(t, q.Get("token"))
			provider.AssertExpectations(t)
			sessions.AssertExpectations(t)
		})
	}
}

func TestHandleLogout(t *testing.T) {
	h := auth.NewHandler(testConfig("development"), nil, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.HandleLogout(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestHandleMe(t *testing.T) {
	h := auth.NewHandler(testConfig("development"), nil, nil, nil, zap.NewNop())

	t.Run("returns identity", func(t *testing.T) {
		identity := &middleware.Identity{
			ID:             uuid.New(),
			Email:          "ada@acme.com",
			OrganizationID: uuid.New(),
			Role:           models.RoleAdmin,
			FirstName:      "ada",
		}
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req = req.WithContext(middleware.WithIdentity(req.Context(), identity))
		rec := httptest.NewRecorder()
		h.HandleMe(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, true, body["authenticated"])
		user := body["user"].(map[string]interface{})
		assert.Equal(t, "ada@acme.com", user["email"])
		assert.Equal(t, identity.OrganizationID.String(), user["organizationId"])
		assert.Equal(t, "admin", user["role"])
	})

	t.Run("without identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		rec := httptest.NewRecorder()
		h.HandleMe(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), middleware.CodeAuthRequired)
	})
}
