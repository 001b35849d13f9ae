// Package scalekit talks to the hosted identity provider: it builds login
// URLs, exchanges authorization codes and maps the verified id_token onto
// a models.ExternalIdentity.
package scalekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/multi-tenant-crm/config"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/services"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Login methods accepted by AuthorizationURL
const (
	MethodMagicLink = "magic-link"
	MethodOTP       = "otp"
	MethodGoogle    = "google"
	MethodMicrosoft = "microsoft"
)

var (
	// ErrUnknownMethod is returned for a login method the provider does not offer
	ErrUnknownMethod = errors.New("unknown login method")

	// ErrMissingIDToken is returned when the token response has no id_token
	ErrMissingIDToken = errors.New("token response has no id_token")

	// ErrInvalidIDToken is returned when the id_token fails verification
	ErrInvalidIDToken = errors.New("invalid id_token")
)

// federated maps login methods to the provider's social connection name
var federated = map[string]string{
	MethodGoogle:    "google",
	MethodMicrosoft: "microsoft",
}

// Client is the identity provider client
type Client struct {
	oauth  *oauth2.Config
	keys   *KeySet
	issuer string
	http   *http.Client
	logger *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for token and key requests
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New creates a client for the configured environment
func New(cfg config.ScalekitConfig, logger *zap.Logger, opts ...Option) *Client {
	base := strings.TrimSuffix(cfg.EnvironmentURL, "/")
	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL(),
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		issuer: base,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.keys = NewKeySet(base+"/keys", c.http, time.Hour)
	return c
}

// AuthorizationURL returns the provider URL that starts a login with method.
// loginHint pre-fills the email on the provider's page.
func (c *Client) AuthorizationURL(method, loginHint, state string) (string, error) {
	opts := []oauth2.AuthCodeOption{}
	switch method {
	case MethodMagicLink, MethodOTP:
	case MethodGoogle, MethodMicrosoft:
		opts = append(opts, oauth2.SetAuthURLParam("provider", federated[method]))
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}
	return c.oauth.AuthCodeURL(state, opts...), nil
}

// ExchangeCode redeems an authorization code and returns the identity
// carried by the verified id_token. Failures are services.ErrorTypeExternal
// domain errors wrapping the cause.
func (c *Client) ExchangeCode(ctx context.Context, code string) (models.ExternalIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return models.ExternalIdentity{}, services.WrapExternal("code exchange failed", err)
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return models.ExternalIdentity{}, services.WrapExternal("code exchange failed", ErrMissingIDToken)
	}

	claims, err := c.verifyIDToken(ctx, raw)
	if err != nil {
		return models.ExternalIdentity{}, services.WrapExternal("id_token rejected", err)
	}

	ext := ProfileFromClaims(claims)
	c.logger.Debug("identity provider login",
		zap.String("subject", ext.Subject),
		zap.Bool("has_organization", ext.OrganizationRef != nil))
	return ext, nil
}

func (c *Client) verifyIDToken(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		return c.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.oauth.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	return claims, nil
}
