package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer is the iss claim stamped on every credential
	DefaultIssuer = "multi-tenant-crm"

	// DefaultAudience is the aud claim stamped on every credential
	DefaultAudience = "crm-users"

	// DefaultTTL is the credential lifetime when none is configured
	DefaultTTL = 24 * time.Hour
)

var (
	// ErrConfiguration is returned when no signing secret is configured
	ErrConfiguration = errors.New("credential signing secret is not configured")

	// ErrCredentialExpired is returned when the credential is past its exp
	ErrCredentialExpired = errors.New("credential expired")

	// ErrCredentialInvalid is returned for bad signatures, unexpected
	// algorithms, wrong issuer or audience, and unparseable tokens
	ErrCredentialInvalid = errors.New("invalid credential")

	// ErrCredentialMalformed is returned when an authentic credential lacks
	// the identity claims. It also matches ErrCredentialInvalid.
	ErrCredentialMalformed = fmt.Errorf("%w: missing required claims", ErrCredentialInvalid)
)

// Identity is the snapshot of a user carried inside a credential
type Identity struct {
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName,omitempty"`
	Role             string `json:"role,omitempty"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
}

// Claims is the full claim set of a credential
type Claims struct {
	Identity
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 credentials. It holds only immutable
// configuration and is safe for concurrent use.
type Codec struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// Option configures a Codec
type Option func(*Codec)

// WithClock overrides the time source used for iat, exp and validation
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithIssuer overrides the iss claim
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithAudience overrides the aud claim
func WithAudience(audience string) Option {
	return func(c *Codec) {
		if audience != "" {
			c.audience = audience
		}
	}
}

// NewCodec creates a codec signing with secret. A non-positive ttl is kept
// as is; such credentials are born expired.
func NewCodec(secret string, ttl time.Duration, opts ...Option) *Codec {
	c := &Codec{
		secret:   []byte(secret),
		ttl:      ttl,
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured credential lifetime
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs identity into a credential valid for the configured TTL
func (c *Codec) Issue(identity Identity) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrConfiguration
	}
	if identity.UserID == "" || identity.OrganizationID == "" {
		return "", ErrCredentialMalformed
	}

	now := c.now()
	claims := &Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm, issuer, audience and expiry of
// token and returns its claims
func (c *Codec) Verify(token string) (*Claims, error) {
	if len(c.secret) == 0 {
		return nil, ErrConfiguration
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrCredentialExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrCredentialInvalid
	}

	if claims.UserID == "" || claims.OrganizationID == "" {
		return nil, ErrCredentialMalformed
	}

	return claims, nil
}

// Issue signs identity with secret using the default issuer and audience
func Issue(identity Identity, secret string, ttl time.Duration) (string, error) {
	return NewCodec(secret, ttl).Issue(identity)
}

// Verify validates token against secret using the default issuer and audience
func Verify(token, secret string) (*Claims, error) {
	return NewCodec(secret, DefaultTTL).Verify(token)
}
