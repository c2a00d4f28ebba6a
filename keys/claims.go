package keys

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the only signing algorithm issued or accepted
const Algorithm = "RS256"

// DefaultTokenTTL is the access token lifetime
const DefaultTokenTTL = 1800 * time.Second

// Claims is the access token payload
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	Scopes   []string `json:"scopes"`
}

// Payload holds the caller-supplied part of a token
type Payload struct {
	Subject  string
	TenantID string
	Roles    []string
	Scopes   []string
}

// SignOptions controls the registered claims of a signed token
type SignOptions struct {
	Issuer    string
	Audience  string
	ExpiresIn time.Duration
}

// VerifyOptions are optional issuer and audience requirements
type VerifyOptions struct {
	Issuer   string
	Audience string
}

// ExpiresAtTime returns the exp claim, or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
