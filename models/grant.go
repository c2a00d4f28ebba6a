package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizationCode is a pending, single-use authorization grant bound to a
// PKCE challenge. The code value itself is the storage key.
type AuthorizationCode struct {
	TenantID            uuid.UUID `json:"tenant_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	IssuedAt            time.Time `json:"issued_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// IsExpired reports whether the code is no longer usable at now
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshToken is the stored side of an opaque refresh token.
// Only a hash of the token is used as its key.
type RefreshToken struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	ClientID  string    `json:"client_id,omitempty"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the refresh token is no longer usable at now
func (r *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
