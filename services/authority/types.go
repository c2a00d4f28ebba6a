package authority

import "time"

const (
	// AuthCodeTTL is how long an authorization code stays exchangeable
	AuthCodeTTL = 120 * time.Second

	// RefreshTokenTTL is the lifetime of every issued refresh token
	RefreshTokenTTL = 7 * 24 * time.Hour

	// CodeChallengeMethodS256 is the only accepted PKCE method
	CodeChallengeMethodS256 = "S256"

	// TokenTypeBearer is returned in every token response
	TokenTypeBearer = "Bearer"

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// RegisterTenantRequest is the input for tenant registration
type RegisterTenantRequest struct {
	OrganizationName string   `json:"organization_name" validate:"required,max=255"`
	TaxID            string   `json:"tax_id" validate:"required,max=64"`
	Email            string   `json:"email" validate:"required,email"`
	Roles            []string `json:"roles" validate:"required,min=1,dive,required"`
}

// AuthCodeRequest is the input for /authorize
type AuthCodeRequest struct {
	TenantID            string   `json:"tenant_id" validate:"required"`
	ClientID            string   `json:"client_id" validate:"required"`
	RedirectURI         string   `json:"redirect_uri" validate:"required,url"`
	Scopes              []string `json:"scopes"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`
}

// IssuedCode is a freshly minted authorization code
type IssuedCode struct {
	Code      string    `json:"code"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExchangeRequest is the authorization_code grant input
type ExchangeRequest struct {
	Code         string `json:"code" validate:"required"`
	ClientID     string `json:"client_id" validate:"required"`
	RedirectURI  string `json:"redirect_uri" validate:"required"`
	CodeVerifier string `json:"code_verifier" validate:"required"`
}

// TokenResponse is the token endpoint response body
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}
