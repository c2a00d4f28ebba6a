package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/services"
	"github.com/upb/tenant-auth/services/authority"
	"github.com/upb/tenant-auth/utils"
)

// OAuthHandler serves the authorization server endpoints
type OAuthHandler struct {
	grants GrantService
	keys   KeySet
	issuer string
	scopes []string
	logger *zap.Logger
}

// NewOAuthHandler creates a new OAuthHandler.
// scopes is advertised in the discovery document.
func NewOAuthHandler(grants GrantService, keySet KeySet, issuer string, scopes []string, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{
		grants: grants,
		keys:   keySet,
		issuer: strings.TrimSuffix(issuer, "/"),
		scopes: scopes,
		logger: logger,
	}
}

// AuthorizeResponse is returned by POST /authorize
type AuthorizeResponse struct {
	Code      string `json:"code"`
	State     string `json:"state,omitempty"`
	ExpiresIn int    `json:"expires_in"`
}

// ServerMetadata is the RFC 8414 discovery document
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// HandleAuthorize handles GET and POST /authorize.
// GET redirects to redirect_uri with the code; POST returns it as JSON.
// Errors are never redirected since redirect URIs are not pre-registered.
func (h *OAuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		_ = utils.WriteErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	if rt := params.Get("response_type"); rt != "" && rt != "code" {
		_ = utils.WriteErrorCode(w, http.StatusBadRequest, "unsupported_response_type", "response_type must be code", nil)
		return
	}

	issued, err := h.grants.GenerateAuthCode(r.Context(), authority.AuthCodeRequest{
		TenantID:            params.Get("tenant_id"),
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scopes:              models.ParseScope(params.Get("scope")),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	})
	if err != nil {
		HandleOAuthError(w, err, h.logger)
		return
	}

	state := params.Get("state")
	if r.Method == http.MethodGet {
		target, err := url.Parse(params.Get("redirect_uri"))
		if err != nil {
			_ = utils.WriteErrorCode(w, http.StatusBadRequest, "invalid_request", "invalid redirect_uri", nil)
			return
		}
		q := target.Query()
		q.Set("code", issued.Code)
		if state != "" {
			q.Set("state", state)
		}
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}

	setNoStore(w)
	_ = utils.WriteJSON(w, http.StatusOK, AuthorizeResponse{
		Code:      issued.Code,
		State:     state,
		ExpiresIn: issued.ExpiresIn,
	})
}

// HandleToken handles POST /token for the authorization_code and
// refresh_token grants.
func (h *OAuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		_ = utils.WriteErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	var resp *authority.TokenResponse
	switch params.Get("grant_type") {
	case authority.GrantTypeAuthorizationCode:
		resp, err = h.grants.ExchangeCodeForToken(r.Context(), authority.ExchangeRequest{
			Code:         params.Get("code"),
			ClientID:     params.Get("client_id"),
			RedirectURI:  params.Get("redirect_uri"),
			CodeVerifier: params.Get("code_verifier"),
		})
	case authority.GrantTypeRefreshToken:
		resp, err = h.grants.RefreshAccessToken(r.Context(), params.Get("refresh_token"))
	default:
		err = services.ErrUnsupportedGrant.WithDetail("grant_type", params.Get("grant_type"))
	}
	if err != nil {
		HandleOAuthError(w, err, h.logger)
		return
	}

	setNoStore(w)
	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write token response", zap.Error(err))
	}
}

// HandleRevoke handles POST /revoke (RFC 7009).
// Unknown tokens are answered with 200 like valid ones.
func (h *OAuthHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		_ = utils.WriteErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	token := params.Get("token")
	if token == "" {
		_ = utils.WriteErrorCode(w, http.StatusBadRequest, "invalid_request", "token is required", nil)
		return
	}

	if err := h.grants.Revoke(r.Context(), token); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, struct{}{})
}

// HandleJWKS handles GET /.well-known/jwks.json
func (h *OAuthHandler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=60")
	_ = utils.WriteJSON(w, http.StatusOK, h.keys.JWKS())
}

// HandleMetadata handles GET /.well-known/oauth-authorization-server
func (h *OAuthHandler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, ServerMetadata{
		Issuer:                            h.issuer,
		AuthorizationEndpoint:             h.issuer + "/authorize",
		TokenEndpoint:                     h.issuer + "/token",
		RevocationEndpoint:                h.issuer + "/revoke",
		JWKSURI:                           h.issuer + "/.well-known/jwks.json",
		ScopesSupported:                   h.scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{authority.GrantTypeAuthorizationCode, authority.GrantTypeRefreshToken},
		CodeChallengeMethodsSupported:     []string{authority.CodeChallengeMethodS256},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	})
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
