package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/repositories/kv"
	"github.com/upb/tenant-auth/services/authority"
	"github.com/upb/tenant-auth/services/policy"
	"github.com/upb/tenant-auth/store"
)

const (
	testIssuer      = "https://auth.test"
	testClientID    = "marketplace-web"
	testRedirectURI = "https://app.test/callback"
)

type oauthFixture struct {
	handler *OAuthHandler
	svc     *authority.Service
	signer  *keys.Manager
	tenant  *models.Tenant
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	t.Helper()
	logger := zap.NewNop()
	grants := store.NewMemoryStore()
	signer, err := keys.NewManager(keys.Config{KeyBits: 1024}, grants, logger)
	require.NoError(t, err)

	roles := policy.DefaultRoleTable()
	svc := authority.NewService(kv.NewTenantRepository(store.NewMemoryStore(), logger), grants, signer, roles,
		authority.Config{Issuer: testIssuer}, logger)

	tenant, err := svc.RegisterTenant(context.Background(), authority.RegisterTenantRequest{
		OrganizationName: "Acme",
		TaxID:            "900123456",
		Email:            "ops@acme.test",
		Roles:            []string{"admin"},
	})
	require.NoError(t, err)

	return &oauthFixture{
		handler: NewOAuthHandler(svc, signer, testIssuer+"/", roles.Scopes(), logger),
		svc:     svc,
		signer:  signer,
		tenant:  tenant,
	}
}

func (f *oauthFixture) authorizeParams(challenge string) url.Values {
	return url.Values{
		"response_type":         {"code"},
		"tenant_id":             {f.tenant.TenantID.String()},
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"marketplace.read"},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
}

func (f *oauthFixture) issueCode(t *testing.T, challenge string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader(f.authorizeParams(challenge).Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.handler.HandleAuthorize(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AuthorizeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Code
}

func postForm(handler http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) authority.TokenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp authority.TokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestOAuthHandler_HandleAuthorize(t *testing.T) {
	f := newOAuthFixture(t)
	challenge := oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())

	t.Run("GET redirects with code and state", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/authorize?"+f.authorizeParams(challenge).Encode(), nil)
		w := httptest.NewRecorder()
		f.handler.HandleAuthorize(w, req)

		require.Equal(t, http.StatusFound, w.Code)
		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.test", location.Host)
		assert.Equal(t, "/callback", location.Path)
		assert.NotEmpty(t, location.Query().Get("code"))
		assert.Equal(t, "xyz", location.Query().Get("state"))
	})

	t.Run("POST JSON returns the code", func(t *testing.T) {
		params := map[string]string{}
		for k := range f.authorizeParams(challenge) {
			params[k] = f.authorizeParams(challenge).Get(k)
		}
		req := httptest.NewRequest(http.MethodPost, "/authorize", jsonBody(t, params))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		f.handler.HandleAuthorize(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		var resp AuthorizeResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.NotEmpty(t, resp.Code)
		assert.Equal(t, "xyz", resp.State)
		assert.Equal(t, 120, resp.ExpiresIn)
	})

	tests := []struct {
		name         string
		mutate       func(url.Values)
		expectedCode int
		expectedErr  string
	}{
		{
			name:         "plain method is rejected",
			mutate:       func(v url.Values) { v.Set("code_challenge_method", "plain") },
			expectedCode: http.StatusBadRequest,
			expectedErr:  "invalid_request",
		},
		{
			name:         "missing challenge",
			mutate:       func(v url.Values) { v.Del("code_challenge") },
			expectedCode: http.StatusBadRequest,
			expectedErr:  "invalid_request",
		},
		{
			name:         "scope outside the tenant",
			mutate:       func(v url.Values) { v.Set("scope", "marketplace.read tenants.write") },
			expectedCode: http.StatusBadRequest,
			expectedErr:  "invalid_scope",
		},
		{
			name:         "unsupported response type",
			mutate:       func(v url.Values) { v.Set("response_type", "token") },
			expectedCode: http.StatusBadRequest,
			expectedErr:  "unsupported_response_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := f.authorizeParams(challenge)
			tt.mutate(params)
			req := httptest.NewRequest(http.MethodGet, "/authorize?"+params.Encode(), nil)
			w := httptest.NewRecorder()
			f.handler.HandleAuthorize(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Empty(t, w.Header().Get("Location"))
			assert.Equal(t, tt.expectedErr, decodeErrorResponse(t, w).Error)
		})
	}

	t.Run("unsupported content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader("<xml/>"))
		req.Header.Set("Content-Type", "application/xml")
		w := httptest.NewRecorder()
		f.handler.HandleAuthorize(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeErrorResponse(t, w).Error)
	})
}

func TestOAuthHandler_HandleToken(t *testing.T) {
	t.Run("authorization code grant", func(t *testing.T) {
		f := newOAuthFixture(t)
		verifier := oauth2.GenerateVerifier()
		code := f.issueCode(t, oauth2.S256ChallengeFromVerifier(verifier))

		w := postForm(f.handler.HandleToken, "/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {testClientID},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {verifier},
		})
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.Equal(t, "no-cache", w.Header().Get("Pragma"))

		resp := decodeToken(t, w)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, 1800, resp.ExpiresIn)
		assert.Equal(t, "marketplace.read", resp.Scope)
		assert.NotEmpty(t, resp.RefreshToken)

		claims, err := f.signer.Verify(context.Background(), resp.AccessToken, keys.VerifyOptions{Issuer: testIssuer})
		require.NoError(t, err)
		assert.Equal(t, f.tenant.TenantID.String(), claims.TenantID)
		assert.Equal(t, []string{"marketplace.read"}, claims.Scopes)

		replay := postForm(f.handler.HandleToken, "/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {testClientID},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {verifier},
		})
		assert.Equal(t, http.StatusUnauthorized, replay.Code)
		assert.Equal(t, "invalid_grant", decodeErrorResponse(t, replay).Error)
	})

	t.Run("JSON body and wrong verifier", func(t *testing.T) {
		f := newOAuthFixture(t)
		code := f.issueCode(t, oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()))

		req := httptest.NewRequest(http.MethodPost, "/token", jsonBody(t, map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"client_id":     testClientID,
			"redirect_uri":  testRedirectURI,
			"code_verifier": oauth2.GenerateVerifier(),
		}))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		w := httptest.NewRecorder()
		f.handler.HandleToken(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_grant", decodeErrorResponse(t, w).Error)
	})

	t.Run("refresh token grant rotates", func(t *testing.T) {
		f := newOAuthFixture(t)
		verifier := oauth2.GenerateVerifier()
		code := f.issueCode(t, oauth2.S256ChallengeFromVerifier(verifier))
		first := decodeToken(t, postForm(f.handler.HandleToken, "/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {testClientID},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {verifier},
		}))

		second := decodeToken(t, postForm(f.handler.HandleToken, "/token", url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {first.RefreshToken},
		}))
		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
		assert.Equal(t, "marketplace.read", second.Scope)

		reused := postForm(f.handler.HandleToken, "/token", url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {first.RefreshToken},
		})
		assert.Equal(t, http.StatusUnauthorized, reused.Code)
		assert.Equal(t, "invalid_grant", decodeErrorResponse(t, reused).Error)
	})

	t.Run("unsupported grant type", func(t *testing.T) {
		f := newOAuthFixture(t)
		w := postForm(f.handler.HandleToken, "/token", url.Values{"grant_type": {"password"}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "unsupported_grant_type", decodeErrorResponse(t, w).Error)
	})

	t.Run("non-string JSON parameter", func(t *testing.T) {
		f := newOAuthFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"grant_type":["refresh_token"]}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		f.handler.HandleToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeErrorResponse(t, w).Error)
	})
}

func TestOAuthHandler_HandleRevoke(t *testing.T) {
	f := newOAuthFixture(t)
	verifier := oauth2.GenerateVerifier()
	code := f.issueCode(t, oauth2.S256ChallengeFromVerifier(verifier))
	tokens := decodeToken(t, postForm(f.handler.HandleToken, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}))

	t.Run("access token", func(t *testing.T) {
		w := postForm(f.handler.HandleRevoke, "/revoke", url.Values{"token": {tokens.AccessToken}})
		assert.Equal(t, http.StatusOK, w.Code)

		_, err := f.signer.Verify(context.Background(), tokens.AccessToken, keys.VerifyOptions{})
		assert.ErrorIs(t, err, keys.ErrTokenRevoked)
	})

	t.Run("refresh token", func(t *testing.T) {
		w := postForm(f.handler.HandleRevoke, "/revoke", url.Values{"token": {tokens.RefreshToken}})
		assert.Equal(t, http.StatusOK, w.Code)

		_, err := f.svc.RefreshAccessToken(context.Background(), tokens.RefreshToken)
		assert.Error(t, err)
	})

	t.Run("unknown token still succeeds", func(t *testing.T) {
		w := postForm(f.handler.HandleRevoke, "/revoke", url.Values{"token": {"never-issued"}})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := postForm(f.handler.HandleRevoke, "/revoke", url.Values{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeErrorResponse(t, w).Error)
	})
}

func TestOAuthHandler_HandleJWKS(t *testing.T) {
	f := newOAuthFixture(t)
	_, err := f.signer.RotateKeys()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	f.handler.HandleJWKS(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))

	var set keys.JWKS
	require.NoError(t, json.NewDecoder(w.Body).Decode(&set))
	require.Len(t, set.Keys, 2)
	assert.ElementsMatch(t, f.signer.KeyIDs(), []string{set.Keys[0].Kid, set.Keys[1].Kid})
	for _, k := range set.Keys {
		assert.Equal(t, "RSA", k.Kty)
		assert.Equal(t, "RS256", k.Alg)
		assert.Equal(t, "sig", k.Use)
	}
}

func TestOAuthHandler_HandleMetadata(t *testing.T) {
	f := newOAuthFixture(t)

	w := httptest.NewRecorder()
	f.handler.HandleMetadata(w, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var meta ServerMetadata
	require.NoError(t, json.NewDecoder(w.Body).Decode(&meta))
	assert.Equal(t, testIssuer, meta.Issuer)
	assert.Equal(t, testIssuer+"/token", meta.TokenEndpoint)
	assert.Equal(t, testIssuer+"/.well-known/jwks.json", meta.JWKSURI)
	assert.Equal(t, []string{"S256"}, meta.CodeChallengeMethodsSupported)
	assert.Contains(t, meta.ScopesSupported, "marketplace.write")
	assert.Contains(t, meta.GrantTypesSupported, "refresh_token")
}
