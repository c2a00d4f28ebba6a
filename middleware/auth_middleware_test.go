package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/internal/observability"
	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/services"
	"github.com/upb/tenant-auth/utils"
)

var testVerifyOptions = keys.VerifyOptions{Issuer: "https://auth.test", Audience: "tenant-api"}

// MockTokenVerifier is a mock implementation of TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(ctx context.Context, token string, opts keys.VerifyOptions) (*keys.Claims, error) {
	args := m.Called(ctx, token, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*keys.Claims), args.Error(1)
}

// MockTenantResolver is a mock implementation of TenantResolver
type MockTenantResolver struct {
	mock.Mock
}

func (m *MockTenantResolver) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func adminTenant() *models.Tenant {
	return models.NewTenant("Acme", "900123", "ops@acme.test",
		[]string{"admin"}, []string{"marketplace.read", "marketplace.write"})
}

func claimsFor(tenant *models.Tenant, scopes ...string) *keys.Claims {
	claims := &keys.Claims{
		TenantID: tenant.TenantID.String(),
		Roles:    tenant.Roles,
		Scopes:   scopes,
	}
	claims.Subject = tenant.TenantID.String()
	claims.ID = uuid.NewString()
	return claims
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func failHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token attaches principal and claims", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		tenants := new(MockTenantResolver)
		mw := NewAuthMiddleware(verifier, tenants, testVerifyOptions, logger)

		tenant := adminTenant()
		claims := claimsFor(tenant, "marketplace.read")
		verifier.On("Verify", mock.Anything, "valid-token", testVerifyOptions).Return(claims, nil)
		tenants.On("GetTenant", mock.Anything, tenant.TenantID.String()).Return(tenant, nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			require.NotNil(t, principal)
			assert.Equal(t, tenant.TenantID.String(), principal.TenantID)
			assert.Equal(t, "Acme", principal.OrganizationName)
			assert.Equal(t, []string{"admin"}, principal.Roles)
			assert.Equal(t, []string{"marketplace.read"}, principal.Scopes)
			assert.Same(t, claims, GetClaimsFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, bearerRequest("valid-token"))

		assert.Equal(t, http.StatusOK, w.Code)
		verifier.AssertExpectations(t)
		tenants.AssertExpectations(t)
	})

	t.Run("principal never exceeds the tenant record", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		tenants := new(MockTenantResolver)
		mw := NewAuthMiddleware(verifier, tenants, testVerifyOptions, logger)

		tenant := models.NewTenant("Acme", "900123", "ops@acme.test", []string{"viewer"}, []string{"marketplace.read"})
		claims := claimsFor(tenant, "marketplace.read", "marketplace.write")
		claims.Roles = []string{"viewer", "admin"}
		verifier.On("Verify", mock.Anything, "token", testVerifyOptions).Return(claims, nil)
		tenants.On("GetTenant", mock.Anything, tenant.TenantID.String()).Return(tenant, nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			assert.Equal(t, []string{"viewer"}, principal.Roles)
			assert.Equal(t, []string{"marketplace.read"}, principal.Scopes)
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, bearerRequest("token"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	headerCases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no scheme", "token-only"},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"token with spaces", "Bearer a b"},
	}
	for _, tc := range headerCases {
		t.Run(tc.name+" returns 401 before verification", func(t *testing.T) {
			verifier := new(MockTokenVerifier)
			mw := NewAuthMiddleware(verifier, new(MockTenantResolver), testVerifyOptions, logger)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			mw.RequireAuth(failHandler(t)).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Missing or invalid authorization header", decodeResponse(t, w).Message)
			verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	verifyCases := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"expired", keys.ErrTokenExpired, http.StatusUnauthorized, "Token has expired"},
		{"bad signature", keys.ErrInvalidSignature, http.StatusUnauthorized, "Invalid token signature"},
		{"revoked", keys.ErrTokenRevoked, http.StatusUnauthorized, "Token has been revoked"},
		{"malformed", keys.ErrMalformedToken, http.StatusUnauthorized, "Invalid token"},
		{"unknown key", keys.ErrUnknownKey, http.StatusUnauthorized, "Invalid token"},
		{"wrong audience", keys.ErrInvalidAudience, http.StatusUnauthorized, "Invalid token"},
		{"revocation store down", errors.New("check revocation: connection refused"), http.StatusServiceUnavailable, "Authorization temporarily unavailable"},
	}
	for _, tc := range verifyCases {
		t.Run(tc.name, func(t *testing.T) {
			verifier := new(MockTokenVerifier)
			tenants := new(MockTenantResolver)
			mw := NewAuthMiddleware(verifier, tenants, testVerifyOptions, logger)
			verifier.On("Verify", mock.Anything, "token", testVerifyOptions).Return(nil, tc.err)

			w := httptest.NewRecorder()
			mw.RequireAuth(failHandler(t)).ServeHTTP(w, bearerRequest("token"))

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantMessage, decodeResponse(t, w).Message)
			tenants.AssertNotCalled(t, "GetTenant", mock.Anything, mock.Anything)
		})
	}

	t.Run("unknown tenant returns 401", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		tenants := new(MockTenantResolver)
		mw := NewAuthMiddleware(verifier, tenants, testVerifyOptions, logger)

		tenant := adminTenant()
		verifier.On("Verify", mock.Anything, "token", testVerifyOptions).Return(claimsFor(tenant), nil)
		tenants.On("GetTenant", mock.Anything, tenant.TenantID.String()).Return(nil, services.ErrTenantNotFound)

		w := httptest.NewRecorder()
		mw.RequireAuth(failHandler(t)).ServeHTTP(w, bearerRequest("token"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "invalid_token")
		body := decodeResponse(t, w)
		assert.Equal(t, "unauthorized", body.Error)
		assert.Equal(t, "Token tenant no longer exists", body.Message)
	})

	t.Run("tenant lookup failure returns 503", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		tenants := new(MockTenantResolver)
		mw := NewAuthMiddleware(verifier, tenants, testVerifyOptions, logger)

		tenant := adminTenant()
		verifier.On("Verify", mock.Anything, "token", testVerifyOptions).Return(claimsFor(tenant), nil)
		tenants.On("GetTenant", mock.Anything, tenant.TenantID.String()).Return(nil, services.ErrStorageFailed)

		w := httptest.NewRecorder()
		mw.RequireAuth(failHandler(t)).ServeHTTP(w, bearerRequest("token"))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "service_unavailable", decodeResponse(t, w).Error)
		assert.Empty(t, w.Header().Get("WWW-Authenticate"))
	})

	t.Run("suspended tenant returns 403", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		tenants := new(MockTenantResolver)
		mw := NewAuthMiddleware(verifier, tenants, testVerifyOptions, logger)

		tenant := adminTenant()
		tenant.Status = models.TenantStatusSuspended
		verifier.On("Verify", mock.Anything, "token", testVerifyOptions).Return(claimsFor(tenant), nil)
		tenants.On("GetTenant", mock.Anything, tenant.TenantID.String()).Return(tenant, nil)

		w := httptest.NewRecorder()
		mw.RequireAuth(failHandler(t)).ServeHTTP(w, bearerRequest("token"))
		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeResponse(t, w)
		assert.Equal(t, "forbidden", body.Error)
		assert.Equal(t, "Tenant is not active", body.Message)
		assert.Empty(t, w.Header().Get("WWW-Authenticate"))
	})

	t.Run("denials are counted", func(t *testing.T) {
		metrics := observability.NewMetrics()
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, new(MockTenantResolver), testVerifyOptions, logger).WithMetrics(metrics)
		verifier.On("Verify", mock.Anything, "token", testVerifyOptions).Return(nil, keys.ErrTokenExpired)

		w := httptest.NewRecorder()
		mw.RequireAuth(failHandler(t)).ServeHTTP(w, bearerRequest("token"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		families, err := metrics.Registry().Gather()
		require.NoError(t, err)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "tenant_auth_token_verifications_total")
		assert.Contains(t, names, "tenant_auth_authorization_denials_total")
	})
}

func TestOptionalAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("no header passes without principal", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, new(MockTenantResolver), testVerifyOptions, logger)

		called := false
		handler := mw.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			assert.Nil(t, GetPrincipalFromContext(r.Context()))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), bearerRequest(""))

		assert.True(t, called)
		verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid token passes without principal", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, new(MockTenantResolver), testVerifyOptions, logger)
		verifier.On("Verify", mock.Anything, "bad", testVerifyOptions).Return(nil, keys.ErrInvalidSignature)

		w := httptest.NewRecorder()
		handler := mw.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Nil(t, GetPrincipalFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(w, bearerRequest("bad"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("valid token attaches principal", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		tenants := new(MockTenantResolver)
		mw := NewAuthMiddleware(verifier, tenants, testVerifyOptions, logger)

		tenant := adminTenant()
		verifier.On("Verify", mock.Anything, "token", testVerifyOptions).Return(claimsFor(tenant, "marketplace.read"), nil)
		tenants.On("GetTenant", mock.Anything, tenant.TenantID.String()).Return(tenant, nil)

		var principal *Principal
		handler := mw.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal = GetPrincipalFromContext(r.Context())
		}))
		handler.ServeHTTP(httptest.NewRecorder(), bearerRequest("token"))

		require.NotNil(t, principal)
		assert.Equal(t, tenant.TenantID.String(), principal.TenantID)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, extractBearerToken(req), "header %q", tt.header)
	}
}

func TestGetRequestIDFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestIDFromContext(ctx))

	chiCtx := context.WithValue(ctx, chimiddleware.RequestIDKey, "chi-req")
	assert.Equal(t, "chi-req", GetRequestIDFromContext(chiCtx))
}
