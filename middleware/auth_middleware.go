package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/tenant-auth/internal/observability"
	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/services"
	"github.com/upb/tenant-auth/utils"
)

// TokenVerifier checks a bearer token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, token string, opts keys.VerifyOptions) (*keys.Claims, error)
}

// TenantResolver loads the current state of a token's tenant
type TenantResolver interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// AuthMiddleware authenticates bearer tokens and enforces scope and role guards
type AuthMiddleware struct {
	verifier TokenVerifier
	tenants  TenantResolver
	opts     keys.VerifyOptions
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates a new AuthMiddleware.
// Every token is verified against opts (issuer and audience).
func NewAuthMiddleware(verifier TokenVerifier, tenants TenantResolver, opts keys.VerifyOptions, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		verifier: verifier,
		tenants:  tenants,
		opts:     opts,
		logger:   logger,
	}
}

// WithMetrics records verification results and denials on metrics
func (m *AuthMiddleware) WithMetrics(metrics *observability.Metrics) *AuthMiddleware {
	m.metrics = metrics
	return m
}

// authFailure describes why a request could not be authenticated
type authFailure struct {
	status  int
	message string
	reason  string
}

// RequireAuth is a middleware that requires a valid bearer token issued to an active tenant
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, claims, failure := m.authenticate(r)
		if failure != nil {
			m.metrics.AuthorizationDenied(failure.reason)
			if failure.status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
			_ = utils.WriteError(w, failure.status, failure.message, nil)
			return
		}

		ctx := WithClaims(r.Context(), claims)
		ctx = WithPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the principal when a valid token is present and
// never rejects the request.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}

		principal, claims, failure := m.authenticate(r)
		if failure != nil {
			m.logger.Debug("optional authentication skipped",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("reason", failure.reason))
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithClaims(r.Context(), claims)
		ctx = WithPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate runs header parsing, token verification and tenant resolution
func (m *AuthMiddleware) authenticate(r *http.Request) (*Principal, *keys.Claims, *authFailure) {
	ctx := r.Context()
	requestID := GetRequestIDFromContext(ctx)

	token := extractBearerToken(r)
	if token == "" {
		m.logger.Debug("missing or malformed authorization header",
			zap.String("request_id", requestID))
		return nil, nil, &authFailure{http.StatusUnauthorized, "Missing or invalid authorization header", "missing_token"}
	}

	claims, err := m.verifier.Verify(ctx, token, m.opts)
	if err != nil {
		failure := verificationFailure(err)
		m.metrics.TokenVerified(failure.reason)
		if failure.status == http.StatusServiceUnavailable {
			m.logger.Error("token verification unavailable",
				zap.String("request_id", requestID),
				zap.Error(err))
		} else {
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.String("reason", failure.reason))
		}
		return nil, nil, failure
	}
	m.metrics.TokenVerified("ok")

	tenant, err := m.tenants.GetTenant(ctx, claims.TenantID)
	if err != nil {
		if services.IsNotFoundError(err) {
			m.logger.Warn("token tenant not found",
				zap.String("request_id", requestID),
				zap.String("tenant_id", claims.TenantID))
			return nil, nil, &authFailure{http.StatusUnauthorized, "Token tenant no longer exists", "unknown_tenant"}
		}
		m.logger.Error("failed to resolve token tenant",
			zap.String("request_id", requestID),
			zap.String("tenant_id", claims.TenantID),
			zap.Error(err))
		return nil, nil, &authFailure{http.StatusServiceUnavailable, "Authorization temporarily unavailable", "tenant_lookup_failed"}
	}
	if !tenant.IsActive() {
		m.logger.Warn("inactive tenant presented a token",
			zap.String("request_id", requestID),
			zap.String("tenant_id", claims.TenantID),
			zap.String("status", string(tenant.Status)))
		return nil, nil, &authFailure{http.StatusForbidden, "Tenant is not active", "inactive_tenant"}
	}

	principal := &Principal{
		TenantID:         tenant.TenantID.String(),
		OrganizationName: tenant.OrganizationName,
		Roles:            intersect(claims.Roles, tenant.Roles),
		Scopes:           intersect(claims.Scopes, tenant.Scopes),
		Status:           tenant.Status,
	}

	m.logger.Debug("authentication successful",
		zap.String("request_id", requestID),
		zap.String("tenant_id", principal.TenantID),
		zap.Strings("scopes", principal.Scopes))
	return principal, claims, nil
}

// verificationFailure maps key manager errors to client-facing messages.
// Errors that are not token rejections (storage outages) fail closed.
func verificationFailure(err error) *authFailure {
	switch {
	case errors.Is(err, keys.ErrTokenExpired):
		return &authFailure{http.StatusUnauthorized, "Token has expired", "expired"}
	case errors.Is(err, keys.ErrInvalidSignature):
		return &authFailure{http.StatusUnauthorized, "Invalid token signature", "invalid_signature"}
	case errors.Is(err, keys.ErrTokenRevoked):
		return &authFailure{http.StatusUnauthorized, "Token has been revoked", "revoked"}
	case errors.Is(err, keys.ErrMalformedToken),
		errors.Is(err, keys.ErrUnsupportedAlgorithm),
		errors.Is(err, keys.ErrUnknownKey),
		errors.Is(err, keys.ErrTokenNotYetValid),
		errors.Is(err, keys.ErrInvalidIssuer),
		errors.Is(err, keys.ErrInvalidAudience),
		errors.Is(err, keys.ErrInvalidToken):
		return &authFailure{http.StatusUnauthorized, "Invalid token", "invalid"}
	default:
		return &authFailure{http.StatusServiceUnavailable, "Authorization temporarily unavailable", "verification_unavailable"}
	}
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
// Any other scheme or shape yields an empty string.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	token := strings.TrimSpace(parts[1])
	if strings.ContainsAny(token, " \t") {
		return ""
	}
	return token
}
