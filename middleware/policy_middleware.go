package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/tenant-auth/utils"
)

// RequireScope is a middleware that requires the principal to hold scope.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return m.RequireAllScopes(scope)
}

// RequireAllScopes is a middleware that requires every one of scopes
func (m *AuthMiddleware) RequireAllScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := m.principalOrUnauthorized(w, r)
			if !ok {
				return
			}

			missing := principal.MissingScopes(scopes...)
			if len(missing) > 0 {
				m.deny(r, "missing_scope", zap.Strings("missing_scopes", missing))
				message := "Missing required scope: " + missing[0]
				if len(missing) > 1 {
					message = "Missing required scopes: " + strings.Join(missing, ", ")
				}
				_ = utils.WriteForbidden(w, message, map[string]interface{}{
					"missing_scopes": missing,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyScope is a middleware that requires at least one of scopes
func (m *AuthMiddleware) RequireAnyScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := m.principalOrUnauthorized(w, r)
			if !ok {
				return
			}

			for _, s := range scopes {
				if principal.HasScope(s) {
					next.ServeHTTP(w, r)
					return
				}
			}

			m.deny(r, "missing_scope", zap.Strings("any_of", scopes))
			_ = utils.WriteForbidden(w, "Requires one of scopes: "+strings.Join(scopes, ", "), map[string]interface{}{
				"missing_scopes": scopes,
			})
		})
	}
}

// RequireRole is a middleware that requires the principal to hold role
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := m.principalOrUnauthorized(w, r)
			if !ok {
				return
			}

			if !principal.HasRole(role) {
				m.deny(r, "missing_role", zap.String("required_role", role), zap.Strings("roles", principal.Roles))
				_ = utils.WriteForbidden(w, "Missing required role: "+role, map[string]interface{}{
					"required_role": role,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) principalOrUnauthorized(w http.ResponseWriter, r *http.Request) (*Principal, bool) {
	principal := GetPrincipalFromContext(r.Context())
	if principal == nil {
		m.logger.Error("principal not found in context",
			zap.String("request_id", GetRequestIDFromContext(r.Context())))
		m.metrics.AuthorizationDenied("unauthenticated")
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}
	return principal, true
}

func (m *AuthMiddleware) deny(r *http.Request, reason string, fields ...zap.Field) {
	m.metrics.AuthorizationDenied(reason)
	fields = append([]zap.Field{
		zap.String("request_id", GetRequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
	}, fields...)
	m.logger.Warn("authorization denied", fields...)
}
