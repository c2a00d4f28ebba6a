package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for verified token claims
	ClaimsKey contextKey = "claims"

	// PrincipalKey is the context key for the authenticated tenant
	PrincipalKey contextKey = "principal"
)

// Principal is the authenticated tenant of a request.
// Roles and Scopes are the intersection of what the token was granted and
// what the tenant holds at request time.
type Principal struct {
	TenantID         string              `json:"tenant_id"`
	OrganizationName string              `json:"organization_name"`
	Roles            []string            `json:"roles"`
	Scopes           []string            `json:"scopes"`
	Status           models.TenantStatus `json:"status"`
}

// HasScope reports whether the principal holds scope
func (p *Principal) HasScope(scope string) bool {
	return containsString(p.Scopes, scope)
}

// HasRole reports whether the principal holds role
func (p *Principal) HasRole(role string) bool {
	return containsString(p.Roles, role)
}

// MissingScopes returns the members of scopes the principal does not hold
func (p *Principal) MissingScopes(scopes ...string) []string {
	var missing []string
	for _, s := range scopes {
		if !p.HasScope(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// GetRequestIDFromContext returns the ID assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}

// GetClaimsFromContext retrieves verified token claims from context
func GetClaimsFromContext(ctx context.Context) *keys.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*keys.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified token claims to the context
func WithClaims(ctx context.Context, claims *keys.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetPrincipalFromContext retrieves the authenticated tenant from context
func GetPrincipalFromContext(ctx context.Context) *Principal {
	if val := ctx.Value(PrincipalKey); val != nil {
		if principal, ok := val.(*Principal); ok {
			return principal
		}
	}
	return nil
}

// WithPrincipal adds the authenticated tenant to the context
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// intersect keeps the members of a that are also in b, in a's order
func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if containsString(b, v) && !containsString(out, v) {
			out = append(out, v)
		}
	}
	return out
}
