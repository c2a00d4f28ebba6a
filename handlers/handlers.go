package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/services/authority"
)

// maxBodyBytes bounds every request body read by the handlers
const maxBodyBytes = 1 << 20

// TenantService is the tenant registry used by the handlers
type TenantService interface {
	RegisterTenant(ctx context.Context, req authority.RegisterTenantRequest) (*models.Tenant, error)
	RegisterPrivilegedTenant(ctx context.Context, req authority.RegisterTenantRequest) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	SetTenantStatus(ctx context.Context, tenantID string, status models.TenantStatus) (*models.Tenant, error)
}

// GrantService issues and revokes authorization codes and tokens
type GrantService interface {
	GenerateAuthCode(ctx context.Context, req authority.AuthCodeRequest) (*authority.IssuedCode, error)
	ExchangeCodeForToken(ctx context.Context, req authority.ExchangeRequest) (*authority.TokenResponse, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*authority.TokenResponse, error)
	Revoke(ctx context.Context, token string) error
}

// KeySet publishes the verification keys
type KeySet interface {
	JWKS() keys.JWKS
}

var errUnsupportedContentType = errors.New("unsupported content type")

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// readParams collects OAuth parameters from the query string (GET) or from a
// form or JSON body (POST). Only string values are accepted from JSON.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), nil
	}

	mediaType := "application/x-www-form-urlencoded"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, errUnsupportedContentType
		}
		mediaType = parsed
	}

	switch mediaType {
	case "application/json":
		raw := make(map[string]interface{})
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		params := url.Values{}
		for k, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a string", k)
			}
			params.Set(k, s)
		}
		return params, nil
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		return r.PostForm, nil
	default:
		return nil, errUnsupportedContentType
	}
}
