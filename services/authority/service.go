// Package authority implements the tenant registry and the OAuth2
// authorization code (PKCE) and refresh token grants.
package authority

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/internal/observability"
	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/repositories"
	"github.com/upb/tenant-auth/services"
	"github.com/upb/tenant-auth/store"
	"github.com/upb/tenant-auth/utils"
)

// TokenSigner issues and checks access tokens
type TokenSigner interface {
	Sign(payload keys.Payload, opts keys.SignOptions) (string, error)
	Verify(ctx context.Context, token string, opts keys.VerifyOptions) (*keys.Claims, error)
	RevokeClaims(ctx context.Context, claims *keys.Claims) error
}

// RoleResolver expands roles into scopes and reports unknown and
// operator-only roles
type RoleResolver interface {
	Resolve(roles []string) (scopes []string, unknown []string)
	Reserved(roles []string) []string
}

// Config holds token issuance settings
type Config struct {
	Issuer   string
	Audience string
	Now      func() time.Time
	Metrics  *observability.Metrics
	Audit    Auditor
}

// Service is the token authority
type Service struct {
	tenants repositories.TenantRepository
	grants  store.Store
	signer  TokenSigner
	roles   RoleResolver
	cfg     Config
	now     func() time.Time
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates a new token authority
func NewService(
	tenants repositories.TenantRepository,
	grants store.Store,
	signer TokenSigner,
	roles RoleResolver,
	cfg Config,
	logger *zap.Logger,
) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tenants: tenants,
		grants:  grants,
		signer:  signer,
		roles:   roles,
		cfg:     cfg,
		now:     now,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// RegisterTenant validates the request, resolves scopes from roles and
// stores a new active tenant. Reserved roles are refused.
func (s *Service) RegisterTenant(ctx context.Context, req RegisterTenantRequest) (*models.Tenant, error) {
	return s.register(ctx, uuid.Nil, req, false)
}

// RegisterPrivilegedTenant is RegisterTenant for callers already holding
// operator rights; reserved roles are allowed.
func (s *Service) RegisterPrivilegedTenant(ctx context.Context, req RegisterTenantRequest) (*models.Tenant, error) {
	return s.register(ctx, uuid.Nil, req, true)
}

// BootstrapTenant makes sure the tenant with the given id exists, creating
// it from req with reserved roles allowed. An existing tenant is returned
// unchanged.
func (s *Service) BootstrapTenant(ctx context.Context, id uuid.UUID, req RegisterTenantRequest) (*models.Tenant, error) {
	if id == uuid.Nil {
		return nil, services.ErrInvalidInput.WithDetail("tenant_id", "must not be the nil UUID")
	}

	existing, err := s.tenants.GetByID(ctx, id)
	if err == nil {
		s.logger.Info("bootstrap tenant already present", zap.String("tenant_id", id.String()))
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrStorageFailed.Wrap(err)
	}
	return s.register(ctx, id, req, true)
}

func (s *Service) register(ctx context.Context, id uuid.UUID, req RegisterTenantRequest, allowReserved bool) (*models.Tenant, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.ErrInvalidInput.WithDetail("fields", utils.GetValidationFields(err))
	}

	roles := dedupe(req.Roles)
	scopes, unknown := s.roles.Resolve(roles)
	if len(unknown) > 0 {
		return nil, services.ErrUnknownRole.WithDetail("unknown_roles", unknown)
	}
	if !allowReserved {
		if reserved := s.roles.Reserved(roles); len(reserved) > 0 {
			s.logger.Warn("self-registration with reserved role refused", zap.Strings("roles", reserved))
			return nil, services.ErrReservedRole.WithDetail("reserved_roles", reserved)
		}
	}

	tenant := models.NewTenant(req.OrganizationName, req.TaxID, req.Email, roles, scopes)
	if id != uuid.Nil {
		tenant.TenantID = id
	}
	now := s.now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	if err := s.tenants.Create(ctx, tenant); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.ErrDuplicateTenant
		}
		s.logger.Error("failed to store tenant", zap.Error(err))
		return nil, services.ErrStorageFailed.Wrap(err)
	}

	s.metrics.TenantRegistered()
	s.audit(tenant.TenantID, models.AuditActionTenantRegistered, "", "", grantDetails{Roles: tenant.Roles, Scopes: tenant.Scopes})
	s.logger.Info("tenant registered",
		zap.String("tenant_id", tenant.TenantID.String()),
		zap.Strings("roles", tenant.Roles),
	)
	return tenant, nil
}

// GetTenant returns the tenant with the given id.
// Ids that are not UUIDs are reported as not found.
func (s *Service) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, services.ErrTenantNotFound
	}

	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTenantNotFound
		}
		return nil, services.ErrStorageFailed.Wrap(err)
	}
	return tenant, nil
}

// SetTenantStatus suspends or reactivates a tenant.
// Suspension takes effect on the next request of every outstanding token.
func (s *Service) SetTenantStatus(ctx context.Context, tenantID string, status models.TenantStatus) (*models.Tenant, error) {
	if !status.IsValid() {
		return nil, services.ErrInvalidTenantStatus.WithDetail("status", string(status))
	}

	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.tenants.UpdateStatus(ctx, tenant.TenantID, status); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTenantNotFound
		}
		return nil, services.ErrStorageFailed.Wrap(err)
	}

	tenant.Status = status
	tenant.UpdatedAt = s.now().UTC()
	s.audit(tenant.TenantID, models.AuditActionTenantStatusChanged, "", "", grantDetails{Status: string(status)})
	s.logger.Info("tenant status changed",
		zap.String("tenant_id", tenant.TenantID.String()),
		zap.String("status", string(status)),
	)
	return tenant, nil
}

// HasScope reports whether tenant holds scope
func HasScope(tenant *models.Tenant, scope string) bool {
	return tenant != nil && tenant.HasScope(scope)
}

// HasRole reports whether tenant holds role
func HasRole(tenant *models.Tenant, role string) bool {
	return tenant != nil && tenant.HasRole(role)
}

func (s *Service) activeTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, err := s.GetTenant(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, services.ErrTenantInactive
	}
	return tenant, nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
