package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/middleware"
	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/services/authority"
	"github.com/upb/tenant-auth/utils"
)

// TenantHandler handles tenant registration and administration
type TenantHandler struct {
	tenants TenantService
	logger  *zap.Logger
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(tenants TenantService, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{
		tenants: tenants,
		logger:  logger,
	}
}

// UpdateStatusRequest is the body of PATCH /api/v1/tenants/{id}/status
type UpdateStatusRequest struct {
	Status models.TenantStatus `json:"status" validate:"required,oneof=active suspended"`
}

// MeResponse describes the caller of GET /api/v1/tenants/me
type MeResponse struct {
	Principal *middleware.Principal `json:"principal"`
	TokenID   string                `json:"jti"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// HandleRegister handles POST /tenants
func (h *TenantHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authority.RegisterTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	tenant, err := h.tenants.RegisterTenant(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteCreated(w, tenant); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleCreate handles POST /api/v1/tenants. The caller is a platform
// operator, so reserved roles may be granted.
func (h *TenantHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req authority.RegisterTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	tenant, err := h.tenants.RegisterPrivilegedTenant(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var operator string
	if p := middleware.GetPrincipalFromContext(r.Context()); p != nil {
		operator = p.TenantID
	}
	h.logger.Info("tenant created by operator",
		zap.String("tenant_id", tenant.TenantID.String()),
		zap.String("operator_id", operator),
		zap.Strings("roles", tenant.Roles))

	if err := utils.WriteCreated(w, tenant); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleMe handles GET /api/v1/tenants/me
func (h *TenantHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	claims := middleware.GetClaimsFromContext(r.Context())
	if principal == nil || claims == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	_ = utils.WriteOK(w, MeResponse{
		Principal: principal,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAtTime(),
	})
}

// HandleGet handles GET /api/v1/tenants/{id}
func (h *TenantHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(id); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tenant, err := h.tenants.GetTenant(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, tenant)
}

// HandleUpdateStatus handles PATCH /api/v1/tenants/{id}/status
func (h *TenantHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(id); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tenant, err := h.tenants.SetTenantStatus(r.Context(), id, req.Status)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant status updated by admin",
		zap.String("tenant_id", id),
		zap.String("status", string(req.Status)),
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
	_ = utils.WriteOK(w, tenant)
}
