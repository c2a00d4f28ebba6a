package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/middleware"
	"github.com/upb/tenant-auth/store"
	"github.com/upb/tenant-auth/utils"
)

// MarketplaceHandler serves the tenant-scoped listing resource guarded by
// marketplace scopes
type MarketplaceHandler struct {
	store  store.Store
	logger *zap.Logger

	mu sync.Mutex // serializes read-modify-write of a tenant's listings
}

// NewMarketplaceHandler creates a new MarketplaceHandler
func NewMarketplaceHandler(s store.Store, logger *zap.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{store: s, logger: logger}
}

// Listing is an item offered by a tenant
type Listing struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Title      string    `json:"title"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateListingRequest is the body of POST /api/v1/marketplace/listings
type CreateListingRequest struct {
	Title      string `json:"title" validate:"required,max=200"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

func listingsKey(tenantID string) string {
	return "listings:" + tenantID
}

// HandleListListings handles GET /api/v1/marketplace/listings
func (h *MarketplaceHandler) HandleListListings(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	listings, err := h.load(r, principal.TenantID)
	if err != nil {
		h.logger.Error("failed to load listings", zap.Error(err), zap.String("tenant_id", principal.TenantID))
		_ = utils.WriteServiceUnavailable(w, "Listings temporarily unavailable", nil)
		return
	}
	_ = utils.WriteOK(w, listings)
}

// HandleCreateListing handles POST /api/v1/marketplace/listings
func (h *MarketplaceHandler) HandleCreateListing(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	var req CreateListingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	listing := Listing{
		ID:         uuid.NewString(),
		TenantID:   principal.TenantID,
		Title:      req.Title,
		PriceCents: req.PriceCents,
		CreatedAt:  time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	listings, err := h.load(r, principal.TenantID)
	if err == nil {
		var data []byte
		data, err = json.Marshal(append(listings, listing))
		if err == nil {
			err = h.store.Set(r.Context(), listingsKey(principal.TenantID), data, 0)
		}
	}
	if err != nil {
		h.logger.Error("failed to save listing", zap.Error(err), zap.String("tenant_id", principal.TenantID))
		_ = utils.WriteServiceUnavailable(w, "Listings temporarily unavailable", nil)
		return
	}

	_ = utils.WriteCreated(w, listing)
}

// HandleListOrders handles GET /api/v1/marketplace/orders.
// Orders are not modelled yet; the endpoint only demonstrates RequireAnyScope.
func (h *MarketplaceHandler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, []struct{}{})
}

func (h *MarketplaceHandler) load(r *http.Request, tenantID string) ([]Listing, error) {
	data, err := h.store.Get(r.Context(), listingsKey(tenantID))
	if errors.Is(err, store.ErrNotFound) {
		return []Listing{}, nil
	}
	if err != nil {
		return nil, err
	}
	var listings []Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}
