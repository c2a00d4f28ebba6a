package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/middleware"
	"github.com/upb/tenant-auth/store"
)

func principalRequest(method, path string, body io.Reader, tenantID string) *http.Request {
	req := httptest.NewRequest(method, path, body)
	principal := &middleware.Principal{TenantID: tenantID, Scopes: []string{"marketplace.read", "marketplace.write"}}
	return req.WithContext(middleware.WithPrincipal(req.Context(), principal))
}

func TestMarketplaceHandler_Listings(t *testing.T) {
	handler := NewMarketplaceHandler(store.NewMemoryStore(), zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleCreateListing(w, principalRequest(http.MethodPost, "/api/v1/marketplace/listings",
		jsonBody(t, CreateListingRequest{Title: "Coffee beans", PriceCents: 1299}), "tenant-a"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	t.Run("owner sees the listing", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleListListings(w, principalRequest(http.MethodGet, "/api/v1/marketplace/listings", nil, "tenant-a"))
		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data []Listing `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.Len(t, response.Data, 1)
		assert.Equal(t, "Coffee beans", response.Data[0].Title)
		assert.Equal(t, int64(1299), response.Data[0].PriceCents)
		assert.Equal(t, "tenant-a", response.Data[0].TenantID)
	})

	t.Run("other tenants do not", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleListListings(w, principalRequest(http.MethodGet, "/api/v1/marketplace/listings", nil, "tenant-b"))
		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data []Listing `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Empty(t, response.Data)
	})

	t.Run("validation", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleCreateListing(w, principalRequest(http.MethodPost, "/api/v1/marketplace/listings",
			jsonBody(t, CreateListingRequest{PriceCents: -1}), "tenant-a"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrorResponse(t, w).Details, "fields")
	})

	t.Run("requires a principal", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleListListings(w, httptest.NewRequest(http.MethodGet, "/api/v1/marketplace/listings", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
