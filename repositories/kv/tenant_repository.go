// Package kv stores tenants as JSON documents in a store.Store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/repositories"
	"github.com/upb/tenant-auth/store"
)

const tenantKeyPrefix = "tenant:"

// TenantRepository implements repositories.TenantRepository on a key-value store
type TenantRepository struct {
	store  store.Store
	logger *zap.Logger
}

// NewTenantRepository creates a new store-backed tenant repository
func NewTenantRepository(s store.Store, logger *zap.Logger) repositories.TenantRepository {
	return &TenantRepository{
		store:  s,
		logger: logger,
	}
}

func tenantKey(id uuid.UUID) string {
	return tenantKeyPrefix + id.String()
}

// Create stores a new tenant without expiry
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	exists, err := r.store.Exists(ctx, tenantKey(tenant.TenantID))
	if err != nil {
		return fmt.Errorf("failed to check tenant: %w", err)
	}
	if exists {
		return repositories.ErrDuplicate
	}

	if err := r.put(ctx, tenant); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	r.logger.Debug("tenant created", zap.String("tenant_id", tenant.TenantID.String()))
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	data, err := r.store.Get(ctx, tenantKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	tenant := &models.Tenant{}
	if err := json.Unmarshal(data, tenant); err != nil {
		return nil, fmt.Errorf("failed to decode tenant: %w", err)
	}
	return tenant, nil
}

// UpdateStatus rewrites the tenant document with the new status
func (r *TenantRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) error {
	tenant, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	tenant.Status = status
	tenant.UpdatedAt = time.Now().UTC()
	if err := r.put(ctx, tenant); err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	r.logger.Debug("tenant status updated",
		zap.String("tenant_id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// Ping checks the underlying store
func (r *TenantRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *TenantRepository) put(ctx context.Context, tenant *models.Tenant) error {
	data, err := json.Marshal(tenant)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, tenantKey(tenant.TenantID), data, 0)
}
