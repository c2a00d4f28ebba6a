package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/tenant-auth/models"
)

var (
	// ErrNotFound is returned when no record matches the lookup
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a record with the same key already exists
	ErrDuplicate = errors.New("record already exists")
)

// TenantRepository handles tenant data operations
type TenantRepository interface {
	// Create stores a new tenant; ErrDuplicate if the id is taken
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant; ErrNotFound if absent
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// UpdateStatus changes the tenant status; ErrNotFound if absent
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) error

	// Ping checks the backing storage
	Ping(ctx context.Context) error
}

// AuditRepository stores the token authority's audit trail
type AuditRepository interface {
	// Insert appends an audit entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByTenantID returns a tenant's entries, newest first
	GetByTenantID(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
}
