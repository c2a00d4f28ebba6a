package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/models"
	"github.com/upb/tenant-auth/repositories"
)

// uniqueViolation is the PostgreSQL error code for unique_violation
const uniqueViolation = "23505"

// TenantRepository implements the repositories.TenantRepository interface
type TenantRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB, logger *zap.Logger) repositories.TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (tenant_id, organization_name, tax_id, email, roles, scopes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		tenant.TenantID,
		tenant.OrganizationName,
		tenant.TaxID,
		tenant.Email,
		pq.Array(tenant.Roles),
		pq.Array(tenant.Scopes),
		string(tenant.Status),
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return repositories.ErrDuplicate
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	r.logger.Debug("tenant created", zap.String("tenant_id", tenant.TenantID.String()))
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `
		SELECT tenant_id, organization_name, tax_id, email, roles, scopes, status, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1
	`

	tenant := &models.Tenant{}
	var status string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.TenantID,
		&tenant.OrganizationName,
		&tenant.TaxID,
		&tenant.Email,
		pq.Array(&tenant.Roles),
		pq.Array(&tenant.Scopes),
		&status,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	tenant.Status = models.TenantStatus(status)
	return tenant, nil
}

// UpdateStatus updates a tenant's status
func (r *TenantRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) error {
	query := `
		UPDATE tenants
		SET status = $2,
		    updated_at = $3
		WHERE tenant_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("tenant status updated",
		zap.String("tenant_id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// Ping checks the database
func (r *TenantRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
