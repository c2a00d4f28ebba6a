package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/upb/tenant-auth/config"
	"github.com/upb/tenant-auth/repositories"
)

// RepositoryFactory creates and manages the PostgreSQL-backed repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the database and optionally creates the schema
func NewRepositoryFactory(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.InitSchema {
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &RepositoryFactory{db: db, logger: logger}, nil
}

// Tenants returns the tenant repository
func (f *RepositoryFactory) Tenants() repositories.TenantRepository {
	return NewTenantRepository(f.db, f.logger)
}

// AuditLogs returns the audit repository
func (f *RepositoryFactory) AuditLogs() repositories.AuditRepository {
	return NewAuditRepository(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
