package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenant-auth/config"
	"github.com/upb/tenant-auth/handlers"
	"github.com/upb/tenant-auth/internal/observability"
	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/middleware"
	"github.com/upb/tenant-auth/repositories"
	"github.com/upb/tenant-auth/repositories/kv"
	"github.com/upb/tenant-auth/repositories/postgres"
	"github.com/upb/tenant-auth/services/audit"
	"github.com/upb/tenant-auth/services/authority"
	"github.com/upb/tenant-auth/services/policy"
	"github.com/upb/tenant-auth/store"
)

const auditStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Store   store.Store

	// Optional PostgreSQL tenant storage
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Tenants repositories.TenantRepository

	// Audit trail, written to PostgreSQL when configured and to the log otherwise
	Audit *audit.AuditService

	// Auth
	Roles          *policy.RoleTable
	Keys           *keys.Manager
	Authority      *authority.Service
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
// The key rotation worker is started; Close stops it.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initRepositories(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := deps.initAudit(); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.bootstrapTenant(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to bootstrap tenant: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initStore selects the key-value backend for codes, refresh tokens and revocations
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		s, err := store.NewRedisStore(ctx, store.RedisConfig{
			URL:       cfg.Store.RedisURL,
			KeyPrefix: cfg.Store.KeyPrefix,
		})
		if err != nil {
			return err
		}
		d.Store = s
	default:
		s := store.NewMemoryStore()
		s.StartCleanupWorker(cfg.Store.CleanupInterval)
		d.Store = s
		d.Logger.Warn("using in-memory store; grants are lost on restart and not shared between instances")
	}

	d.Logger.Info("store initialized", zap.String("backend", cfg.Store.Backend))
	return nil
}

// initRepositories uses PostgreSQL for tenants when configured, the store otherwise
func (d *Dependencies) initRepositories(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Tenants = kv.NewTenantRepository(d.Store, d.Logger)
		d.Logger.Info("tenant repository initialized", zap.String("backend", "store"))
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(ctx, *cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.Tenants = factory.Tenants()

	d.Logger.Info("tenant repository initialized",
		zap.String("backend", "postgres"),
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initAudit starts the asynchronous audit writer
func (d *Dependencies) initAudit() error {
	var sink audit.Sink = audit.NewLogSink(d.Logger)
	backend := "log"
	if d.RepoFactory != nil {
		sink = d.RepoFactory.AuditLogs()
		backend = "postgres"
	}

	svc := audit.NewAuditService(sink, d.Logger, audit.DefaultConfig())
	if err := svc.Start(); err != nil {
		return err
	}
	d.Audit = svc

	d.Logger.Info("audit trail initialized", zap.String("backend", backend))
	return nil
}

// initAuth wires the role table, key manager, token authority and middleware
func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.PolicyFile != "" {
		roles, err := policy.LoadRoleTable(cfg.Auth.PolicyFile)
		if err != nil {
			return err
		}
		d.Roles = roles
		d.Logger.Info("role table loaded", zap.String("path", cfg.Auth.PolicyFile))
	} else {
		d.Roles = policy.DefaultRoleTable()
	}

	metrics := d.Metrics
	manager, err := keys.NewManager(keys.Config{
		KeyBits:          cfg.Auth.KeyBits,
		RotationInterval: cfg.Auth.KeyRotationInterval,
		OnRotate:         func(string) { metrics.KeyRotated() },
	}, d.Store, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create key manager: %w", err)
	}
	if err := manager.Start(); err != nil {
		return err
	}
	d.Keys = manager

	d.Authority = authority.NewService(d.Tenants, d.Store, d.Keys, d.Roles, authority.Config{
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Metrics:  d.Metrics,
		Audit:    d.Audit,
	}, d.Logger)

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Keys, d.Authority, keys.VerifyOptions{
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}, d.Logger).WithMetrics(d.Metrics)

	d.Logger.Info("auth initialized",
		zap.String("issuer", cfg.Auth.Issuer),
		zap.String("current_kid", d.Keys.CurrentKeyID()))
	return nil
}

// bootstrapTenant creates the configured operator tenant when it is missing
func (d *Dependencies) bootstrapTenant(ctx context.Context, cfg *config.Config) error {
	b := cfg.Auth.Bootstrap
	if b == nil {
		return nil
	}
	id, err := uuid.Parse(b.TenantID)
	if err != nil {
		return fmt.Errorf("invalid bootstrap tenant id: %w", err)
	}

	tenant, err := d.Authority.BootstrapTenant(ctx, id, authority.RegisterTenantRequest{
		OrganizationName: b.OrganizationName,
		TaxID:            b.TaxID,
		Email:            b.Email,
		Roles:            b.Roles,
	})
	if err != nil {
		return err
	}

	d.Logger.Info("bootstrap tenant ready",
		zap.String("tenant_id", tenant.TenantID.String()),
		zap.Strings("roles", tenant.Roles))
	return nil
}

// HealthChecks returns the readiness probes of the configured backends
func (d *Dependencies) HealthChecks() map[string]handlers.CheckFunc {
	checks := make(map[string]handlers.CheckFunc)
	if d.Store != nil {
		checks["store"] = d.Store.Ping
	}
	if d.RepoFactory != nil {
		checks["database"] = d.RepoFactory.GetDB().HealthCheck
	}
	return checks
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Keys != nil {
		d.Keys.Stop()
	}

	if d.Audit != nil {
		if err := d.Audit.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.Audit = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closeQuietly(ctx context.Context) {
	if err := d.Close(ctx); err != nil {
		d.Logger.Warn("cleanup after failed initialization", zap.Error(err))
	}
}
