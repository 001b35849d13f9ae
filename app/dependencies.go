package app

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/multi-tenant-crm/auth"
	"github.com/upb/multi-tenant-crm/config"
	"github.com/upb/multi-tenant-crm/credential"
	"github.com/upb/multi-tenant-crm/handlers"
	"github.com/upb/multi-tenant-crm/internal/observability"
	"github.com/upb/multi-tenant-crm/middleware"
	"github.com/upb/multi-tenant-crm/repositories"
	"github.com/upb/multi-tenant-crm/repositories/postgres"
	"github.com/upb/multi-tenant-crm/scalekit"
	"github.com/upb/multi-tenant-crm/services/audit"
	"github.com/upb/multi-tenant-crm/services/contacts"
	"github.com/upb/multi-tenant-crm/services/session"
	"github.com/upb/multi-tenant-crm/services/users"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Organizations repositories.OrganizationRepository
	Users         repositories.UserRepository
	Contacts      repositories.ContactRepository
	AuditLogs     repositories.AuditRepository
	TxManager     repositories.TransactionManager

	// Services
	Codec          *credential.Codec
	Audit          *audit.Service
	Sessions       *session.Service
	UserService    *users.UserService
	ContactService *contacts.ContactService

	// HTTP
	AuthHandler         *auth.Handler
	AuthMiddleware      *middleware.AuthMiddleware
	LoginLimiter        *middleware.IPRateLimiter
	UserHandler         *handlers.UserHandler
	ContactHandler      *handlers.ContactHandler
	OrganizationHandler *handlers.OrganizationHandler
	HealthHandler       *handlers.HealthHandler
}

// NewDependencies connects to the database and wires up all application
// dependencies. The database is pinged before returning.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := factory.DB().HealthCheck(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithFactory(cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires dependencies over an open repository
// factory
func NewDependenciesWithFactory(cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     observability.NewMetrics(),
		RepoFactory: factory,
		DB:          factory.DB(),
	}

	deps.initRepositories()

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP()

	logger.Info("all dependencies initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("identity_provider", cfg.IdentityProviderConfigured()))
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Organizations = repos.Organizations
	d.Users = repos.Users
	d.Contacts = repos.Contacts
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.TransactionManager()
}

func (d *Dependencies) initServices() error {
	cfg := d.Config

	d.Codec = credential.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL,
		credential.WithIssuer(cfg.Auth.Issuer),
		credential.WithAudience(cfg.Auth.Audience))

	d.Audit = audit.NewService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}
	auditSvc := d.Audit
	d.Metrics.ObserveAuditQueue(func() int { return auditSvc.Stats().PendingEvents })

	d.Sessions = session.NewService(d.Organizations, d.Users, d.Codec, d.Audit, d.Logger)
	d.UserService = users.NewUserService(d.Users, d.TxManager, d.Audit, d.Logger)
	d.ContactService = contacts.NewContactService(d.Contacts, d.Logger)
	return nil
}

func (d *Dependencies) initHTTP() {
	cfg := d.Config

	var provider auth.IdentityProvider
	if cfg.IdentityProviderConfigured() {
		provider = scalekit.New(cfg.Scalekit, d.Logger)
	} else {
		d.Logger.Warn("identity provider not configured, login endpoints disabled")
	}

	d.AuthHandler = auth.NewHandler(cfg, provider, d.Sessions, d.Metrics, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Codec, d.Metrics, d.Logger)
	d.LoginLimiter = middleware.NewIPRateLimiter(cfg.RateLimit, d.Metrics, d.Logger)

	d.UserHandler = handlers.NewUserHandler(d.UserService, d.Logger)
	d.ContactHandler = handlers.NewContactHandler(d.ContactService, d.Logger)
	d.OrganizationHandler = handlers.NewOrganizationHandler(d.Organizations, d.UserService, d.ContactService, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB, cfg.Environment, d.Logger)
}

// Close gracefully shuts down all dependencies. Queued audit entries are
// flushed before the database closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
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
		d.RepoFactory = nil
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
