package postgres

import (
	"github.com/upb/multi-tenant-crm/config"
	"github.com/upb/multi-tenant-crm/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory opens the pool and builds every repository on it
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory connects to PostgreSQL and applies migrations when
// DB_AUTO_MIGRATE is enabled
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := db.ApplyMigrations(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return NewRepositoryFactoryFromDB(db, logger), nil
}

// NewRepositoryFactoryFromDB builds a factory over an already open pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Organizations: NewOrganizationRepository(f.db, f.logger),
		Users:         NewUserRepository(f.db, f.logger),
		Contacts:      NewContactRepository(f.db, f.logger),
		AuditLogs:     NewAuditRepository(f.db, f.logger),
	}
}

// TransactionManager returns a transaction manager over the pool
func (f *RepositoryFactory) TransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// DB returns the database connection
func (f *RepositoryFactory) DB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
