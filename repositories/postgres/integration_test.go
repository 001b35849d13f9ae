//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/upb/multi-tenant-crm/config"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/repositories"
	"go.uber.org/zap"
)

// setupPostgres starts a disposable PostgreSQL container and returns a
// migrated repository factory on it.
func setupPostgres(t *testing.T) *RepositoryFactory {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "crm",
			"POSTGRES_PASSWORD": "crm_password",
			"POSTGRES_DB":       "crm",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	factory, err := NewRepositoryFactory(config.DatabaseConfig{
		ConnectionString: fmt.Sprintf("postgres://crm:crm_password@%s:%s/crm?sslmode=disable", host, port.Port()),
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Minute,
		AutoMigrate:      true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	return factory
}

func TestPostgres_TenantIsolation(t *testing.T) {
	factory := setupPostgres(t)
	repos := factory.NewRepositories()
	ctx := context.Background()

	ref := "org_acme"
	acme := models.NewOrganization("acme.com Organization", "acme.com", &ref)
	require.NoError(t, repos.Organizations.Create(ctx, acme))
	globex := models.NewOrganization("globex.com Organization", "globex.com", nil)
	require.NoError(t, repos.Organizations.Create(ctx, globex))

	t.Run("domain and reference are unique", func(t *testing.T) {
		dup := models.NewOrganization("again", "acme.com", nil)
		assert.ErrorIs(t, repos.Organizations.Create(ctx, dup), repositories.ErrConflict)

		byRef, err := repos.Organizations.GetByExternalRef(ctx, ref)
		require.NoError(t, err)
		byDomain, err := repos.Organizations.GetByDomain(ctx, "acme.com")
		require.NoError(t, err)
		assert.Equal(t, byRef.ID, byDomain.ID)
	})

	t.Run("attach reference once", func(t *testing.T) {
		require.NoError(t, repos.Organizations.AttachExternalRef(ctx, globex.ID, "org_globex"))
		assert.ErrorIs(t, repos.Organizations.AttachExternalRef(ctx, globex.ID, "org_other"), repositories.ErrNotFound)
	})

	user := models.NewUser("a@acme.com", "a", "", acme.ID, models.RoleMember)
	require.NoError(t, repos.Users.Create(ctx, user))

	t.Run("same email may exist in two organizations", func(t *testing.T) {
		other := models.NewUser("a@acme.com", "a", "", globex.ID, models.RoleMember)
		require.NoError(t, repos.Users.Create(ctx, other))

		dup := models.NewUser("a@acme.com", "a", "", acme.ID, models.RoleMember)
		assert.ErrorIs(t, repos.Users.Create(ctx, dup), repositories.ErrConflict)
	})

	t.Run("user rows are invisible across organizations", func(t *testing.T) {
		_, err := repos.Users.GetByID(ctx, globex.ID, user.ID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)

		_, err = repos.Users.UpdateRole(ctx, globex.ID, user.ID, models.RoleAdmin)
		assert.ErrorIs(t, err, repositories.ErrNotFound)

		assert.ErrorIs(t, repos.Users.Delete(ctx, globex.ID, user.ID), repositories.ErrNotFound)
	})

	t.Run("contacts are scoped and counted", func(t *testing.T) {
		email := "ada@acme.com"
		contact := &models.Contact{
			ID:             uuid.New(),
			OrganizationID: acme.ID,
			FirstName:      "Ada",
			LastName:       "Lovelace",
			Email:          &email,
			CreatedBy:      &user.ID,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		require.NoError(t, repos.Contacts.Create(ctx, contact))

		found, err := repos.Contacts.Search(ctx, acme.ID, "love", 50)
		require.NoError(t, err)
		assert.Len(t, found, 1)

		found, err = repos.Contacts.Search(ctx, globex.ID, "love", 50)
		require.NoError(t, err)
		assert.Empty(t, found)

		stats, err := repos.Contacts.Stats(ctx, acme.ID, time.Now().Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalContacts)
		assert.Equal(t, 100, stats.EmailPercentage)

		deleted, err := repos.Contacts.DeleteMany(ctx, globex.ID, []uuid.UUID{contact.ID})
		require.NoError(t, err)
		assert.Empty(t, deleted)
	})

	t.Run("transaction rollback discards writes", func(t *testing.T) {
		tm := factory.TransactionManager()
		pending := models.NewUser("b@acme.com", "b", "", acme.ID, models.RoleMember)

		err := tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
			if err := repos.Users.Create(txCtx, pending); err != nil {
				return err
			}
			return fmt.Errorf("abort")
		})
		require.Error(t, err)

		_, err = repos.Users.GetByEmail(ctx, acme.ID, "b@acme.com")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}
