//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	// Migrate as the image's bootstrap user, then hand the suite a pool
	// running as a plain application role. The bootstrap user is a
	// superuser, and superusers bypass row level security unconditionally,
	// so the policies would never apply to its connections.
	admin, err := NewPool(ctx, &Config{
		ConnString:  connString,
		AutoMigrate: true,
	})
	require.NoError(t, err)

	for _, stmt := range []string{
		`CREATE ROLE tally_app LOGIN PASSWORD 'test'`,
		`GRANT USAGE ON SCHEMA public TO tally_app`,
		`GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO tally_app`,
	} {
		_, err = admin.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	admin.Close()

	appConnString := fmt.Sprintf("postgres://tally_app:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &Config{
		ConnString: appConnString,
	})
	require.NoError(t, err)

	var super bool
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT rolsuper FROM pg_roles WHERE rolname = current_user`).Scan(&super))
	require.False(t, super, "suite must not run as a superuser")

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func seedOrg(t *testing.T, stores *store.Stores, slug string) *models.Organization {
	t.Helper()
	org := &models.Organization{
		OrgID:    uuid.Must(uuid.NewV7()),
		Name:     slug,
		Slug:     slug,
		Status:   models.OrgStatusActive,
		Plan:     "free",
		Currency: "USD",
	}
	require.NoError(t, stores.Organizations.Create(context.Background(), org))
	return org
}

// inOrg runs fn inside a bound unit of work for org, committing on success.
func inOrg(t *testing.T, bridge *tenant.Bridge, org *models.Organization, fn func(ctx context.Context) error) error {
	t.Helper()
	ctx, err := tenant.Bind(context.Background(), org, false)
	require.NoError(t, err)
	defer tenant.Clear(ctx)

	return bridge.Run(ctx, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}

func TestIntegration_RowIsolation(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	stores := NewStores(pool)
	bridge := tenant.NewBridge(pool)

	orgA := seedOrg(t, stores, "acme")
	orgB := seedOrg(t, stores, "globex")

	client := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Initech", Currency: "USD"}
	require.NoError(t, inOrg(t, bridge, orgA, func(ctx context.Context) error {
		return stores.Clients.Create(ctx, client)
	}))
	require.Equal(t, orgA.OrgID, client.OrgID)

	t.Run("visible in the owning organization", func(t *testing.T) {
		require.NoError(t, inOrg(t, bridge, orgA, func(ctx context.Context) error {
			got, err := stores.Clients.Get(ctx, client.ClientID)
			if err != nil {
				return err
			}
			require.Equal(t, "Initech", got.Name)
			return nil
		}))
	})

	t.Run("invisible from another organization", func(t *testing.T) {
		err := inOrg(t, bridge, orgB, func(ctx context.Context) error {
			_, err := stores.Clients.Get(ctx, client.ClientID)
			return err
		})
		require.ErrorIs(t, err, store.ErrClientNotFound)

		require.NoError(t, inOrg(t, bridge, orgB, func(ctx context.Context) error {
			list, err := stores.Clients.List(ctx)
			if err != nil {
				return err
			}
			require.Empty(t, list)
			return nil
		}))
	})

	t.Run("policies fail closed without session settings", func(t *testing.T) {
		// A direct pool query carries no tenant setting; the policies must
		// return zero rows even though the row exists.
		var count int
		err := pool.QueryRow(ctx, `SELECT count(*) FROM clients`).Scan(&count)
		require.NoError(t, err)
		require.Zero(t, count)
	})

	t.Run("raw writes without session settings are rejected", func(t *testing.T) {
		_, err := pool.Exec(ctx,
			`INSERT INTO clients (client_id, org_id, name, currency) VALUES ($1, $2, 'Sneaky', 'USD')`,
			uuid.Must(uuid.NewV7()), orgA.OrgID)
		require.Error(t, err)

		var pgErr *pgconn.PgError
		require.ErrorAs(t, err, &pgErr)
		require.Equal(t, pgerrcode.InsufficientPrivilege, pgErr.Code)
	})

	t.Run("store reads without a bridged transaction fail closed", func(t *testing.T) {
		// Bound context but no unit of work: the query runs on the pool,
		// where no tenant setting exists, and the policies hide every row.
		boundCtx, err := tenant.Bind(context.Background(), orgA, false)
		require.NoError(t, err)
		defer tenant.Clear(boundCtx)

		_, err = stores.Clients.Get(boundCtx, client.ClientID)
		require.ErrorIs(t, err, store.ErrClientNotFound)
	})
}

func TestIntegration_CrossOrgReferences(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	stores := NewStores(pool)
	bridge := tenant.NewBridge(pool)

	orgA := seedOrg(t, stores, "acme")
	orgB := seedOrg(t, stores, "globex")

	clientA := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Initech", Currency: "USD"}
	require.NoError(t, inOrg(t, bridge, orgA, func(ctx context.Context) error {
		return stores.Clients.Create(ctx, clientA)
	}))

	t.Run("same-org project reference is accepted", func(t *testing.T) {
		require.NoError(t, inOrg(t, bridge, orgA, func(ctx context.Context) error {
			return stores.Projects.Create(ctx, &models.Project{
				ProjectID: uuid.Must(uuid.NewV7()),
				Name:      "Website",
				Status:    models.ProjectStatusActive,
				ClientID:  &clientA.ClientID,
			})
		}))
	})

	t.Run("cross-org project reference is rejected", func(t *testing.T) {
		err := inOrg(t, bridge, orgB, func(ctx context.Context) error {
			return stores.Projects.Create(ctx, &models.Project{
				ProjectID: uuid.Must(uuid.NewV7()),
				Name:      "Heist",
				Status:    models.ProjectStatusActive,
				ClientID:  &clientA.ClientID,
			})
		})
		require.ErrorIs(t, err, tenant.ErrCrossOrgReference)
	})

	t.Run("cross-org time entry reference is rejected", func(t *testing.T) {
		projectA := &models.Project{
			ProjectID: uuid.Must(uuid.NewV7()),
			Name:      "Internal",
			Status:    models.ProjectStatusActive,
		}
		require.NoError(t, inOrg(t, bridge, orgA, func(ctx context.Context) error {
			return stores.Projects.Create(ctx, projectA)
		}))

		err := inOrg(t, bridge, orgB, func(ctx context.Context) error {
			return stores.TimeEntries.Create(ctx, &models.TimeEntry{
				EntryID:   uuid.Must(uuid.NewV7()),
				ProjectID: projectA.ProjectID,
				UserID:    uuid.Must(uuid.NewV7()),
				StartedAt: time.Now(),
				Duration:  time.Hour,
			})
		})
		require.ErrorIs(t, err, tenant.ErrCrossOrgReference)
	})
}

func TestIntegration_BridgeTeardown(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	stores := NewStores(pool)
	bridge := tenant.NewBridge(pool)
	org := seedOrg(t, stores, "acme")

	t.Run("work applies and reverts the tenant settings", func(t *testing.T) {
		boundCtx, err := tenant.Bind(context.Background(), org, false)
		require.NoError(t, err)
		defer tenant.Clear(boundCtx)

		work, err := bridge.Begin(boundCtx)
		require.NoError(t, err)

		var setting string
		require.NoError(t, work.Tx().QueryRow(boundCtx,
			`SELECT current_setting('tally.org_id', true)`).Scan(&setting))
		require.Equal(t, org.OrgID.String(), setting)

		work.Close(boundCtx)
		require.Nil(t, work.Tx())

		// No connection in the pool retains the setting.
		var leaked int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT count(*) FROM clients WHERE true`).Scan(&leaked))
		require.Zero(t, leaked)
	})

	t.Run("close rolls back uncommitted work", func(t *testing.T) {
		boundCtx, err := tenant.Bind(context.Background(), org, false)
		require.NoError(t, err)
		defer tenant.Clear(boundCtx)

		work, err := bridge.Begin(boundCtx)
		require.NoError(t, err)
		workCtx := tenant.WithWork(boundCtx, work)

		orphan := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Orphan", Currency: "USD"}
		require.NoError(t, stores.Clients.Create(workCtx, orphan))

		// Close without commit.
		work.Close(boundCtx)

		err = inOrg(t, bridge, org, func(ctx context.Context) error {
			_, err := stores.Clients.Get(ctx, orphan.ClientID)
			return err
		})
		require.ErrorIs(t, err, store.ErrClientNotFound)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		boundCtx, err := tenant.Bind(context.Background(), org, false)
		require.NoError(t, err)
		defer tenant.Clear(boundCtx)

		work, err := bridge.Begin(boundCtx)
		require.NoError(t, err)
		work.Close(boundCtx)
		work.Close(boundCtx)
	})

	t.Run("begin requires a bound context", func(t *testing.T) {
		_, err := bridge.Begin(context.Background())
		require.ErrorIs(t, err, tenant.ErrNoTenantContext)
	})
}

func TestIntegration_Memberships(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	stores := NewStores(pool)

	org := seedOrg(t, stores, "acme")
	user := &models.User{UserID: uuid.Must(uuid.NewV7()), Email: "dev@example.com", Name: "Dev"}
	require.NoError(t, stores.Users.Create(ctx, user))

	first := &models.Membership{
		MembershipID: uuid.Must(uuid.NewV7()),
		UserID:       user.UserID,
		OrgID:        org.OrgID,
		Role:         models.RoleMember,
		Status:       models.MembershipStatusActive,
	}
	require.NoError(t, stores.Memberships.Create(ctx, first))

	t.Run("second live membership is rejected", func(t *testing.T) {
		err := stores.Memberships.Create(ctx, &models.Membership{
			MembershipID: uuid.Must(uuid.NewV7()),
			UserID:       user.UserID,
			OrgID:        org.OrgID,
			Role:         models.RoleViewer,
			Status:       models.MembershipStatusInvited,
		})
		require.ErrorIs(t, err, store.ErrMembershipConflict)
	})

	t.Run("a revoked membership frees the pair", func(t *testing.T) {
		first.Status = models.MembershipStatusRevoked
		require.NoError(t, stores.Memberships.Update(ctx, first))

		require.NoError(t, stores.Memberships.Create(ctx, &models.Membership{
			MembershipID: uuid.Must(uuid.NewV7()),
			UserID:       user.UserID,
			OrgID:        org.OrgID,
			Role:         models.RoleMember,
			Status:       models.MembershipStatusActive,
		}))
	})

	t.Run("list organizations for user", func(t *testing.T) {
		orgs, err := stores.Organizations.ListForUser(ctx, user.UserID)
		require.NoError(t, err)
		require.Len(t, orgs, 1)
		require.Equal(t, org.OrgID, orgs[0].OrgID)
	})
}

func TestIntegration_TxRollback(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	stores := NewStores(pool)

	org := &models.Organization{
		OrgID:    uuid.Must(uuid.NewV7()),
		Name:     "halfway",
		Slug:     "halfway",
		Status:   models.OrgStatusActive,
		Plan:     "free",
		Currency: "USD",
	}

	// A failure after the first write must take the whole transaction down
	// with it, leaving no half-provisioned organization behind.
	failure := errors.New("membership write failed")
	err := stores.Tx(ctx, func(ctx context.Context) error {
		if err := stores.Organizations.Create(ctx, org); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	_, err = stores.Organizations.Get(ctx, org.OrgID)
	require.ErrorIs(t, err, store.ErrOrganizationNotFound)
}

func TestIntegration_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	stores := NewStores(pool)
	bridge := tenant.NewBridge(pool)

	doomed := seedOrg(t, stores, "doomed")
	keeper := seedOrg(t, stores, "keeper")

	require.NoError(t, stores.Organizations.MarkPendingDeletion(ctx, doomed.OrgID, time.Now().Add(-time.Hour)))
	require.NoError(t, stores.Organizations.MarkPendingDeletion(ctx, keeper.OrgID, time.Now().Add(time.Hour)))

	t.Run("requires super-admin context", func(t *testing.T) {
		_, err := stores.Organizations.PurgeExpired(ctx, time.Now())
		require.ErrorIs(t, err, tenant.ErrSuperAdminRequired)
	})

	t.Run("purges only expired organizations", func(t *testing.T) {
		adminCtx, err := tenant.Bind(context.Background(), nil, true)
		require.NoError(t, err)
		defer tenant.Clear(adminCtx)

		var purged int
		require.NoError(t, bridge.Run(adminCtx, func(ctx context.Context, _ pgx.Tx) error {
			n, err := stores.Organizations.PurgeExpired(ctx, time.Now())
			if err != nil {
				return err
			}
			purged = n
			return nil
		}))
		require.Equal(t, 1, purged)

		_, err = stores.Organizations.Get(ctx, doomed.OrgID)
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
		_, err = stores.Organizations.Get(ctx, keeper.OrgID)
		require.NoError(t, err)
	})
}
