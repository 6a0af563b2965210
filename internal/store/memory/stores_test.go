package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
)

func newOrg(slug string) *models.Organization {
	return &models.Organization{
		OrgID:  uuid.Must(uuid.NewV7()),
		Name:   slug,
		Slug:   slug,
		Status: models.OrgStatusActive,
	}
}

func bindOrg(t *testing.T, org *models.Organization) context.Context {
	t.Helper()
	ctx, err := tenant.Bind(context.Background(), org, false)
	require.NoError(t, err)
	return ctx
}

func TestClientStoreIsolation(t *testing.T) {
	stores := NewStores()
	orgA := newOrg("acme")
	orgB := newOrg("globex")
	ctxA := bindOrg(t, orgA)
	ctxB := bindOrg(t, orgB)

	client := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Initech"}
	require.NoError(t, stores.Clients.Create(ctxA, client))
	require.Equal(t, orgA.OrgID, client.OrgID)
	require.False(t, client.CreatedAt.IsZero())
	require.Equal(t, client.CreatedAt, client.UpdatedAt)

	t.Run("visible in the owning organization", func(t *testing.T) {
		got, err := stores.Clients.Get(ctxA, client.ClientID)
		require.NoError(t, err)
		require.Equal(t, client.Name, got.Name)
	})

	t.Run("invisible from another organization", func(t *testing.T) {
		_, err := stores.Clients.Get(ctxB, client.ClientID)
		require.ErrorIs(t, err, store.ErrClientNotFound)

		list, err := stores.Clients.List(ctxB)
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("cannot be updated from another organization", func(t *testing.T) {
		stolen := *client
		stolen.Name = "Hijacked"
		require.ErrorIs(t, stores.Clients.Update(ctxB, &stolen), store.ErrClientNotFound)

		got, err := stores.Clients.Get(ctxA, client.ClientID)
		require.NoError(t, err)
		require.Equal(t, "Initech", got.Name)
	})

	t.Run("cannot be deleted from another organization", func(t *testing.T) {
		require.ErrorIs(t, stores.Clients.Delete(ctxB, client.ClientID), store.ErrClientNotFound)

		_, err := stores.Clients.Get(ctxA, client.ClientID)
		require.NoError(t, err)
	})

	t.Run("fails closed without tenant context", func(t *testing.T) {
		_, err := stores.Clients.Get(context.Background(), client.ClientID)
		require.ErrorIs(t, err, tenant.ErrNoTenantContext)

		_, err = stores.Clients.List(context.Background())
		require.ErrorIs(t, err, tenant.ErrNoTenantContext)

		err = stores.Clients.Create(context.Background(), &models.Client{ClientID: uuid.Must(uuid.NewV7())})
		require.ErrorIs(t, err, tenant.ErrNoTenantContext)
	})

	t.Run("duplicate name within the organization", func(t *testing.T) {
		dup := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Initech"}
		require.ErrorIs(t, stores.Clients.Create(ctxA, dup), store.ErrClientAlreadyExists)

		// the same name is fine in another organization
		require.NoError(t, stores.Clients.Create(ctxB, &models.Client{
			ClientID: uuid.Must(uuid.NewV7()),
			Name:     "Initech",
		}))
	})
}

func TestProjectStoreCrossOrgReference(t *testing.T) {
	stores := NewStores()
	orgA := newOrg("acme")
	orgB := newOrg("globex")
	ctxA := bindOrg(t, orgA)
	ctxB := bindOrg(t, orgB)

	clientA := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Initech"}
	require.NoError(t, stores.Clients.Create(ctxA, clientA))

	t.Run("same-org reference is accepted", func(t *testing.T) {
		project := &models.Project{
			ProjectID: uuid.Must(uuid.NewV7()),
			Name:      "Website",
			Status:    models.ProjectStatusActive,
			ClientID:  &clientA.ClientID,
		}
		require.NoError(t, stores.Projects.Create(ctxA, project))
	})

	t.Run("cross-org reference is rejected", func(t *testing.T) {
		project := &models.Project{
			ProjectID: uuid.Must(uuid.NewV7()),
			Name:      "Heist",
			Status:    models.ProjectStatusActive,
			ClientID:  &clientA.ClientID,
		}
		require.ErrorIs(t, stores.Projects.Create(ctxB, project), tenant.ErrCrossOrgReference)
	})

	t.Run("cross-org reference is rejected on update", func(t *testing.T) {
		project := &models.Project{
			ProjectID: uuid.Must(uuid.NewV7()),
			Name:      "Internal",
			Status:    models.ProjectStatusActive,
		}
		require.NoError(t, stores.Projects.Create(ctxB, project))

		project.ClientID = &clientA.ClientID
		require.ErrorIs(t, stores.Projects.Update(ctxB, project), tenant.ErrCrossOrgReference)
	})
}

func TestTimeEntryStoreCrossOrgReference(t *testing.T) {
	stores := NewStores()
	orgA := newOrg("acme")
	orgB := newOrg("globex")
	ctxA := bindOrg(t, orgA)
	ctxB := bindOrg(t, orgB)

	project := &models.Project{
		ProjectID: uuid.Must(uuid.NewV7()),
		Name:      "Website",
		Status:    models.ProjectStatusActive,
	}
	require.NoError(t, stores.Projects.Create(ctxA, project))

	userID := uuid.Must(uuid.NewV7())

	t.Run("same-org entry is accepted", func(t *testing.T) {
		entry := &models.TimeEntry{
			EntryID:   uuid.Must(uuid.NewV7()),
			ProjectID: project.ProjectID,
			UserID:    userID,
			StartedAt: time.Now(),
			Duration:  time.Hour,
		}
		require.NoError(t, stores.TimeEntries.Create(ctxA, entry))

		list, err := stores.TimeEntries.ListByProject(ctxA, project.ProjectID)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("entry against another org's project is rejected", func(t *testing.T) {
		entry := &models.TimeEntry{
			EntryID:   uuid.Must(uuid.NewV7()),
			ProjectID: project.ProjectID,
			UserID:    userID,
			StartedAt: time.Now(),
			Duration:  time.Hour,
		}
		require.ErrorIs(t, stores.TimeEntries.Create(ctxB, entry), tenant.ErrCrossOrgReference)
	})

	t.Run("listing is scoped", func(t *testing.T) {
		list, err := stores.TimeEntries.ListByProject(ctxB, project.ProjectID)
		require.NoError(t, err)
		require.Empty(t, list)

		list, err = stores.TimeEntries.ListByUser(ctxB, userID)
		require.NoError(t, err)
		require.Empty(t, list)
	})
}

func TestMembershipStoreUniqueness(t *testing.T) {
	memberships := NewMembershipStore()
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV7())
	orgID := uuid.Must(uuid.NewV7())

	first := &models.Membership{
		MembershipID: uuid.Must(uuid.NewV7()),
		UserID:       userID,
		OrgID:        orgID,
		Role:         models.RoleMember,
		Status:       models.MembershipStatusActive,
	}
	require.NoError(t, memberships.Create(ctx, first))

	t.Run("second live membership is rejected", func(t *testing.T) {
		dup := &models.Membership{
			MembershipID: uuid.Must(uuid.NewV7()),
			UserID:       userID,
			OrgID:        orgID,
			Role:         models.RoleViewer,
			Status:       models.MembershipStatusInvited,
		}
		require.ErrorIs(t, memberships.Create(ctx, dup), store.ErrMembershipConflict)
	})

	t.Run("a revoked membership frees the pair", func(t *testing.T) {
		first.Status = models.MembershipStatusRevoked
		require.NoError(t, memberships.Update(ctx, first))

		again := &models.Membership{
			MembershipID: uuid.Must(uuid.NewV7()),
			UserID:       userID,
			OrgID:        orgID,
			Role:         models.RoleMember,
			Status:       models.MembershipStatusActive,
		}
		require.NoError(t, memberships.Create(ctx, again))
	})
}

func TestInvitationTokenFlow(t *testing.T) {
	memberships := NewMembershipStore()
	ctx := context.Background()
	token := "invite-token"

	m := &models.Membership{
		MembershipID:    uuid.Must(uuid.NewV7()),
		UserID:          uuid.Must(uuid.NewV7()),
		OrgID:           uuid.Must(uuid.NewV7()),
		Role:            models.RoleMember,
		Status:          models.MembershipStatusInvited,
		InvitationToken: &token,
	}
	require.NoError(t, memberships.Create(ctx, m))

	got, err := memberships.GetByInvitationToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, m.MembershipID, got.MembershipID)

	got.Status = models.MembershipStatusActive
	got.InvitationToken = nil
	require.NoError(t, memberships.Update(ctx, got))

	_, err = memberships.GetByInvitationToken(ctx, token)
	require.ErrorIs(t, err, store.ErrInvitationNotFound)
}

func TestOrganizationStore(t *testing.T) {
	stores := NewStores()
	ctx := context.Background()

	org := newOrg("acme")
	require.NoError(t, stores.Organizations.Create(ctx, org))

	t.Run("get by id and slug", func(t *testing.T) {
		got, err := stores.Organizations.Get(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, org.Slug, got.Slug)

		got, err = stores.Organizations.GetBySlug(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, org.OrgID, got.OrgID)
	})

	t.Run("duplicate slug is rejected", func(t *testing.T) {
		dup := newOrg("acme")
		require.ErrorIs(t, stores.Organizations.Create(ctx, dup), store.ErrOrganizationAlreadyExists)
	})

	t.Run("lists only organizations with an active membership", func(t *testing.T) {
		userID := uuid.Must(uuid.NewV7())

		other := newOrg("globex")
		require.NoError(t, stores.Organizations.Create(ctx, other))

		require.NoError(t, stores.Memberships.Create(ctx, &models.Membership{
			MembershipID: uuid.Must(uuid.NewV7()),
			UserID:       userID,
			OrgID:        org.OrgID,
			Role:         models.RoleMember,
			Status:       models.MembershipStatusActive,
		}))
		require.NoError(t, stores.Memberships.Create(ctx, &models.Membership{
			MembershipID: uuid.Must(uuid.NewV7()),
			UserID:       userID,
			OrgID:        other.OrgID,
			Role:         models.RoleMember,
			Status:       models.MembershipStatusInvited,
		}))

		orgs, err := stores.Organizations.ListForUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, orgs, 1)
		require.Equal(t, org.OrgID, orgs[0].OrgID)
	})

	t.Run("purges only expired pending deletions under super-admin", func(t *testing.T) {
		doomed := newOrg("doomed")
		require.NoError(t, stores.Organizations.Create(ctx, doomed))

		past := time.Now().Add(-time.Hour)
		require.NoError(t, stores.Organizations.MarkPendingDeletion(ctx, doomed.OrgID, past))

		_, err := stores.Organizations.PurgeExpired(ctx, time.Now())
		require.ErrorIs(t, err, tenant.ErrSuperAdminRequired)

		adminCtx, err := tenant.Bind(context.Background(), nil, true)
		require.NoError(t, err)

		n, err := stores.Organizations.PurgeExpired(adminCtx, time.Now())
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = stores.Organizations.Get(ctx, doomed.OrgID)
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})
}

func TestSuperAdminReads(t *testing.T) {
	stores := NewStores()
	orgA := newOrg("acme")
	orgB := newOrg("globex")
	ctxA := bindOrg(t, orgA)
	ctxB := bindOrg(t, orgB)

	a := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Initech"}
	b := &models.Client{ClientID: uuid.Must(uuid.NewV7()), Name: "Hooli"}
	require.NoError(t, stores.Clients.Create(ctxA, a))
	require.NoError(t, stores.Clients.Create(ctxB, b))

	adminCtx, err := tenant.Bind(context.Background(), nil, true)
	require.NoError(t, err)

	t.Run("reads span organizations", func(t *testing.T) {
		list, err := stores.Clients.List(adminCtx)
		require.NoError(t, err)
		require.Len(t, list, 2)

		got, err := stores.Clients.Get(adminCtx, b.ClientID)
		require.NoError(t, err)
		require.Equal(t, "Hooli", got.Name)
	})

	t.Run("writes still require an organization binding", func(t *testing.T) {
		err := stores.Clients.Create(adminCtx, &models.Client{
			ClientID: uuid.Must(uuid.NewV7()),
			Name:     "Sneaky",
		})
		require.ErrorIs(t, err, tenant.ErrNoTenantContext)
	})
}

func TestTxRunner(t *testing.T) {
	stores := NewStores()

	t.Run("runs the function", func(t *testing.T) {
		ran := false
		require.NoError(t, stores.Tx(context.Background(), func(ctx context.Context) error {
			ran = true
			return nil
		}))
		require.True(t, ran)
	})

	t.Run("propagates errors", func(t *testing.T) {
		failure := errors.New("nested write failed")
		err := stores.Tx(context.Background(), func(ctx context.Context) error {
			return failure
		})
		require.ErrorIs(t, err, failure)
	})
}
