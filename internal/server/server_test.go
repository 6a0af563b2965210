package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/store/memory"
	"github.com/tallyhq/tally/internal/tenant"
)

type fixture struct {
	t       *testing.T
	handler http.Handler
	stores  *store.Stores
	signer  *auth.TokenSigner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stores := memory.NewStores()
	signer, err := auth.NewTokenSigner([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	bridge := tenant.NewBridge(nil)
	guard := auth.NewGuard(stores.Organizations, stores.Memberships, bridge)
	srv := NewServer(stores, guard, signer, bridge, Options{
		CORSOrigins: []string{"http://localhost:3000"},
	})

	return &fixture{
		t:       t,
		handler: srv.Handler(zerolog.Nop()),
		stores:  stores,
		signer:  signer,
	}
}

// seedUser creates a user, an organization and an active membership, and
// returns the user and a token selecting that organization.
func (f *fixture) seedUser(email, slug, role string) (*models.User, *models.Organization, string) {
	f.t.Helper()
	ctx := context.Background()

	user := &models.User{UserID: uuid.Must(uuid.NewV7()), Email: email, Name: email}
	require.NoError(f.t, f.stores.Users.Create(ctx, user))

	org := &models.Organization{
		OrgID:    uuid.Must(uuid.NewV7()),
		Name:     slug,
		Slug:     slug,
		Status:   models.OrgStatusActive,
		Currency: "USD",
	}
	require.NoError(f.t, f.stores.Organizations.Create(ctx, org))

	require.NoError(f.t, f.stores.Memberships.Create(ctx, &models.Membership{
		MembershipID: uuid.Must(uuid.NewV7()),
		UserID:       user.UserID,
		OrgID:        org.OrgID,
		Role:         role,
		Status:       models.MembershipStatusActive,
	}))

	return user, org, f.token(user, org.OrgID)
}

func (f *fixture) token(user *models.User, orgID uuid.UUID) string {
	f.t.Helper()
	token, err := f.signer.Sign(&auth.Identity{
		UserID: user.UserID,
		Email:  user.Email,
		OrgID:  orgID,
	})
	require.NoError(f.t, err)
	return token
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthenticationRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/orgs", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/org/clients", "bogus-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrganizationLifecycle(t *testing.T) {
	f := newFixture(t)
	_, org, token := f.seedUser("alice@example.com", "acme", models.RoleAdmin)

	t.Run("list organizations", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/orgs", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		orgs := decode[[]orgResponse](t, rec)
		require.Len(t, orgs, 1)
		require.Equal(t, org.Slug, orgs[0].Slug)
	})

	t.Run("create organization makes the creator admin", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/orgs", token, createOrganizationRequest{
			Name: "Side Hustle",
			Slug: "side-hustle",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		created := decode[orgResponse](t, rec)
		require.Equal(t, "side-hustle", created.Slug)
		require.Equal(t, "free", created.Plan)

		rec = f.do(http.MethodGet, "/api/orgs", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[[]orgResponse](t, rec), 2)
	})

	t.Run("rejects a bad slug", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/orgs", token, createOrganizationRequest{
			Name: "Bad",
			Slug: "Not A Slug",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a duplicate slug", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/orgs", token, createOrganizationRequest{
			Name: "Copy",
			Slug: "acme",
		})
		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestSwitchOrganization(t *testing.T) {
	f := newFixture(t)
	alice, _, aliceToken := f.seedUser("alice@example.com", "acme", models.RoleAdmin)
	_, globex, _ := f.seedUser("bob@example.com", "globex", models.RoleAdmin)

	t.Run("rejects switching into an organization without membership", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/orgs/switch", aliceToken, switchOrganizationRequest{Org: "globex"})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("switches after membership is granted", func(t *testing.T) {
		require.NoError(t, f.stores.Memberships.Create(context.Background(), &models.Membership{
			MembershipID: uuid.Must(uuid.NewV7()),
			UserID:       alice.UserID,
			OrgID:        globex.OrgID,
			Role:         models.RoleViewer,
			Status:       models.MembershipStatusActive,
		}))

		rec := f.do(http.MethodPost, "/api/orgs/switch", aliceToken, switchOrganizationRequest{Org: "globex"})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[switchOrganizationResponse](t, rec)
		require.Equal(t, globex.OrgID.String(), resp.Org.OrgID)
		require.NotEmpty(t, resp.Token)

		// the new token selects the other organization
		ident, err := f.signer.Verify(resp.Token)
		require.NoError(t, err)
		require.Equal(t, globex.OrgID, ident.OrgID)
	})
}

func TestMemberManagement(t *testing.T) {
	f := newFixture(t)
	_, org, adminToken := f.seedUser("alice@example.com", "acme", models.RoleAdmin)

	t.Run("invite and accept", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/org/members/invite", adminToken, inviteMemberRequest{
			Email: "carol@example.com",
			Name:  "Carol",
			Role:  models.RoleMember,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		invited := decode[inviteMemberResponse](t, rec)
		require.Equal(t, models.MembershipStatusInvited, invited.Status)
		require.NotEmpty(t, invited.InvitationToken)
		require.False(t, invited.CreatedAt.IsZero())

		carol, err := f.stores.Users.GetByEmail(context.Background(), "carol@example.com")
		require.NoError(t, err)
		carolToken := f.token(carol, org.OrgID)

		// membership is not active yet
		rec = f.do(http.MethodGet, "/api/org/clients", carolToken, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(http.MethodPost, "/api/invitations/accept", carolToken, acceptInvitationRequest{
			Token: invited.InvitationToken,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(http.MethodGet, "/api/org/clients", carolToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		// the token is single use
		rec = f.do(http.MethodPost, "/api/invitations/accept", carolToken, acceptInvitationRequest{
			Token: invited.InvitationToken,
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("only the invited user can accept", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/org/members/invite", adminToken, inviteMemberRequest{
			Email: "dave@example.com",
			Role:  models.RoleViewer,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		invited := decode[inviteMemberResponse](t, rec)

		_, _, malloryToken := f.seedUser("mallory@example.com", "evil-corp", models.RoleAdmin)

		rec = f.do(http.MethodPost, "/api/invitations/accept", malloryToken, acceptInvitationRequest{
			Token: invited.InvitationToken,
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("member management requires admin role", func(t *testing.T) {
		carol, err := f.stores.Users.GetByEmail(context.Background(), "carol@example.com")
		require.NoError(t, err)
		carolToken := f.token(carol, org.OrgID)

		rec := f.do(http.MethodPost, "/api/org/members/invite", carolToken, inviteMemberRequest{
			Email: "eve@example.com",
			Role:  models.RoleViewer,
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("revoking the last admin is rejected", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/org/members", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var adminMembershipID string
		for _, m := range decode[[]memberResponse](t, rec) {
			if m.Role == models.RoleAdmin {
				adminMembershipID = m.MembershipID
			}
		}
		require.NotEmpty(t, adminMembershipID)

		rec = f.do(http.MethodDelete, "/api/org/members/"+adminMembershipID, adminToken, nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("revocation takes effect on the next request", func(t *testing.T) {
		carol, err := f.stores.Users.GetByEmail(context.Background(), "carol@example.com")
		require.NoError(t, err)
		carolToken := f.token(carol, org.OrgID)

		m, err := f.stores.Memberships.GetForUser(context.Background(), carol.UserID, org.OrgID)
		require.NoError(t, err)

		rec := f.do(http.MethodDelete, "/api/org/members/"+m.MembershipID.String(), adminToken, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(http.MethodGet, "/api/org/clients", carolToken, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	f := newFixture(t)
	_, _, aliceToken := f.seedUser("alice@example.com", "acme", models.RoleAdmin)
	_, _, bobToken := f.seedUser("bob@example.com", "globex", models.RoleAdmin)

	// Alice creates a client and a project in acme.
	rec := f.do(http.MethodPost, "/api/org/clients", aliceToken, createClientRequest{Name: "Initech"})
	require.Equal(t, http.StatusCreated, rec.Code)
	client := decode[clientResponse](t, rec)
	require.False(t, client.CreatedAt.IsZero())

	rec = f.do(http.MethodPost, "/api/org/projects", aliceToken, createProjectRequest{
		Name:     "Website",
		ClientID: &client.ClientID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	project := decode[projectResponse](t, rec)

	t.Run("another organization sees nothing", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/org/clients", bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, decode[[]clientResponse](t, rec))

		rec = f.do(http.MethodGet, "/api/org/clients/"+client.ClientID, bobToken, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(http.MethodGet, "/api/org/projects/"+project.ProjectID, bobToken, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cross-organization references read as not found", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/org/projects", bobToken, createProjectRequest{
			Name:     "Heist",
			ClientID: &client.ClientID,
		})
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(http.MethodPost, "/api/org/entries", bobToken, createEntryRequest{
			ProjectID:       project.ProjectID,
			StartedAt:       time.Now(),
			DurationSeconds: 3600,
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("time entries are scoped", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/org/entries", aliceToken, createEntryRequest{
			ProjectID:       project.ProjectID,
			StartedAt:       time.Now(),
			DurationSeconds: 5400,
			Note:            "landing page",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		entry := decode[entryResponse](t, rec)
		require.Equal(t, int64(5400), entry.DurationSeconds)

		rec = f.do(http.MethodGet, fmt.Sprintf("/api/org/entries?project=%s", project.ProjectID), aliceToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[[]entryResponse](t, rec), 1)

		rec = f.do(http.MethodGet, fmt.Sprintf("/api/org/entries?project=%s", project.ProjectID), bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, decode[[]entryResponse](t, rec))
	})
}

func TestRoleEnforcement(t *testing.T) {
	f := newFixture(t)
	_, org, _ := f.seedUser("alice@example.com", "acme", models.RoleAdmin)

	viewer := &models.User{UserID: uuid.Must(uuid.NewV7()), Email: "viewer@example.com"}
	require.NoError(t, f.stores.Users.Create(context.Background(), viewer))
	require.NoError(t, f.stores.Memberships.Create(context.Background(), &models.Membership{
		MembershipID: uuid.Must(uuid.NewV7()),
		UserID:       viewer.UserID,
		OrgID:        org.OrgID,
		Role:         models.RoleViewer,
		Status:       models.MembershipStatusActive,
	}))
	viewerToken := f.token(viewer, org.OrgID)

	t.Run("viewer can read", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/org/clients", viewerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("viewer cannot write", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/org/clients", viewerToken, createClientRequest{Name: "Initech"})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
