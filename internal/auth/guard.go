package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/telemetry"
	"github.com/tallyhq/tally/internal/tenant"
)

// OrgHeader names the target organization of a request, by id or slug. When
// absent the session-selected organization from the token is used.
const OrgHeader = "X-Tally-Org"

// Guard is the request-level tenant gate. For each guarded request it
// resolves the target organization, verifies the caller's membership with a
// fresh read (a suspension takes effect on the very next request), binds the
// tenant context and opens a bridged unit of work whose teardown is
// guaranteed on every exit path.
//
// Cross-tenant access attempts are answered with 404, never 403: an
// authenticated caller probing another tenant's organization learns nothing
// about whether it exists. This is a deliberate, uniform policy choice.
type Guard struct {
	orgs        store.OrganizationStore
	memberships store.MembershipStore
	bridge      *tenant.Bridge
}

// NewGuard creates an access guard over the given stores and bridge.
func NewGuard(orgs store.OrganizationStore, memberships store.MembershipStore, bridge *tenant.Bridge) *Guard {
	return &Guard{
		orgs:        orgs,
		memberships: memberships,
		bridge:      bridge,
	}
}

// Require returns a middleware admitting only callers holding an active
// membership with at least minRole in the target organization.
func (g *Guard) Require(minRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := IdentityFromContext(r.Context())
			if ident == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			org, err := g.resolveOrg(r, ident)
			if err != nil {
				g.reject(w, "org_not_found")
				return
			}

			if !ident.SuperAdmin {
				if !org.IsActive() {
					g.reject(w, "org_not_active")
					return
				}

				membership, err := g.memberships.GetForUser(r.Context(), ident.UserID, org.OrgID)
				if err != nil {
					g.reject(w, "no_membership")
					return
				}
				if !membership.IsActive() {
					g.reject(w, "membership_not_active")
					return
				}
				if !membership.HasRole(minRole) {
					g.reject(w, "insufficient_role")
					return
				}
			}

			ctx, err := tenant.Bind(r.Context(), org, ident.SuperAdmin)
			if err != nil {
				log.Error().Err(err).Msg("failed to bind tenant context")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			defer tenant.Clear(ctx)

			work, err := g.bridge.Begin(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to begin tenant work")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			defer work.Close(ctx)

			ctx = tenant.WithWork(ctx, work)

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(ctx))

			// Commit only successful requests; Close rolls back the rest.
			// The response has already been written at this point, so a
			// commit failure can only be logged.
			if sw.Status() < http.StatusBadRequest {
				if err := work.Commit(ctx); err != nil {
					log.Error().Err(err).Msg("failed to commit tenant work")
				}
			}
		})
	}
}

// RequireAdmin is shorthand for Require(models.RoleAdmin).
func (g *Guard) RequireAdmin() func(http.Handler) http.Handler {
	return g.Require(models.RoleAdmin)
}

// resolveOrg determines the target organization of a request: the OrgHeader
// value (id or slug) when present, otherwise the token's selected org.
func (g *Guard) resolveOrg(r *http.Request, ident *Identity) (*models.Organization, error) {
	if header := r.Header.Get(OrgHeader); header != "" {
		if orgID, err := uuid.Parse(header); err == nil {
			return g.orgs.Get(r.Context(), orgID)
		}
		return g.orgs.GetBySlug(r.Context(), header)
	}

	if ident.OrgID == uuid.Nil {
		return nil, store.ErrOrganizationNotFound
	}

	return g.orgs.Get(r.Context(), ident.OrgID)
}

// reject answers a guarded request with 404, hiding whether the target
// organization exists, and counts the rejection for alerting.
func (g *Guard) reject(w http.ResponseWriter, reason string) {
	telemetry.GuardRejections.WithLabelValues(reason).Inc()
	http.Error(w, "not found", http.StatusNotFound)
}

// CheckMembership validates that a user holds an active membership in an
// organization, with a minimum role. Used by operations that change the
// caller's working organization.
func CheckMembership(ctx context.Context, memberships store.MembershipStore, userID, orgID uuid.UUID, minRole string) (*models.Membership, error) {
	m, err := memberships.GetForUser(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, tenant.ErrPermissionDenied
		}
		return nil, err
	}
	if !m.IsActive() || !m.HasRole(minRole) {
		return nil, tenant.ErrPermissionDenied
	}
	return m, nil
}

// statusWriter records the response status for the commit decision.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
