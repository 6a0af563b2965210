package server

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/telemetry"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type orgResponse struct {
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Status      string `json:"status"`
	Plan        string `json:"plan"`
	MaxUsers    int32  `json:"max_users"`
	MaxProjects int32  `json:"max_projects"`
	Locale      string `json:"locale"`
	Currency    string `json:"currency"`
}

func toOrgResponse(org *models.Organization) orgResponse {
	return orgResponse{
		OrgID:       org.OrgID.String(),
		Name:        org.Name,
		Slug:        org.Slug,
		Status:      org.Status,
		Plan:        org.Plan,
		MaxUsers:    org.MaxUsers,
		MaxProjects: org.MaxProjects,
		Locale:      org.Locale,
		Currency:    org.Currency,
	}
}

func (s *Server) routeOrganizations(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orgs", s.listOrganizations)
	mux.HandleFunc("POST /api/orgs", s.createOrganization)
	mux.HandleFunc("POST /api/orgs/switch", s.switchOrganization)
}

// listOrganizations returns the organizations the caller holds an active
// membership in. It is an identity-level operation and needs no guard.
func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	ident := auth.IdentityFromContext(r.Context())

	orgs, err := s.stores.Organizations.ListForUser(r.Context(), ident.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := make([]orgResponse, 0, len(orgs))
	for _, org := range orgs {
		resp = append(resp, toOrgResponse(org))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createOrganizationRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Plan     string `json:"plan"`
	Locale   string `json:"locale"`
	Currency string `json:"currency"`
}

// createOrganization provisions a new organization with the caller as its
// first active admin.
func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	ident := auth.IdentityFromContext(r.Context())

	var req createOrganizationRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		writeError(w, http.StatusBadRequest, "slug must be lowercase letters, digits and hyphens")
		return
	}
	if req.Plan == "" {
		req.Plan = "free"
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	org := &models.Organization{
		OrgID:    uuid.Must(uuid.NewV7()),
		Name:     req.Name,
		Slug:     req.Slug,
		Status:   models.OrgStatusActive,
		Plan:     req.Plan,
		Locale:   req.Locale,
		Currency: req.Currency,
	}
	membership := &models.Membership{
		MembershipID: uuid.Must(uuid.NewV7()),
		UserID:       ident.UserID,
		OrgID:        org.OrgID,
		Role:         models.RoleAdmin,
		Status:       models.MembershipStatusActive,
	}

	// Both writes land in one transaction: a failure after the organization
	// insert must not leave an organization no one can administer.
	err := s.stores.Tx(r.Context(), func(ctx context.Context) error {
		if err := s.stores.Organizations.Create(ctx, org); err != nil {
			return err
		}
		return s.stores.Memberships.Create(ctx, membership)
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	log.Info().
		Str("org_id", org.OrgID.String()).
		Str("slug", org.Slug).
		Str("user_id", ident.UserID.String()).
		Msg("organization created")

	writeJSON(w, http.StatusCreated, toOrgResponse(org))
}

type switchOrganizationRequest struct {
	Org string `json:"org"` // organization id or slug
}

type switchOrganizationResponse struct {
	Token string      `json:"token"`
	Org   orgResponse `json:"org"`
}

// switchOrganization changes the caller's session-selected organization.
// Membership in the target organization is verified with a fresh read before
// a new token is issued; a caller cannot switch into an organization they do
// not belong to.
func (s *Server) switchOrganization(w http.ResponseWriter, r *http.Request) {
	ident := auth.IdentityFromContext(r.Context())

	var req switchOrganizationRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Org == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}

	var (
		org *models.Organization
		err error
	)
	if orgID, parseErr := uuid.Parse(req.Org); parseErr == nil {
		org, err = s.stores.Organizations.Get(r.Context(), orgID)
	} else {
		org, err = s.stores.Organizations.GetBySlug(r.Context(), req.Org)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if !ident.SuperAdmin {
		if !org.IsActive() {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if _, err := auth.CheckMembership(r.Context(), s.stores.Memberships, ident.UserID, org.OrgID, models.RoleViewer); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	token, err := s.signer.Sign(&auth.Identity{
		UserID:     ident.UserID,
		Email:      ident.Email,
		OrgID:      org.OrgID,
		SuperAdmin: ident.SuperAdmin,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	telemetry.ContextSwitches.Inc()
	log.Info().
		Str("user_id", ident.UserID.String()).
		Str("org_id", org.OrgID.String()).
		Msg("organization switched")

	writeJSON(w, http.StatusOK, switchOrganizationResponse{
		Token: token,
		Org:   toOrgResponse(org),
	})
}
