package server

import (
	"crypto/rand"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
)

type memberResponse struct {
	MembershipID string    `json:"membership_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func toMemberResponse(m *models.Membership, email string) memberResponse {
	return memberResponse{
		MembershipID: m.MembershipID.String(),
		UserID:       m.UserID.String(),
		Email:        email,
		Role:         m.Role,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
	}
}

func (s *Server) routeMembers(mux *http.ServeMux) {
	mux.Handle("GET /api/org/members", s.guarded(models.RoleMember, s.listMembers))
	mux.Handle("POST /api/org/members/invite", s.guard.RequireAdmin()(http.HandlerFunc(s.inviteMember)))
	mux.Handle("PATCH /api/org/members/{id}", s.guard.RequireAdmin()(http.HandlerFunc(s.updateMember)))
	mux.Handle("DELETE /api/org/members/{id}", s.guard.RequireAdmin()(http.HandlerFunc(s.revokeMember)))
	mux.HandleFunc("POST /api/invitations/accept", s.acceptInvitation)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	orgID, err := tenant.OrgID(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	members, err := s.stores.Memberships.ListByOrg(r.Context(), orgID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := make([]memberResponse, 0, len(members))
	for _, m := range members {
		email := ""
		if user, err := s.stores.Users.Get(r.Context(), m.UserID); err == nil {
			email = user.Email
		}
		resp = append(resp, toMemberResponse(m, email))
	}
	writeJSON(w, http.StatusOK, resp)
}

type inviteMemberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type inviteMemberResponse struct {
	memberResponse
	InvitationToken string `json:"invitation_token"`
}

// inviteMember creates an invited membership for the given email, creating
// the user record if it does not exist yet. The returned invitation token is
// single-use and redeemed by the invitee through acceptInvitation.
func (s *Server) inviteMember(w http.ResponseWriter, r *http.Request) {
	ident := auth.IdentityFromContext(r.Context())

	var req inviteMemberRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if !models.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	org, err := tenant.Current(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	members, err := s.stores.Memberships.ListByOrg(r.Context(), org.OrgID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !checkMemberLimit(org, countLive(members)) {
		writeError(w, http.StatusUnprocessableEntity, "organization member limit reached")
		return
	}

	user, err := s.stores.Users.GetByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrUserNotFound) {
		user = &models.User{
			UserID: uuid.Must(uuid.NewV7()),
			Email:  req.Email,
			Name:   req.Name,
		}
		err = s.stores.Users.Create(r.Context(), user)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	token, err := newInvitationToken()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	membership := &models.Membership{
		MembershipID:    uuid.Must(uuid.NewV7()),
		UserID:          user.UserID,
		OrgID:           org.OrgID,
		Role:            req.Role,
		Status:          models.MembershipStatusInvited,
		InvitationToken: &token,
		InvitedBy:       &ident.UserID,
	}
	if err := s.stores.Memberships.Create(r.Context(), membership); err != nil {
		writeStoreError(w, err)
		return
	}

	log.Info().
		Str("org_id", org.OrgID.String()).
		Str("user_id", user.UserID.String()).
		Str("role", req.Role).
		Msg("member invited")

	writeJSON(w, http.StatusCreated, inviteMemberResponse{
		memberResponse:  toMemberResponse(membership, user.Email),
		InvitationToken: token,
	})
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// acceptInvitation redeems an invitation token, activating the membership.
// Only the invited user can redeem it. The token is cleared on acceptance
// and cannot be reused.
func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	ident := auth.IdentityFromContext(r.Context())

	var req acceptInvitationRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	membership, err := s.stores.Memberships.GetByInvitationToken(r.Context(), req.Token)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if membership.UserID != ident.UserID || membership.Status != models.MembershipStatusInvited {
		writeStoreError(w, store.ErrInvitationNotFound)
		return
	}

	membership.Status = models.MembershipStatusActive
	membership.InvitationToken = nil
	if err := s.stores.Memberships.Update(r.Context(), membership); err != nil {
		writeStoreError(w, err)
		return
	}

	log.Info().
		Str("org_id", membership.OrgID.String()).
		Str("user_id", membership.UserID.String()).
		Msg("invitation accepted")

	writeJSON(w, http.StatusOK, toMemberResponse(membership, ident.Email))
}

type updateMemberRequest struct {
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

func (s *Server) updateMember(w http.ResponseWriter, r *http.Request) {
	membership, ok := s.orgMembership(w, r)
	if !ok {
		return
	}

	var req updateMemberRequest
	if !readJSON(w, r, &req) {
		return
	}

	if req.Role != nil {
		if !models.ValidRole(*req.Role) {
			writeError(w, http.StatusBadRequest, "unknown role")
			return
		}
		if membership.Role == models.RoleAdmin && *req.Role != models.RoleAdmin {
			if ok, err := s.hasOtherAdmin(r, membership); err != nil {
				writeStoreError(w, err)
				return
			} else if !ok {
				writeError(w, http.StatusUnprocessableEntity, "organization must retain at least one active admin")
				return
			}
		}
		membership.Role = *req.Role
	}

	if req.Status != nil {
		switch *req.Status {
		case models.MembershipStatusActive, models.MembershipStatusSuspended:
			membership.Status = *req.Status
		default:
			writeError(w, http.StatusBadRequest, "status must be active or suspended")
			return
		}
	}

	if err := s.stores.Memberships.Update(r.Context(), membership); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMemberResponse(membership, ""))
}

// revokeMember marks a membership revoked. Revocation is terminal; the row
// is retained for audit. Access stops on the member's next request.
func (s *Server) revokeMember(w http.ResponseWriter, r *http.Request) {
	membership, ok := s.orgMembership(w, r)
	if !ok {
		return
	}

	if membership.Role == models.RoleAdmin {
		if ok, err := s.hasOtherAdmin(r, membership); err != nil {
			writeStoreError(w, err)
			return
		} else if !ok {
			writeError(w, http.StatusUnprocessableEntity, "organization must retain at least one active admin")
			return
		}
	}

	membership.Status = models.MembershipStatusRevoked
	membership.InvitationToken = nil
	if err := s.stores.Memberships.Update(r.Context(), membership); err != nil {
		writeStoreError(w, err)
		return
	}

	log.Info().
		Str("org_id", membership.OrgID.String()).
		Str("membership_id", membership.MembershipID.String()).
		Msg("membership revoked")

	w.WriteHeader(http.StatusNoContent)
}

// orgMembership loads the membership named in the path and confirms it
// belongs to the active organization. Memberships of other organizations
// read as not found.
func (s *Server) orgMembership(w http.ResponseWriter, r *http.Request) (*models.Membership, bool) {
	membershipID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}

	orgID, err := tenant.OrgID(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}

	membership, err := s.stores.Memberships.Get(r.Context(), membershipID)
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	if membership.OrgID != orgID {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}

	return membership, true
}

// hasOtherAdmin reports whether the organization has an active admin other
// than the given membership.
func (s *Server) hasOtherAdmin(r *http.Request, m *models.Membership) (bool, error) {
	members, err := s.stores.Memberships.ListByOrg(r.Context(), m.OrgID)
	if err != nil {
		return false, err
	}
	for _, other := range members {
		if other.MembershipID != m.MembershipID && other.Role == models.RoleAdmin && other.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// countLive counts memberships that hold or may come to hold access.
func countLive(members []*models.Membership) int {
	n := 0
	for _, m := range members {
		if m.Status != models.MembershipStatusRevoked {
			n++
		}
	}
	return n
}

func newInvitationToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base58.Encode(buf), nil
}
