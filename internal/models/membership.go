package models

import (
	"time"

	"github.com/google/uuid"
)

// Membership roles, ordered from most to least privileged.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// Membership statuses. Revoked is terminal; revoked rows are retained for
// audit and never hard-deleted.
const (
	MembershipStatusInvited   = "invited"
	MembershipStatusActive    = "active"
	MembershipStatusSuspended = "suspended"
	MembershipStatusRevoked   = "revoked"
)

// roleRank orders roles for minimum-role checks.
var roleRank = map[string]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
}

// Membership links one user to one organization with a role.
// At most one non-revoked membership exists per (user, organization) pair.
type Membership struct {
	MembershipID uuid.UUID // UUIDv7
	UserID       uuid.UUID
	OrgID        uuid.UUID

	Role   string // "admin", "member", "viewer"
	Status string // "invited", "active", "suspended", "revoked"

	// Set while status is "invited", cleared on acceptance.
	InvitationToken *string
	InvitedBy       *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive returns true if the membership grants access right now.
func (m *Membership) IsActive() bool {
	return m.Status == MembershipStatusActive
}

// HasRole returns true if the membership's role is at least the given role.
func (m *Membership) HasRole(minimum string) bool {
	return roleRank[m.Role] >= roleRank[minimum]
}

// ValidRole reports whether role is one of the known membership roles.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}
