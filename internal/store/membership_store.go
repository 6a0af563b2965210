package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
)

// Sentinel errors for membership store operations
var (
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrMembershipConflict indicates an attempt to create a second
	// non-revoked membership for the same (user, organization) pair.
	ErrMembershipConflict = errors.New("membership already exists for user and organization")

	ErrInvitationNotFound = errors.New("invitation not found")
)

// MembershipStore defines the interface for membership storage operations.
// Memberships are read by the access guard before tenant context is bound,
// so this store operates outside the row-isolation boundary. Membership
// status must be re-read per request, never cached across requests, so a
// suspension takes effect on the very next request.
type MembershipStore interface {
	// Create creates a new membership.
	// Returns ErrMembershipConflict if a non-revoked membership already
	// exists for the (user, organization) pair.
	Create(ctx context.Context, m *models.Membership) error

	// Get retrieves a membership by ID.
	Get(ctx context.Context, membershipID uuid.UUID) (*models.Membership, error)

	// GetForUser retrieves the non-revoked membership linking a user to an
	// organization. Returns ErrMembershipNotFound if none exists.
	GetForUser(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error)

	// GetByInvitationToken retrieves an invited membership by its token.
	// Returns ErrInvitationNotFound if no invited membership carries the token.
	GetByInvitationToken(ctx context.Context, token string) (*models.Membership, error)

	// ListByOrg returns all non-revoked memberships of an organization.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error)

	// Update updates a membership's role or status. Memberships are never
	// hard-deleted; revocation is an update to the terminal revoked status.
	Update(ctx context.Context, m *models.Membership) error
}
