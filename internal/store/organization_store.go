package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
)

// Sentinel errors for organization store operations
var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
)

// OrganizationStore defines the interface for organization storage operations.
// Organizations are tenants; this store is the only writer of organization
// records. Organization rows are not themselves row-isolated: the access
// guard must be able to resolve an organization before any tenant context is
// bound.
type OrganizationStore interface {
	// Create creates a new organization.
	// Returns ErrOrganizationAlreadyExists if the slug is already taken.
	Create(ctx context.Context, org *models.Organization) error

	// Get retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// GetBySlug retrieves an organization by its unique slug.
	GetBySlug(ctx context.Context, slug string) (*models.Organization, error)

	// Update updates an existing organization.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Update(ctx context.Context, org *models.Organization) error

	// ListForUser returns all organizations in which the user holds an
	// active membership.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error)

	// MarkPendingDeletion soft-deletes an organization: status moves to
	// pending_deletion and deleteAfter records when the grace period ends.
	MarkPendingDeletion(ctx context.Context, orgID uuid.UUID, deleteAfter time.Time) error

	// PurgeExpired hard-deletes organizations whose deletion grace period
	// has passed, cascading to all dependent tenant-scoped rows. Requires
	// super-admin context; returns the number of organizations purged.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
