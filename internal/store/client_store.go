package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
)

// Sentinel errors for client store operations
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientAlreadyExists = errors.New("client name already in use in organization")
)

// ClientStore defines the interface for client storage operations. Clients
// are tenant-scoped: every operation requires a bound tenant context and is
// restricted to the active organization's rows. Operations with no context
// return tenant.ErrNoTenantContext rather than unscoped results.
type ClientStore interface {
	// Create creates a new client in the active organization. The org
	// reference is stamped from the tenant context, never from input.
	// Returns ErrClientAlreadyExists on a per-organization name conflict.
	Create(ctx context.Context, client *models.Client) error

	// Get retrieves a client by ID within the active organization.
	Get(ctx context.Context, clientID uuid.UUID) (*models.Client, error)

	// List returns all clients of the active organization.
	List(ctx context.Context) ([]*models.Client, error)

	// Update updates a client's mutable fields within the active organization.
	Update(ctx context.Context, client *models.Client) error

	// Delete removes a client within the active organization.
	Delete(ctx context.Context, clientID uuid.UUID) error
}
