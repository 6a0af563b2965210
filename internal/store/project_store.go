package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
)

// Sentinel errors for project store operations
var (
	ErrProjectNotFound      = errors.New("project not found")
	ErrProjectAlreadyExists = errors.New("project name already in use in organization")
)

// ProjectStore defines the interface for project storage operations.
// Projects are tenant-scoped; a project's client reference must belong to
// the same organization, checked before insert and backed by a composite
// foreign key in the schema.
type ProjectStore interface {
	// Create creates a new project in the active organization.
	// Returns tenant.ErrCrossOrgReference if the referenced client belongs
	// to a different organization, ErrProjectAlreadyExists on a
	// per-organization name conflict.
	Create(ctx context.Context, project *models.Project) error

	// Get retrieves a project by ID within the active organization.
	Get(ctx context.Context, projectID uuid.UUID) (*models.Project, error)

	// List returns all projects of the active organization.
	List(ctx context.Context) ([]*models.Project, error)

	// ListByClient returns the active organization's projects for a client.
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Project, error)

	// Update updates a project's mutable fields within the active organization.
	Update(ctx context.Context, project *models.Project) error
}
