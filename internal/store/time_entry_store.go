package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
)

// Sentinel errors for time entry store operations
var (
	ErrTimeEntryNotFound = errors.New("time entry not found")
)

// TimeEntryStore defines the interface for time entry storage operations.
// Time entries are tenant-scoped and reference a same-organization project.
type TimeEntryStore interface {
	// Create creates a new time entry in the active organization.
	// Returns tenant.ErrCrossOrgReference if the referenced project belongs
	// to a different organization.
	Create(ctx context.Context, entry *models.TimeEntry) error

	// Get retrieves a time entry by ID within the active organization.
	Get(ctx context.Context, entryID uuid.UUID) (*models.TimeEntry, error)

	// ListByProject returns the active organization's entries for a project.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.TimeEntry, error)

	// ListByUser returns the active organization's entries logged by a user.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.TimeEntry, error)

	// Delete removes a time entry within the active organization.
	Delete(ctx context.Context, entryID uuid.UUID) error
}
