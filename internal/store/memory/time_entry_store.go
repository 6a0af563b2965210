package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
)

// TimeEntryStore implements store.TimeEntryStore using in-memory storage.
type TimeEntryStore struct {
	mu sync.RWMutex

	entries map[uuid.UUID]*models.TimeEntry

	projects *ProjectStore // for same-org reference checks
}

// NewTimeEntryStore creates a new in-memory time entry store.
func NewTimeEntryStore(projects *ProjectStore) *TimeEntryStore {
	return &TimeEntryStore{
		entries:  make(map[uuid.UUID]*models.TimeEntry),
		projects: projects,
	}
}

// Create creates a new time entry in the active organization.
func (s *TimeEntryStore) Create(ctx context.Context, entry *models.TimeEntry) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	if !s.projects.inOrg(entry.ProjectID, orgID) {
		return tenant.ErrCrossOrgReference
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	clone := *entry
	clone.OrgID = orgID
	s.entries[entry.EntryID] = &clone
	entry.OrgID = orgID

	return nil
}

// Get retrieves a time entry by ID within the active organization.
func (s *TimeEntryStore) Get(ctx context.Context, entryID uuid.UUID) (*models.TimeEntry, error) {
	orgID, all, err := scopeOrg(ctx, "time_entries")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[entryID]
	if !exists || (!all && entry.OrgID != orgID) {
		return nil, store.ErrTimeEntryNotFound
	}

	clone := *entry
	return &clone, nil
}

// ListByProject returns the active organization's entries for a project.
func (s *TimeEntryStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.TimeEntry, error) {
	return s.list(ctx, func(e *models.TimeEntry) bool {
		return e.ProjectID == projectID
	})
}

// ListByUser returns the active organization's entries logged by a user.
func (s *TimeEntryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.TimeEntry, error) {
	return s.list(ctx, func(e *models.TimeEntry) bool {
		return e.UserID == userID
	})
}

func (s *TimeEntryStore) list(ctx context.Context, match func(*models.TimeEntry) bool) ([]*models.TimeEntry, error) {
	orgID, all, err := scopeOrg(ctx, "time_entries")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.TimeEntry
	for _, entry := range s.entries {
		if (all || entry.OrgID == orgID) && match(entry) {
			clone := *entry
			result = append(result, &clone)
		}
	}

	return result, nil
}

// Delete removes a time entry within the active organization.
func (s *TimeEntryStore) Delete(ctx context.Context, entryID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.entries[entryID]
	if !exists || existing.OrgID != orgID {
		return store.ErrTimeEntryNotFound
	}

	delete(s.entries, entryID)

	return nil
}
