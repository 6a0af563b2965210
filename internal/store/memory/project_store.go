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

// ProjectStore implements store.ProjectStore using in-memory storage.
type ProjectStore struct {
	mu sync.RWMutex

	projects map[uuid.UUID]*models.Project

	clients *ClientStore // for same-org reference checks
}

// NewProjectStore creates a new in-memory project store.
func NewProjectStore(clients *ClientStore) *ProjectStore {
	return &ProjectStore{
		projects: make(map[uuid.UUID]*models.Project),
		clients:  clients,
	}
}

// Create creates a new project in the active organization. A client
// reference must resolve within the same organization.
func (s *ProjectStore) Create(ctx context.Context, project *models.Project) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	if project.ClientID != nil && !s.clients.inOrg(*project.ClientID, orgID) {
		return tenant.ErrCrossOrgReference
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.projects {
		if existing.OrgID == orgID && existing.Name == project.Name {
			return store.ErrProjectAlreadyExists
		}
	}

	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	clone := *project
	clone.OrgID = orgID
	s.projects[project.ProjectID] = &clone
	project.OrgID = orgID

	return nil
}

// Get retrieves a project by ID within the active organization.
func (s *ProjectStore) Get(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	orgID, all, err := scopeOrg(ctx, "projects")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	project, exists := s.projects[projectID]
	if !exists || (!all && project.OrgID != orgID) {
		return nil, store.ErrProjectNotFound
	}

	clone := *project
	return &clone, nil
}

// List returns all projects of the active organization.
func (s *ProjectStore) List(ctx context.Context) ([]*models.Project, error) {
	orgID, all, err := scopeOrg(ctx, "projects")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Project
	for _, project := range s.projects {
		if all || project.OrgID == orgID {
			clone := *project
			result = append(result, &clone)
		}
	}

	return result, nil
}

// ListByClient returns the active organization's projects for a client.
func (s *ProjectStore) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Project, error) {
	orgID, all, err := scopeOrg(ctx, "projects")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Project
	for _, project := range s.projects {
		if (all || project.OrgID == orgID) && project.ClientID != nil && *project.ClientID == clientID {
			clone := *project
			result = append(result, &clone)
		}
	}

	return result, nil
}

// Update updates a project's mutable fields within the active organization.
func (s *ProjectStore) Update(ctx context.Context, project *models.Project) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	if project.ClientID != nil && !s.clients.inOrg(*project.ClientID, orgID) {
		return tenant.ErrCrossOrgReference
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.projects[project.ProjectID]
	if !exists || existing.OrgID != orgID {
		return store.ErrProjectNotFound
	}

	project.UpdatedAt = time.Now()

	clone := *project
	clone.OrgID = orgID
	s.projects[project.ProjectID] = &clone

	return nil
}

// inOrg reports whether a project exists in the given organization. Used by
// the time entry store's same-org reference check.
func (s *ProjectStore) inOrg(projectID, orgID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, exists := s.projects[projectID]
	return exists && project.OrgID == orgID
}
