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

// OrganizationStore implements store.OrganizationStore using in-memory
// storage. This implementation is for testing only.
type OrganizationStore struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization
	slugs         map[string]uuid.UUID

	memberships *MembershipStore // for ListForUser
}

// NewOrganizationStore creates a new in-memory organization store.
func NewOrganizationStore(memberships *MembershipStore) *OrganizationStore {
	return &OrganizationStore{
		organizations: make(map[uuid.UUID]*models.Organization),
		slugs:         make(map[string]uuid.UUID),
		memberships:   memberships,
	}
}

// Create creates a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.organizations[org.OrgID]; exists {
		return store.ErrOrganizationAlreadyExists
	}
	if _, exists := s.slugs[org.Slug]; exists {
		return store.ErrOrganizationAlreadyExists
	}

	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now

	clone := *org
	s.organizations[org.OrgID] = &clone
	s.slugs[org.Slug] = org.OrgID

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *org
	return &clone, nil
}

// GetBySlug retrieves an organization by its unique slug.
func (s *OrganizationStore) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgID, exists := s.slugs[slug]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *s.organizations[orgID]
	return &clone, nil
}

// Update updates an existing organization.
func (s *OrganizationStore) Update(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.organizations[org.OrgID]; !exists {
		return store.ErrOrganizationNotFound
	}

	org.UpdatedAt = time.Now()

	clone := *org
	s.organizations[org.OrgID] = &clone

	return nil
}

// ListForUser returns organizations where the user holds an active membership.
func (s *OrganizationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	orgIDs := s.memberships.activeOrgsForUser(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Organization
	for _, orgID := range orgIDs {
		if org, exists := s.organizations[orgID]; exists {
			clone := *org
			result = append(result, &clone)
		}
	}

	return result, nil
}

// MarkPendingDeletion soft-deletes an organization.
func (s *OrganizationStore) MarkPendingDeletion(ctx context.Context, orgID uuid.UUID, deleteAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return store.ErrOrganizationNotFound
	}

	org.Status = models.OrgStatusPendingDeletion
	after := deleteAfter
	org.DeleteAfter = &after
	org.UpdatedAt = time.Now()

	return nil
}

// PurgeExpired hard-deletes organizations past their deletion grace period.
func (s *OrganizationStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if !tenant.IsSuperAdmin(ctx) {
		return 0, tenant.ErrSuperAdminRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for orgID, org := range s.organizations {
		if org.PurgeDue(now) {
			delete(s.organizations, orgID)
			delete(s.slugs, org.Slug)
			purged++
		}
	}

	return purged, nil
}
