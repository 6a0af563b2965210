package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
)

// MembershipStore implements store.MembershipStore using in-memory storage.
type MembershipStore struct {
	mu sync.RWMutex

	memberships map[uuid.UUID]*models.Membership
}

// NewMembershipStore creates a new in-memory membership store.
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{
		memberships: make(map[uuid.UUID]*models.Membership),
	}
}

// Create creates a new membership, enforcing at most one non-revoked
// membership per (user, organization) pair.
func (s *MembershipStore) Create(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.memberships {
		if existing.UserID == m.UserID && existing.OrgID == m.OrgID &&
			existing.Status != models.MembershipStatusRevoked {
			return store.ErrMembershipConflict
		}
	}

	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	clone := *m
	s.memberships[m.MembershipID] = &clone

	return nil
}

// Get retrieves a membership by ID.
func (s *MembershipStore) Get(ctx context.Context, membershipID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.memberships[membershipID]
	if !exists {
		return nil, store.ErrMembershipNotFound
	}

	clone := *m
	return &clone, nil
}

// GetForUser retrieves the non-revoked membership for a (user, org) pair.
func (s *MembershipStore) GetForUser(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.memberships {
		if m.UserID == userID && m.OrgID == orgID && m.Status != models.MembershipStatusRevoked {
			clone := *m
			return &clone, nil
		}
	}

	return nil, store.ErrMembershipNotFound
}

// GetByInvitationToken retrieves an invited membership by its token.
func (s *MembershipStore) GetByInvitationToken(ctx context.Context, token string) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.memberships {
		if m.Status == models.MembershipStatusInvited &&
			m.InvitationToken != nil && *m.InvitationToken == token {
			clone := *m
			return &clone, nil
		}
	}

	return nil, store.ErrInvitationNotFound
}

// ListByOrg returns all non-revoked memberships of an organization.
func (s *MembershipStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Membership
	for _, m := range s.memberships {
		if m.OrgID == orgID && m.Status != models.MembershipStatusRevoked {
			clone := *m
			result = append(result, &clone)
		}
	}

	return result, nil
}

// Update updates a membership's role or status.
func (s *MembershipStore) Update(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.memberships[m.MembershipID]; !exists {
		return store.ErrMembershipNotFound
	}

	m.UpdatedAt = time.Now()

	clone := *m
	s.memberships[m.MembershipID] = &clone

	return nil
}

// activeOrgsForUser returns org ids where the user holds an active
// membership. Used by the organization store's ListForUser.
func (s *MembershipStore) activeOrgsForUser(userID uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orgIDs []uuid.UUID
	for _, m := range s.memberships {
		if m.UserID == userID && m.Status == models.MembershipStatusActive {
			orgIDs = append(orgIDs, m.OrgID)
		}
	}

	return orgIDs
}
