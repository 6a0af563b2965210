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

// ClientStore implements store.ClientStore using in-memory storage. It
// mirrors the PostgreSQL implementation's contract: every operation resolves
// the active organization from the tenant context and fails with
// tenant.ErrNoTenantContext when none is bound.
type ClientStore struct {
	mu sync.RWMutex

	clients map[uuid.UUID]*models.Client
}

// NewClientStore creates a new in-memory client store.
func NewClientStore() *ClientStore {
	return &ClientStore{
		clients: make(map[uuid.UUID]*models.Client),
	}
}

// Create creates a new client in the active organization.
func (s *ClientStore) Create(ctx context.Context, client *models.Client) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.clients {
		if existing.OrgID == orgID && existing.Name == client.Name {
			return store.ErrClientAlreadyExists
		}
	}

	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now

	clone := *client
	clone.OrgID = orgID
	s.clients[client.ClientID] = &clone
	client.OrgID = orgID

	return nil
}

// Get retrieves a client by ID within the active organization.
func (s *ClientStore) Get(ctx context.Context, clientID uuid.UUID) (*models.Client, error) {
	orgID, all, err := scopeOrg(ctx, "clients")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[clientID]
	if !exists || (!all && client.OrgID != orgID) {
		return nil, store.ErrClientNotFound
	}

	clone := *client
	return &clone, nil
}

// List returns all clients of the active organization.
func (s *ClientStore) List(ctx context.Context) ([]*models.Client, error) {
	orgID, all, err := scopeOrg(ctx, "clients")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Client
	for _, client := range s.clients {
		if all || client.OrgID == orgID {
			clone := *client
			result = append(result, &clone)
		}
	}

	return result, nil
}

// Update updates a client's mutable fields within the active organization.
func (s *ClientStore) Update(ctx context.Context, client *models.Client) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.clients[client.ClientID]
	if !exists || existing.OrgID != orgID {
		return store.ErrClientNotFound
	}

	client.UpdatedAt = time.Now()

	clone := *client
	clone.OrgID = orgID
	s.clients[client.ClientID] = &clone

	return nil
}

// Delete removes a client within the active organization.
func (s *ClientStore) Delete(ctx context.Context, clientID uuid.UUID) error {
	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.clients[clientID]
	if !exists || existing.OrgID != orgID {
		return store.ErrClientNotFound
	}

	delete(s.clients, clientID)

	return nil
}

// inOrg reports whether a client exists in the given organization. Used by
// the project store's same-org reference check.
func (s *ClientStore) inOrg(clientID, orgID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[clientID]
	return exists && client.OrgID == orgID
}
