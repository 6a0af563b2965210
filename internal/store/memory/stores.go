// Package memory provides in-memory store implementations for testing.
// The tenant-scoped stores enforce the same context contract as the
// PostgreSQL implementations: no bound tenant context means no rows.
package memory

import (
	"context"

	"github.com/tallyhq/tally/internal/store"
)

// NewStores returns a fully wired in-memory store set. The individual stores
// share state where cross-store checks require it (memberships for listing a
// user's organizations, clients for validating project references).
func NewStores() *store.Stores {
	users := NewUserStore()
	memberships := NewMembershipStore()
	organizations := NewOrganizationStore(memberships)
	clients := NewClientStore()
	projects := NewProjectStore(clients)
	timeEntries := NewTimeEntryStore(projects)

	return &store.Stores{
		Organizations: organizations,
		Memberships:   memberships,
		Users:         users,
		Clients:       clients,
		Projects:      projects,
		TimeEntries:   timeEntries,
		// The maps have no transactions; fn runs against live state.
		Tx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
}
