package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tallyhq/tally/internal/store"
)

// NewStores returns the full PostgreSQL store set over one shared pool.
func NewStores(pool *pgxpool.Pool) *store.Stores {
	return &store.Stores{
		Organizations: NewOrganizationStore(pool),
		Memberships:   NewMembershipStore(pool),
		Users:         NewUserStore(pool),
		Clients:       NewClientStore(pool),
		Projects:      NewProjectStore(pool),
		TimeEntries:   NewTimeEntryStore(pool),
		Tx:            runInTx(pool),
	}
}
