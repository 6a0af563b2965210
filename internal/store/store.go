package store

import (
	"context"
	"errors"
)

// Sentinel errors shared across stores.
var (
	// ErrRowIsolationViolation indicates the database-layer row isolation
	// policy rejected an operation the application layer should already have
	// blocked. It is never expected in normal operation; every occurrence is
	// a severity-high anomaly indicating a missed scoped query somewhere.
	ErrRowIsolationViolation = errors.New("row isolation policy violation")
)

// TxRunner executes fn atomically where the backend supports transactions.
// Store calls inside fn must use the context fn receives so they join the
// transaction; on error every write made inside fn is rolled back.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Stores aggregates all store interfaces wired into the server.
type Stores struct {
	Organizations OrganizationStore
	Memberships   MembershipStore
	Users         UserStore
	Clients       ClientStore
	Projects      ProjectStore
	TimeEntries   TimeEntryStore

	// Tx groups multi-store writes that must land together, such as
	// provisioning an organization with its first admin membership.
	Tx TxRunner
}
