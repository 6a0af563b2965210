package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tallyhq/tally/internal/tenant"
)

// scopeOrg resolves the organization filter for a read. Super-admin context
// bypasses the filter, logged the same way the scoped query builder logs
// bypasses against PostgreSQL; writes keep requiring an organization binding,
// matching the scoped insert, update and delete builders.
func scopeOrg(ctx context.Context, table string) (uuid.UUID, bool, error) {
	if tenant.IsSuperAdmin(ctx) {
		log.Warn().Str("table", table).Msg("unscoped query issued under super-admin context")
		return uuid.Nil, true, nil
	}

	orgID, err := tenant.OrgID(ctx)
	if err != nil {
		return uuid.Nil, false, err
	}

	return orgID, false, nil
}
