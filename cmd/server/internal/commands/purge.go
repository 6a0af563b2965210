package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tallyhq/tally/internal/logger"
	postgresstore "github.com/tallyhq/tally/internal/store/postgres"
	"github.com/tallyhq/tally/internal/tenant"
)

// PurgeCmd hard-deletes organizations whose pending-deletion grace period has
// expired. It runs under a super-admin tenant context because purging crosses
// organization boundaries.
type PurgeCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (c *PurgeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	pool, err := postgresstore.NewPool(ctx, c.Postgres.config())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	ctx, err = tenant.Bind(ctx, nil, true)
	if err != nil {
		return err
	}
	defer tenant.Clear(ctx)

	orgs := postgresstore.NewOrganizationStore(pool)
	bridge := tenant.NewBridge(pool)

	var purged int
	err = bridge.Run(ctx, func(ctx context.Context, _ pgx.Tx) error {
		n, err := orgs.PurgeExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		purged = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	log.Info().Int("purged", purged).Msg("expired organizations purged")
	return nil
}
