package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
)

// ClientStore implements store.ClientStore using PostgreSQL. All queries go
// through the scoped query builder, so every statement carries the active
// organization's predicate; the row isolation policies back this up at the
// database layer.
type ClientStore struct {
	pool *pgxpool.Pool
}

// NewClientStore creates a new PostgreSQL-backed client store.
func NewClientStore(pool *pgxpool.Pool) *ClientStore {
	return &ClientStore{
		pool: pool,
	}
}

var clientColumns = []string{"client_id", "org_id", "name", "currency", "created_at", "updated_at"}

func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	err := row.Scan(
		&c.ClientID,
		&c.OrgID,
		&c.Name,
		&c.Currency,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create creates a new client in the active organization. The org reference
// comes from the tenant context, never from the value passed in.
func (s *ClientStore) Create(ctx context.Context, client *models.Client) error {
	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now

	builder, err := tenant.ScopedInsert(ctx, "clients", map[string]any{
		"client_id":  client.ClientID,
		"name":       client.Name,
		"currency":   client.Currency,
		"created_at": client.CreatedAt,
		"updated_at": client.UpdatedAt,
	})
	if err != nil {
		return err
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := db(ctx, s.pool).Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err, "clients_org_id_name_key") {
			return store.ErrClientAlreadyExists
		}
		return fmt.Errorf("failed to create client: %w", mapPostgresError(err))
	}

	client.OrgID, _ = tenant.OrgID(ctx)

	log.Debug().
		Str("client_id", client.ClientID.String()).
		Str("org_id", client.OrgID.String()).
		Msg("Created client")

	return nil
}

// Get retrieves a client by ID within the active organization.
func (s *ClientStore) Get(ctx context.Context, clientID uuid.UUID) (*models.Client, error) {
	builder, err := tenant.Scoped(ctx, "clients", clientColumns...)
	if err != nil {
		return nil, err
	}

	query, args, err := builder.Where(sq.Eq{"client_id": clientID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	c, err := scanClient(db(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", mapPostgresError(err))
	}

	return c, nil
}

// List returns all clients of the active organization.
func (s *ClientStore) List(ctx context.Context) ([]*models.Client, error) {
	builder, err := tenant.Scoped(ctx, "clients", clientColumns...)
	if err != nil {
		return nil, err
	}

	query, args, err := builder.OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := db(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}

	return clients, nil
}

// Update updates a client's mutable fields within the active organization.
func (s *ClientStore) Update(ctx context.Context, client *models.Client) error {
	client.UpdatedAt = time.Now()

	builder, err := tenant.ScopedUpdate(ctx, "clients")
	if err != nil {
		return err
	}

	query, args, err := builder.
		Set("name", client.Name).
		Set("currency", client.Currency).
		Set("updated_at", client.UpdatedAt).
		Where(sq.Eq{"client_id": client.ClientID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := db(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err, "clients_org_id_name_key") {
			return store.ErrClientAlreadyExists
		}
		return fmt.Errorf("failed to update client: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrClientNotFound
	}

	return nil
}

// Delete removes a client within the active organization.
func (s *ClientStore) Delete(ctx context.Context, clientID uuid.UUID) error {
	builder, err := tenant.ScopedDelete(ctx, "clients")
	if err != nil {
		return err
	}

	query, args, err := builder.Where(sq.Eq{"client_id": clientID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	result, err := db(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrClientNotFound
	}

	return nil
}
