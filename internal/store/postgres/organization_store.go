package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
)

// OrganizationStore implements store.OrganizationStore using PostgreSQL.
type OrganizationStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationStore creates a new PostgreSQL-backed organization store.
// It shares the connection pool with other stores.
func NewOrganizationStore(pool *pgxpool.Pool) *OrganizationStore {
	return &OrganizationStore{
		pool: pool,
	}
}

const orgColumns = `org_id, name, slug, status, plan, max_users, max_projects, locale, currency, delete_after, created_at, updated_at`

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var org models.Organization
	err := row.Scan(
		&org.OrgID,
		&org.Name,
		&org.Slug,
		&org.Status,
		&org.Plan,
		&org.MaxUsers,
		&org.MaxProjects,
		&org.Locale,
		&org.Currency,
		&org.DeleteAfter,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// Create creates a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now

	query := `
		INSERT INTO organizations (
			org_id, name, slug, status, plan, max_users, max_projects,
			locale, currency, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := db(ctx, s.pool).Exec(ctx, query,
		org.OrgID,
		org.Name,
		org.Slug,
		org.Status,
		org.Plan,
		org.MaxUsers,
		org.MaxProjects,
		org.Locale,
		org.Currency,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err, "") {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("slug", org.Slug).
		Msg("Created organization")

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE org_id = $1`

	org, err := scanOrganization(db(ctx, s.pool).QueryRow(ctx, query, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	return org, nil
}

// GetBySlug retrieves an organization by its unique slug.
func (s *OrganizationStore) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE slug = $1`

	org, err := scanOrganization(db(ctx, s.pool).QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	return org, nil
}

// Update updates an existing organization.
func (s *OrganizationStore) Update(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now()

	query := `
		UPDATE organizations SET
			name = $2,
			status = $3,
			plan = $4,
			max_users = $5,
			max_projects = $6,
			locale = $7,
			currency = $8,
			delete_after = $9,
			updated_at = $10
		WHERE org_id = $1
	`

	result, err := db(ctx, s.pool).Exec(ctx, query,
		org.OrgID,
		org.Name,
		org.Status,
		org.Plan,
		org.MaxUsers,
		org.MaxProjects,
		org.Locale,
		org.Currency,
		org.DeleteAfter,
		org.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update organization: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrOrganizationNotFound
	}

	return nil
}

// ListForUser returns all organizations in which the user holds an active
// membership.
func (s *OrganizationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM organizations
		JOIN memberships USING (org_id)
		WHERE memberships.user_id = $1
		  AND memberships.status = 'active'
		ORDER BY organizations.created_at
	`

	rows, err := db(ctx, s.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}

	return orgs, nil
}

// MarkPendingDeletion soft-deletes an organization.
func (s *OrganizationStore) MarkPendingDeletion(ctx context.Context, orgID uuid.UUID, deleteAfter time.Time) error {
	query := `
		UPDATE organizations SET
			status = $2,
			delete_after = $3,
			updated_at = now()
		WHERE org_id = $1
	`

	result, err := db(ctx, s.pool).Exec(ctx, query, orgID, models.OrgStatusPendingDeletion, deleteAfter)
	if err != nil {
		return fmt.Errorf("failed to mark organization for deletion: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrOrganizationNotFound
	}

	log.Info().
		Str("org_id", orgID.String()).
		Time("delete_after", deleteAfter).
		Msg("Organization marked for deletion")

	return nil
}

// PurgeExpired hard-deletes organizations whose grace period has passed.
// Dependent tenant-scoped rows cascade. Requires super-admin context since
// the cascading deletes cross the row isolation boundary.
func (s *OrganizationStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if !tenant.IsSuperAdmin(ctx) {
		return 0, tenant.ErrSuperAdminRequired
	}

	query := `
		DELETE FROM organizations
		WHERE status = $1 AND delete_after IS NOT NULL AND delete_after < $2
	`

	result, err := db(ctx, s.pool).Exec(ctx, query, models.OrgStatusPendingDeletion, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge organizations: %w", mapPostgresError(err))
	}

	purged := int(result.RowsAffected())
	if purged > 0 {
		log.Info().Int("count", purged).Msg("Purged organizations past deletion grace period")
	}

	return purged, nil
}
