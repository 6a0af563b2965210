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
)

// MembershipStore implements store.MembershipStore using PostgreSQL.
// Membership reads happen before tenant context is bound, so these queries
// run outside the row isolation boundary.
type MembershipStore struct {
	pool *pgxpool.Pool
}

// NewMembershipStore creates a new PostgreSQL-backed membership store.
func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{
		pool: pool,
	}
}

const membershipColumns = `membership_id, user_id, org_id, role, status, invitation_token, invited_by, created_at, updated_at`

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	err := row.Scan(
		&m.MembershipID,
		&m.UserID,
		&m.OrgID,
		&m.Role,
		&m.Status,
		&m.InvitationToken,
		&m.InvitedBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create creates a new membership.
func (s *MembershipStore) Create(ctx context.Context, m *models.Membership) error {
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	query := `
		INSERT INTO memberships (
			membership_id, user_id, org_id, role, status,
			invitation_token, invited_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := db(ctx, s.pool).Exec(ctx, query,
		m.MembershipID,
		m.UserID,
		m.OrgID,
		m.Role,
		m.Status,
		m.InvitationToken,
		m.InvitedBy,
		m.CreatedAt,
		m.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err, "memberships_user_org_live") {
			return store.ErrMembershipConflict
		}
		return fmt.Errorf("failed to create membership: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("membership_id", m.MembershipID.String()).
		Str("org_id", m.OrgID.String()).
		Str("user_id", m.UserID.String()).
		Str("role", m.Role).
		Msg("Created membership")

	return nil
}

// Get retrieves a membership by ID.
func (s *MembershipStore) Get(ctx context.Context, membershipID uuid.UUID) (*models.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE membership_id = $1`

	m, err := scanMembership(db(ctx, s.pool).QueryRow(ctx, query, membershipID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", mapPostgresError(err))
	}

	return m, nil
}

// GetForUser retrieves the non-revoked membership for a (user, org) pair.
// This is read fresh on every request so suspensions take effect immediately.
func (s *MembershipStore) GetForUser(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE user_id = $1 AND org_id = $2 AND status <> 'revoked'
	`

	m, err := scanMembership(db(ctx, s.pool).QueryRow(ctx, query, userID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", mapPostgresError(err))
	}

	return m, nil
}

// GetByInvitationToken retrieves an invited membership by its token.
func (s *MembershipStore) GetByInvitationToken(ctx context.Context, token string) (*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE invitation_token = $1 AND status = 'invited'
	`

	m, err := scanMembership(db(ctx, s.pool).QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", mapPostgresError(err))
	}

	return m, nil
}

// ListByOrg returns all non-revoked memberships of an organization.
func (s *MembershipStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE org_id = $1 AND status <> 'revoked'
		ORDER BY created_at
	`

	rows, err := db(ctx, s.pool).Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var members []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return members, nil
}

// Update updates a membership's role or status.
func (s *MembershipStore) Update(ctx context.Context, m *models.Membership) error {
	m.UpdatedAt = time.Now()

	query := `
		UPDATE memberships SET
			role = $2,
			status = $3,
			invitation_token = $4,
			updated_at = $5
		WHERE membership_id = $1
	`

	result, err := db(ctx, s.pool).Exec(ctx, query,
		m.MembershipID,
		m.Role,
		m.Status,
		m.InvitationToken,
		m.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update membership: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}

	log.Debug().
		Str("membership_id", m.MembershipID.String()).
		Str("status", m.Status).
		Msg("Updated membership")

	return nil
}
