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

// ProjectStore implements store.ProjectStore using PostgreSQL.
type ProjectStore struct {
	pool *pgxpool.Pool
}

// NewProjectStore creates a new PostgreSQL-backed project store.
func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{
		pool: pool,
	}
}

var projectColumns = []string{"project_id", "org_id", "name", "status", "client_id", "created_at", "updated_at"}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ProjectID,
		&p.OrgID,
		&p.Name,
		&p.Status,
		&p.ClientID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// verifyClientRef checks that the referenced client exists in the active
// organization. A client visible through a scoped query is by construction
// same-org, so an absent row means the reference is either dangling or
// cross-organization; both are rejected before the insert is attempted.
func (s *ProjectStore) verifyClientRef(ctx context.Context, clientID uuid.UUID) error {
	builder, err := tenant.Scoped(ctx, "clients", "1")
	if err != nil {
		return err
	}

	query, args, err := builder.Where(sq.Eq{"client_id": clientID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build select: %w", err)
	}

	var one int
	if err := db(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.ErrCrossOrgReference
		}
		return fmt.Errorf("failed to verify client reference: %w", mapPostgresError(err))
	}

	return nil
}

// Create creates a new project in the active organization. A client
// reference must resolve within the same organization; the composite foreign
// key backs this check up at the schema level.
func (s *ProjectStore) Create(ctx context.Context, project *models.Project) error {
	if project.ClientID != nil {
		if err := s.verifyClientRef(ctx, *project.ClientID); err != nil {
			return err
		}
	}

	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	builder, err := tenant.ScopedInsert(ctx, "projects", map[string]any{
		"project_id": project.ProjectID,
		"name":       project.Name,
		"status":     project.Status,
		"client_id":  project.ClientID,
		"created_at": project.CreatedAt,
		"updated_at": project.UpdatedAt,
	})
	if err != nil {
		return err
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := db(ctx, s.pool).Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err, "projects_org_id_name_key") {
			return store.ErrProjectAlreadyExists
		}
		if isForeignKeyViolation(err, "projects_org_id_client_id_fkey") {
			return tenant.ErrCrossOrgReference
		}
		return fmt.Errorf("failed to create project: %w", mapPostgresError(err))
	}

	project.OrgID, _ = tenant.OrgID(ctx)

	log.Debug().
		Str("project_id", project.ProjectID.String()).
		Str("org_id", project.OrgID.String()).
		Msg("Created project")

	return nil
}

// Get retrieves a project by ID within the active organization.
func (s *ProjectStore) Get(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	builder, err := tenant.Scoped(ctx, "projects", projectColumns...)
	if err != nil {
		return nil, err
	}

	query, args, err := builder.Where(sq.Eq{"project_id": projectID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	p, err := scanProject(db(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", mapPostgresError(err))
	}

	return p, nil
}

// List returns all projects of the active organization.
func (s *ProjectStore) List(ctx context.Context) ([]*models.Project, error) {
	builder, err := tenant.Scoped(ctx, "projects", projectColumns...)
	if err != nil {
		return nil, err
	}

	query, args, err := builder.OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	return s.queryProjects(ctx, query, args)
}

// ListByClient returns the active organization's projects for a client. The
// join back to clients carries its own organization predicate; the scoped
// filter never propagates across joins implicitly.
func (s *ProjectStore) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Project, error) {
	builder, err := tenant.Scoped(ctx, "projects",
		"projects.project_id", "projects.org_id", "projects.name", "projects.status",
		"projects.client_id", "projects.created_at", "projects.updated_at")
	if err != nil {
		return nil, err
	}

	builder, err = tenant.JoinScoped(ctx, builder,
		"clients ON clients.client_id = projects.client_id AND clients.org_id = projects.org_id",
		"clients")
	if err != nil {
		return nil, err
	}

	query, args, err := builder.
		Where(sq.Eq{"projects.client_id": clientID}).
		OrderBy("projects.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	return s.queryProjects(ctx, query, args)
}

func (s *ProjectStore) queryProjects(ctx context.Context, query string, args []any) ([]*models.Project, error) {
	rows, err := db(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// Update updates a project's mutable fields within the active organization.
// The organization reference itself is immutable.
func (s *ProjectStore) Update(ctx context.Context, project *models.Project) error {
	if project.ClientID != nil {
		if err := s.verifyClientRef(ctx, *project.ClientID); err != nil {
			return err
		}
	}

	project.UpdatedAt = time.Now()

	builder, err := tenant.ScopedUpdate(ctx, "projects")
	if err != nil {
		return err
	}

	query, args, err := builder.
		Set("name", project.Name).
		Set("status", project.Status).
		Set("client_id", project.ClientID).
		Set("updated_at", project.UpdatedAt).
		Where(sq.Eq{"project_id": project.ProjectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := db(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err, "projects_org_id_name_key") {
			return store.ErrProjectAlreadyExists
		}
		if isForeignKeyViolation(err, "projects_org_id_client_id_fkey") {
			return tenant.ErrCrossOrgReference
		}
		return fmt.Errorf("failed to update project: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrProjectNotFound
	}

	return nil
}
