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
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
)

// TimeEntryStore implements store.TimeEntryStore using PostgreSQL.
type TimeEntryStore struct {
	pool *pgxpool.Pool
}

// NewTimeEntryStore creates a new PostgreSQL-backed time entry store.
func NewTimeEntryStore(pool *pgxpool.Pool) *TimeEntryStore {
	return &TimeEntryStore{
		pool: pool,
	}
}

var timeEntryColumns = []string{
	"entry_id", "org_id", "project_id", "user_id",
	"started_at", "duration_seconds", "note", "created_at", "updated_at",
}

func scanTimeEntry(row pgx.Row) (*models.TimeEntry, error) {
	var e models.TimeEntry
	var durationSeconds int64
	err := row.Scan(
		&e.EntryID,
		&e.OrgID,
		&e.ProjectID,
		&e.UserID,
		&e.StartedAt,
		&durationSeconds,
		&e.Note,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Duration = time.Duration(durationSeconds) * time.Second
	return &e, nil
}

// verifyProjectRef checks that the referenced project exists in the active
// organization before the entry is written.
func (s *TimeEntryStore) verifyProjectRef(ctx context.Context, projectID uuid.UUID) error {
	builder, err := tenant.Scoped(ctx, "projects", "1")
	if err != nil {
		return err
	}

	query, args, err := builder.Where(sq.Eq{"project_id": projectID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build select: %w", err)
	}

	var one int
	if err := db(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.ErrCrossOrgReference
		}
		return fmt.Errorf("failed to verify project reference: %w", mapPostgresError(err))
	}

	return nil
}

// Create creates a new time entry in the active organization.
func (s *TimeEntryStore) Create(ctx context.Context, entry *models.TimeEntry) error {
	if err := s.verifyProjectRef(ctx, entry.ProjectID); err != nil {
		return err
	}

	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	builder, err := tenant.ScopedInsert(ctx, "time_entries", map[string]any{
		"entry_id":         entry.EntryID,
		"project_id":       entry.ProjectID,
		"user_id":          entry.UserID,
		"started_at":       entry.StartedAt,
		"duration_seconds": int64(entry.Duration / time.Second),
		"note":             entry.Note,
		"created_at":       entry.CreatedAt,
		"updated_at":       entry.UpdatedAt,
	})
	if err != nil {
		return err
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := db(ctx, s.pool).Exec(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err, "time_entries_org_id_project_id_fkey") {
			return tenant.ErrCrossOrgReference
		}
		return fmt.Errorf("failed to create time entry: %w", mapPostgresError(err))
	}

	entry.OrgID, _ = tenant.OrgID(ctx)

	return nil
}

// Get retrieves a time entry by ID within the active organization.
func (s *TimeEntryStore) Get(ctx context.Context, entryID uuid.UUID) (*models.TimeEntry, error) {
	builder, err := tenant.Scoped(ctx, "time_entries", timeEntryColumns...)
	if err != nil {
		return nil, err
	}

	query, args, err := builder.Where(sq.Eq{"entry_id": entryID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	e, err := scanTimeEntry(db(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTimeEntryNotFound
		}
		return nil, fmt.Errorf("failed to get time entry: %w", mapPostgresError(err))
	}

	return e, nil
}

// ListByProject returns the active organization's entries for a project.
func (s *TimeEntryStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.TimeEntry, error) {
	return s.list(ctx, sq.Eq{"project_id": projectID})
}

// ListByUser returns the active organization's entries logged by a user.
func (s *TimeEntryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.TimeEntry, error) {
	return s.list(ctx, sq.Eq{"user_id": userID})
}

func (s *TimeEntryStore) list(ctx context.Context, filter sq.Eq) ([]*models.TimeEntry, error) {
	builder, err := tenant.Scoped(ctx, "time_entries", timeEntryColumns...)
	if err != nil {
		return nil, err
	}

	query, args, err := builder.Where(filter).OrderBy("started_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := db(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list time entries: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var entries []*models.TimeEntry
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating time entries: %w", err)
	}

	return entries, nil
}

// Delete removes a time entry within the active organization.
func (s *TimeEntryStore) Delete(ctx context.Context, entryID uuid.UUID) error {
	builder, err := tenant.ScopedDelete(ctx, "time_entries")
	if err != nil {
		return err
	}

	query, args, err := builder.Where(sq.Eq{"entry_id": entryID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	result, err := db(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete time entry: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrTimeEntryNotFound
	}

	return nil
}
