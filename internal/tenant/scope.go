package tenant

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog/log"
)

// psql builds statements with Postgres-style placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Scoped returns a SELECT builder for a tenant-scoped table, pre-filtered to
// the active organization. It returns ErrNoTenantContext when no binding is
// live, so an unscoped read can never slip out of a forgotten code path.
//
// Super-admin context bypasses the filter; every such bypass is logged so
// use sites remain auditable.
//
// The filter does NOT propagate across joins. Any join to another
// tenant-scoped table must apply its own organization predicate, see
// JoinScoped.
func Scoped(ctx context.Context, table string, columns ...string) (sq.SelectBuilder, error) {
	if IsSuperAdmin(ctx) {
		log.Warn().Str("table", table).Msg("unscoped query issued under super-admin context")
		return psql.Select(columns...).From(table), nil
	}

	orgID, err := OrgID(ctx)
	if err != nil {
		return sq.SelectBuilder{}, fmt.Errorf("scoped select on %s: %w", table, err)
	}

	return psql.Select(columns...).
		From(table).
		Where(sq.Eq{table + ".org_id": orgID}), nil
}

// JoinScoped joins another tenant-scoped table onto b and independently
// applies the organization predicate to the joined table.
func JoinScoped(ctx context.Context, b sq.SelectBuilder, joinExpr, table string) (sq.SelectBuilder, error) {
	b = b.Join(joinExpr)
	if IsSuperAdmin(ctx) {
		return b, nil
	}

	orgID, err := OrgID(ctx)
	if err != nil {
		return sq.SelectBuilder{}, fmt.Errorf("scoped join on %s: %w", table, err)
	}

	return b.Where(sq.Eq{table + ".org_id": orgID}), nil
}

// Unscoped returns a SELECT builder with no organization filter. It is only
// permitted under super-admin context and is always logged.
func Unscoped(ctx context.Context, table string, columns ...string) (sq.SelectBuilder, error) {
	if !IsSuperAdmin(ctx) {
		return sq.SelectBuilder{}, fmt.Errorf("unscoped select on %s: %w", table, ErrSuperAdminRequired)
	}

	log.Warn().Str("table", table).Msg("unscoped query issued under super-admin context")
	return psql.Select(columns...).From(table), nil
}

// ScopedInsert returns an INSERT builder with org_id stamped from the active
// context. The organization reference is never taken from caller-supplied
// values; an org_id key in values is overwritten.
func ScopedInsert(ctx context.Context, table string, values map[string]any) (sq.InsertBuilder, error) {
	orgID, err := OrgID(ctx)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("scoped insert on %s: %w", table, err)
	}

	stamped := make(map[string]any, len(values)+1)
	for k, v := range values {
		stamped[k] = v
	}
	stamped["org_id"] = orgID

	return psql.Insert(table).SetMap(stamped), nil
}

// ScopedUpdate returns an UPDATE builder restricted to the active
// organization's rows.
func ScopedUpdate(ctx context.Context, table string) (sq.UpdateBuilder, error) {
	orgID, err := OrgID(ctx)
	if err != nil {
		return sq.UpdateBuilder{}, fmt.Errorf("scoped update on %s: %w", table, err)
	}

	return psql.Update(table).Where(sq.Eq{"org_id": orgID}), nil
}

// ScopedDelete returns a DELETE builder restricted to the active
// organization's rows.
func ScopedDelete(ctx context.Context, table string) (sq.DeleteBuilder, error) {
	orgID, err := OrgID(ctx)
	if err != nil {
		return sq.DeleteBuilder{}, fmt.Errorf("scoped delete on %s: %w", table, err)
	}

	return psql.Delete(table).Where(sq.Eq{"org_id": orgID}), nil
}
