package tenant

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
)

// The active tenant is carried on the request context.Context, never in
// process-wide state, so concurrent requests can never observe each other's
// binding. The holder is mutable so Clear works on derived contexts: the
// guard binds early in the middleware chain and its deferred Clear must take
// effect even though handlers run on contexts derived from the bound one.

type contextKey int

const stateContextKey contextKey = iota

type state struct {
	mu         sync.Mutex
	org        *models.Organization
	superAdmin bool
	cleared    bool
}

// Bind establishes the active organization for this unit of work. Binding
// twice without an intervening Clear returns ErrAlreadyBound, which catches
// context leaking between logical operations.
//
// A super-admin binding may carry a nil organization; scoped queries issued
// under it are unscoped (and audited).
func Bind(ctx context.Context, org *models.Organization, superAdmin bool) (context.Context, error) {
	if s, ok := ctx.Value(stateContextKey).(*state); ok {
		s.mu.Lock()
		live := !s.cleared
		s.mu.Unlock()
		if live {
			return nil, ErrAlreadyBound
		}
	}

	if org == nil && !superAdmin {
		return nil, ErrNoTenantContext
	}

	return context.WithValue(ctx, stateContextKey, &state{
		org:        org,
		superAdmin: superAdmin,
	}), nil
}

// Clear detaches the active tenant from this unit of work. It is idempotent;
// calling it on an unbound context is a no-op. It must run unconditionally at
// the end of every unit of work, including error paths.
func Clear(ctx context.Context) {
	s, ok := ctx.Value(stateContextKey).(*state)
	if !ok {
		return
	}
	s.mu.Lock()
	s.cleared = true
	s.org = nil
	s.superAdmin = false
	s.mu.Unlock()
}

// Bound returns true if a live tenant binding is attached to ctx.
func Bound(ctx context.Context) bool {
	s, ok := ctx.Value(stateContextKey).(*state)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cleared
}

// OrgID returns the active organization id, or ErrNoTenantContext if no
// binding is live or the binding carries no organization.
func OrgID(ctx context.Context) (uuid.UUID, error) {
	org, err := Current(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return org.OrgID, nil
}

// Current returns the full active organization record, cached for the unit
// of work by Bind.
func Current(ctx context.Context) (*models.Organization, error) {
	s, ok := ctx.Value(stateContextKey).(*state)
	if !ok {
		return nil, ErrNoTenantContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared || s.org == nil {
		return nil, ErrNoTenantContext
	}
	return s.org, nil
}

// IsSuperAdmin returns true if the live binding is cross-tenant admin.
func IsSuperAdmin(ctx context.Context) bool {
	s, ok := ctx.Value(stateContextKey).(*state)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cleared && s.superAdmin
}

// Scopable is implemented by every tenant-scoped entity type. It is the
// compile-time capability marker the scoped query layer keys off, instead of
// probing for an org_id attribute at runtime.
type Scopable interface {
	OrgRef() uuid.UUID
}

// SameOrg verifies that two tenant-scoped entities belong to the same
// organization. Every cross-entity reference must pass this check before the
// referencing row is written.
func SameOrg(a, b Scopable) error {
	if a.OrgRef() != b.OrgRef() {
		return ErrCrossOrgReference
	}
	return nil
}
