package tenant

import "errors"

// Sentinel errors for tenant context and scoping operations.
var (
	// ErrNoTenantContext indicates a tenant-scoped operation ran without a
	// bound tenant context. This is always a programming error: some code
	// path forgot to establish context before touching tenant data.
	ErrNoTenantContext = errors.New("no tenant context bound")

	// ErrAlreadyBound indicates Bind was called twice within the same unit
	// of work without an intervening Clear.
	ErrAlreadyBound = errors.New("tenant context already bound")

	// ErrPermissionDenied indicates the caller lacks an active membership
	// (or a sufficient role) in the target organization.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSuperAdminRequired indicates an unscoped query was requested
	// without super-admin context.
	ErrSuperAdminRequired = errors.New("super-admin context required")

	// ErrCrossOrgReference indicates an entity attempted to reference an
	// entity belonging to a different organization.
	ErrCrossOrgReference = errors.New("cross-organization reference")
)
