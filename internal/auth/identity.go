package auth

import (
	"context"

	"github.com/google/uuid"
)

// Identity represents an authenticated caller. It carries who the caller is
// and which organization their session currently selects; it does NOT confer
// access to that organization. Access is decided per request by the guard,
// from a fresh membership read.
type Identity struct {
	UserID uuid.UUID
	Email  string

	// OrgID is the session-selected organization, used when a request does
	// not name a target organization explicitly.
	OrgID uuid.UUID

	// SuperAdmin marks a cross-tenant operator identity. Requests under a
	// super-admin identity bypass membership checks and row isolation; every
	// such request is audited.
	SuperAdmin bool
}

type contextKey int

const identityContextKey contextKey = iota

// WithIdentity adds the authenticated identity to the request context.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, ident)
}

// IdentityFromContext extracts the authenticated identity from the request
// context. Returns nil for unauthenticated requests.
func IdentityFromContext(ctx context.Context) *Identity {
	ident, _ := ctx.Value(identityContextKey).(*Identity)
	return ident
}
