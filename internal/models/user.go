package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated identity. Users are global (not tenant-scoped);
// a user gains access to an organization only through a Membership.
type User struct {
	UserID uuid.UUID // UUIDv7
	Email  string    // unique
	Name   string

	CreatedAt time.Time
	UpdatedAt time.Time
}
