package models

import (
	"time"

	"github.com/google/uuid"
)

// OrgStatus is the lifecycle state of an organization.
const (
	OrgStatusActive          = "active"
	OrgStatusSuspended       = "suspended"
	OrgStatusArchived        = "archived"
	OrgStatusPendingDeletion = "pending_deletion"
)

// Organization represents one tenant in the system. Every tenant-scoped
// record in the database carries a reference to exactly one organization.
type Organization struct {
	OrgID uuid.UUID // UUIDv7
	Name  string
	Slug  string // unique, URL-safe identifier

	Status string // "active", "suspended", "archived", "pending_deletion"

	// Subscription metadata and resource limits
	Plan        string
	MaxUsers    int32
	MaxProjects int32

	// Defaults applied to new tenant-scoped records
	Locale   string
	Currency string

	// DeleteAfter is set when the organization enters pending_deletion.
	// Hard deletion is only permitted once this timestamp has passed.
	DeleteAfter *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive returns true if the organization can serve requests.
func (o *Organization) IsActive() bool {
	return o.Status == OrgStatusActive
}

// PurgeDue returns true if the deletion grace period has expired.
func (o *Organization) PurgeDue(now time.Time) bool {
	return o.Status == OrgStatusPendingDeletion && o.DeleteAfter != nil && now.After(*o.DeleteAfter)
}
