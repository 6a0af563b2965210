package models

import (
	"time"

	"github.com/google/uuid"
)

// TimeEntry is a tenant-scoped record of time worked against a project.
// The project reference must belong to the same organization.
type TimeEntry struct {
	EntryID   uuid.UUID // UUIDv7
	OrgID     uuid.UUID // immutable after creation
	ProjectID uuid.UUID // same-org reference
	UserID    uuid.UUID // who logged the time

	StartedAt time.Time
	Duration  time.Duration
	Note      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrgRef implements tenant.Scopable.
func (e *TimeEntry) OrgRef() uuid.UUID { return e.OrgID }
