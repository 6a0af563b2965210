package models

import (
	"time"

	"github.com/google/uuid"
)

// Project statuses.
const (
	ProjectStatusActive   = "active"
	ProjectStatusArchived = "archived"
)

// Project is a tenant-scoped project. It may reference a Client, which must
// belong to the same organization (enforced both in the store layer and by a
// composite foreign key in the schema).
type Project struct {
	ProjectID uuid.UUID // UUIDv7
	OrgID     uuid.UUID // immutable after creation

	Name     string // unique per organization
	Status   string
	ClientID *uuid.UUID // same-org reference, optional

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrgRef implements tenant.Scopable.
func (p *Project) OrgRef() uuid.UUID { return p.OrgID }
