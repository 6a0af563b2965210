package models

import (
	"time"

	"github.com/google/uuid"
)

// Client is a tenant-scoped billing client. Client names are unique within
// an organization, not globally.
type Client struct {
	ClientID uuid.UUID // UUIDv7
	OrgID    uuid.UUID // immutable after creation

	Name     string
	Currency string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrgRef implements tenant.Scopable.
func (c *Client) OrgRef() uuid.UUID { return c.OrgID }
