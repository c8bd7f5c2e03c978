package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrganizationStatus cascades to the organization's tenants: a suspended
// organization suspends every tenant under it.
type OrganizationStatus string

const (
	OrganizationStatusActive    OrganizationStatus = "active"
	OrganizationStatusSuspended OrganizationStatus = "suspended"
)

// Organization owns one or more tenants.
type Organization struct {
	ID        uuid.UUID
	Name      string
	Status    OrganizationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tenant is the isolation boundary. Branding, auth and compliance
// configuration are opaque blobs owned by the protocol adapters.
type Tenant struct {
	ID               uuid.UUID
	OrganizationID   uuid.UUID
	Name             string
	Branding         json.RawMessage
	AuthConfig       json.RawMessage
	ComplianceConfig json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MembershipStatus is the per-tenant state of a user's membership.
type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusSuspended MembershipStatus = "suspended"
	MembershipStatusPending   MembershipStatus = "pending"
)

// UserTenant is the many-to-many membership row. LastAccessedAt drives
// tenant switching order in account surfaces.
type UserTenant struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Status         MembershipStatus
	LastAccessedAt *time.Time
	CreatedAt      time.Time
}
