package model

import (
	"time"

	"github.com/google/uuid"
)

// Role groups permission codes within a tenant. Name is unique per
// tenant. ParentRoleID links a role to its parent; the stores do not
// reject cycles, so the authorization engine traverses defensively.
type Role struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	ParentRoleID *uuid.UUID
	IsSystem     bool // immutable once created
	Permissions  []string
	Constraints  map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoleAssignment binds a role to a user within a tenant, with a validity
// window.
type RoleAssignment struct {
	RoleID    uuid.UUID
	UserID    uuid.UUID
	TenantID  uuid.UUID
	GrantedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Valid reports whether the assignment is in force at the given instant.
func (a *RoleAssignment) Valid(now time.Time) bool {
	if a.GrantedAt.After(now) {
		return false
	}
	if a.RevokedAt != nil {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// RolePermission is one effective (permission, granted, conditions) row.
// Granted=false is an explicit denial and dominates any grant of the
// same code.
type RolePermission struct {
	RoleID     uuid.UUID
	Permission string
	Granted    bool
	Conditions map[string]any
}
