package authz

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/clearpathsec/bastion/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

type fixture struct {
	engine *Engine
	roles  *memory.RoleStore
	clock  *store.FixedClock
	tenant uuid.UUID
	user   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	roles := memory.NewRoleStore()
	clock := &store.FixedClock{Instant: t0}
	return &fixture{
		engine: NewEngine(roles, clock, slog.New(slog.NewTextHandler(io.Discard, nil))),
		roles:  roles,
		clock:  clock,
		tenant: uuid.New(),
		user:   uuid.New(),
	}
}

// addRole creates a role with plain granted permissions and assigns it.
func (f *fixture) addRole(t *testing.T, name string, parent *uuid.UUID, perms []string) uuid.UUID {
	t.Helper()
	role := &model.Role{
		ID:           uuid.New(),
		TenantID:     f.tenant,
		Name:         name,
		ParentRoleID: parent,
		Permissions:  perms,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, f.roles.Create(context.Background(), role))
	f.roles.Assign(&model.RoleAssignment{
		RoleID:    role.ID,
		UserID:    f.user,
		TenantID:  f.tenant,
		GrantedAt: t0.Add(-time.Hour),
	})
	return role.ID
}

func (f *fixture) authorize(t *testing.T, resource, action string, attrs map[string]any) Decision {
	t.Helper()
	d, err := f.engine.Authorize(context.Background(), Request{
		UserID:     f.user,
		TenantID:   f.tenant,
		Resource:   resource,
		Action:     action,
		Attributes: attrs,
	})
	require.NoError(t, err)
	return d
}

func TestAuthorizeWildcards(t *testing.T) {
	f := newFixture(t)
	f.addRole(t, "ops", nil, []string{"metrics:read:*", "metrics:*:tenant"})

	assert.True(t, f.authorize(t, "metrics", "read", nil).Allowed)
	assert.True(t, f.authorize(t, "metrics", "write", nil).Allowed)
	assert.False(t, f.authorize(t, "billing", "read", nil).Allowed)
}

func TestAuthorizeExplicitDenyDominates(t *testing.T) {
	f := newFixture(t)
	f.addRole(t, "tenant-admin", nil, []string{"users:delete:tenant"})
	restrictedID := f.addRole(t, "restricted", nil, nil)
	f.roles.SetPermissions(restrictedID, []*model.RolePermission{
		{RoleID: restrictedID, Permission: "users:delete:tenant", Granted: false},
	})

	d := f.authorize(t, "users", "delete", nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, "access explicitly denied", d.Reason)
}

func TestAuthorizeNoRoles(t *testing.T) {
	f := newFixture(t)
	d := f.authorize(t, "users", "read", nil)
	assert.False(t, d.Allowed)
}

func TestAuthorizeEmptyRoleDeniesEverything(t *testing.T) {
	f := newFixture(t)
	f.addRole(t, "empty", nil, nil)
	assert.False(t, f.authorize(t, "users", "read", nil).Allowed)
	assert.False(t, f.authorize(t, "metrics", "write", nil).Allowed)
}

func TestAuthorizeRootWildcard(t *testing.T) {
	f := newFixture(t)
	f.addRole(t, "root", nil, []string{"*:*:*"})
	assert.True(t, f.authorize(t, "anything", "at-all", nil).Allowed)
}

func TestAuthorizeHierarchyInheritance(t *testing.T) {
	f := newFixture(t)
	// parent grants; child is the assigned role.
	parent := &model.Role{
		ID: uuid.New(), TenantID: f.tenant, Name: "parent",
		Permissions: []string{"reports:read:tenant"}, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.roles.Create(context.Background(), parent))

	child := &model.Role{
		ID: uuid.New(), TenantID: f.tenant, Name: "child",
		ParentRoleID: &parent.ID, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.roles.Create(context.Background(), child))
	f.roles.Assign(&model.RoleAssignment{
		RoleID: child.ID, UserID: f.user, TenantID: f.tenant, GrantedAt: t0.Add(-time.Hour),
	})

	assert.True(t, f.authorize(t, "reports", "read", nil).Allowed)
}

func TestAuthorizeHierarchyCycleTolerated(t *testing.T) {
	f := newFixture(t)
	// Two roles pointing at each other: corruption the store should
	// prevent, but resolution must still terminate.
	a := &model.Role{ID: uuid.New(), TenantID: f.tenant, Name: "a", CreatedAt: t0, UpdatedAt: t0}
	b := &model.Role{
		ID: uuid.New(), TenantID: f.tenant, Name: "b", ParentRoleID: &a.ID,
		Permissions: []string{"docs:read:tenant"}, CreatedAt: t0, UpdatedAt: t0,
	}
	a.ParentRoleID = &b.ID
	require.NoError(t, f.roles.Create(context.Background(), a))
	require.NoError(t, f.roles.Create(context.Background(), b))
	f.roles.Assign(&model.RoleAssignment{
		RoleID: a.ID, UserID: f.user, TenantID: f.tenant, GrantedAt: t0.Add(-time.Hour),
	})

	assert.True(t, f.authorize(t, "docs", "read", nil).Allowed)
}

func TestAuthorizeAssignmentValidity(t *testing.T) {
	f := newFixture(t)
	role := &model.Role{
		ID: uuid.New(), TenantID: f.tenant, Name: "temp",
		Permissions: []string{"jobs:run:tenant"}, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.roles.Create(context.Background(), role))

	revoked := t0.Add(-time.Minute)
	expired := t0.Add(-time.Second)
	future := t0.Add(time.Hour)

	cases := []struct {
		name       string
		assignment model.RoleAssignment
		want       bool
	}{
		{"active", model.RoleAssignment{GrantedAt: t0.Add(-time.Hour)}, true},
		{"revoked", model.RoleAssignment{GrantedAt: t0.Add(-time.Hour), RevokedAt: &revoked}, false},
		{"expired", model.RoleAssignment{GrantedAt: t0.Add(-time.Hour), ExpiresAt: &expired}, false},
		{"not yet granted", model.RoleAssignment{GrantedAt: future}, false},
		{"expires later", model.RoleAssignment{GrantedAt: t0.Add(-time.Hour), ExpiresAt: &future}, true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.roles.Create(context.Background(), &model.Role{
				ID: role.ID, TenantID: f.tenant, Name: "temp",
				Permissions: []string{"jobs:run:tenant"}, CreatedAt: t0, UpdatedAt: t0,
			}))
			a := tt.assignment
			a.RoleID = role.ID
			a.UserID = f.user
			a.TenantID = f.tenant
			f.roles.Assign(&a)
			assert.Equal(t, tt.want, f.authorize(t, "jobs", "run", nil).Allowed)
		})
	}
}

func TestAuthorizeOwnershipCondition(t *testing.T) {
	f := newFixture(t)
	roleID := f.addRole(t, "owner-only", nil, nil)
	f.roles.SetPermissions(roleID, []*model.RolePermission{{
		RoleID:     roleID,
		Permission: "documents:edit:tenant",
		Granted:    true,
		Conditions: map[string]any{"ownership": map[string]any{"require_owner": true}},
	}})

	allowed := f.authorize(t, "documents", "edit", map[string]any{
		"resource_owner_id": f.user.String(),
	})
	assert.True(t, allowed.Allowed)
	assert.Contains(t, allowed.Conditions, "ownership")

	denied := f.authorize(t, "documents", "edit", map[string]any{
		"resource_owner_id": uuid.New().String(),
	})
	assert.False(t, denied.Allowed)

	missing := f.authorize(t, "documents", "edit", nil)
	assert.False(t, missing.Allowed)
}

func TestAuthorizeMFACondition(t *testing.T) {
	f := newFixture(t)
	roleID := f.addRole(t, "mfa-gated", nil, nil)
	f.roles.SetPermissions(roleID, []*model.RolePermission{{
		RoleID:     roleID,
		Permission: "billing:manage:tenant",
		Granted:    true,
		Conditions: map[string]any{"mfa_required": true},
	}})

	assert.True(t, f.authorize(t, "billing", "manage", map[string]any{"mfa_verified": true}).Allowed)
	assert.False(t, f.authorize(t, "billing", "manage", map[string]any{"mfa_verified": false}).Allowed)
	assert.False(t, f.authorize(t, "billing", "manage", nil).Allowed)
}

func TestAuthorizeIPCondition(t *testing.T) {
	f := newFixture(t)
	roleID := f.addRole(t, "office-only", nil, nil)
	f.roles.SetPermissions(roleID, []*model.RolePermission{{
		RoleID:     roleID,
		Permission: "admin:access:tenant",
		Granted:    true,
		Conditions: map[string]any{"ip_restriction": map[string]any{
			"allowed_ranges": []any{"10.0.0.0/8", "192.168.1.0/24"},
		}},
	}})

	check := func(ip string) bool {
		d, err := f.engine.Authorize(context.Background(), Request{
			UserID: f.user, TenantID: f.tenant,
			Resource: "admin", Action: "access", IP: ip,
		})
		require.NoError(t, err)
		return d.Allowed
	}

	assert.True(t, check("10.1.2.3"))
	assert.True(t, check("192.168.1.50"))
	assert.False(t, check("203.0.113.7"))
	assert.False(t, check(""))
}

func TestAuthorizeTimeCondition(t *testing.T) {
	f := newFixture(t)
	roleID := f.addRole(t, "business-hours", nil, nil)
	f.roles.SetPermissions(roleID, []*model.RolePermission{{
		RoleID:     roleID,
		Permission: "exports:run:tenant",
		Granted:    true,
		Conditions: map[string]any{"time_restriction": map[string]any{
			"start_hour": float64(9), "end_hour": float64(17), "timezone": "UTC",
		}},
	}})

	// Fixture clock is 10:00 UTC: inside the window.
	assert.True(t, f.authorize(t, "exports", "run", nil).Allowed)

	f.clock.Instant = time.Date(2026, 1, 12, 17, 0, 0, 0, time.UTC) // end is exclusive
	assert.False(t, f.authorize(t, "exports", "run", nil).Allowed)

	f.clock.Instant = time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC) // start is inclusive
	assert.True(t, f.authorize(t, "exports", "run", nil).Allowed)
}

func TestAuthorizeUnknownConditionFailsClosed(t *testing.T) {
	f := newFixture(t)
	roleID := f.addRole(t, "odd", nil, nil)
	f.roles.SetPermissions(roleID, []*model.RolePermission{{
		RoleID:     roleID,
		Permission: "data:read:tenant",
		Granted:    true,
		Conditions: map[string]any{"quantum_entanglement": true},
	}})

	assert.False(t, f.authorize(t, "data", "read", nil).Allowed)
}

func TestResolveClaims(t *testing.T) {
	f := newFixture(t)
	f.addRole(t, "ops", nil, []string{"metrics:read:tenant", "metrics:write:tenant"})

	roles, perms, err := f.engine.ResolveClaims(context.Background(), f.user, f.tenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, roles)
	assert.Equal(t, []string{"metrics:read:tenant", "metrics:write:tenant"}, perms)

	// A user with no assignments resolves to empty claims.
	roles, perms, err = f.engine.ResolveClaims(context.Background(), uuid.New(), f.tenant)
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Empty(t, perms)
}

func TestAuthorizeTenantScoping(t *testing.T) {
	f := newFixture(t)
	f.addRole(t, "ops", nil, []string{"metrics:read:tenant"})

	// The same user in a different tenant has no grants.
	d, err := f.engine.Authorize(context.Background(), Request{
		UserID: f.user, TenantID: uuid.New(),
		Resource: "metrics", Action: "read",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
