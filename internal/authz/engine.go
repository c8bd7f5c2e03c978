// Package authz decides whether a principal may perform an action on a
// resource: role resolution, hierarchy flattening, wildcard permission
// matching and ABAC condition evaluation.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/google/uuid"
)

// maxHierarchyDepth bounds the parent walk; the store should hold a
// forest, but corruption must not turn resolution into unbounded work.
const maxHierarchyDepth = 16

// Request is the authorization context.
type Request struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Resource string
	Action   string
	// Scope defaults to "tenant" when empty.
	Scope      string
	IP         string
	Attributes map[string]any
}

// requiredPermission derives the code the request needs.
func (r *Request) requiredPermission() string {
	scope := r.Scope
	if scope == "" {
		scope = "tenant"
	}
	return fmt.Sprintf("%s:%s:%s", r.Resource, r.Action, scope)
}

// Decision is the evaluation outcome. Reason is stable for audit logs and
// never names the permission that matched.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason"`
	Conditions []string `json:"conditions,omitempty"`
}

// Engine evaluates requests against the role store.
type Engine struct {
	roles store.RoleStore
	clock store.Clock
	log   *slog.Logger
}

func NewEngine(roles store.RoleStore, clock store.Clock, log *slog.Logger) *Engine {
	return &Engine{roles: roles, clock: clock, log: log}
}

// Authorize runs the full decision procedure: resolve valid assignments,
// flatten the hierarchy, apply explicit denials first, then look for a
// matching grant whose conditions hold.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	now := e.clock.Now()
	required := req.requiredPermission()
	if !ValidPermission(required) {
		return Decision{Allowed: false, Reason: "malformed permission request"}, nil
	}

	assignments, err := e.roles.GetUserRoles(ctx, req.UserID, req.TenantID)
	if err != nil {
		return Decision{}, apperr.Wrap(err, apperr.KindDatabase, "role resolution failed")
	}

	var active []uuid.UUID
	for _, a := range assignments {
		if a.Valid(now) {
			active = append(active, a.RoleID)
		}
	}
	if len(active) == 0 {
		return Decision{Allowed: false, Reason: "no active role grants access"}, nil
	}

	flattened, err := e.flatten(ctx, active)
	if err != nil {
		return Decision{}, err
	}

	entries, err := e.collectPermissions(ctx, flattened)
	if err != nil {
		return Decision{}, err
	}

	// Explicit deny dominates every grant.
	for _, entry := range entries {
		if !entry.Granted && MatchPermission(entry.Permission, required) {
			e.log.Info("authorization_denied",
				"user_id", req.UserID,
				"tenant_id", req.TenantID,
				"resource", req.Resource,
				"action", req.Action,
				"cause", "explicit_denial",
			)
			return Decision{Allowed: false, Reason: "access explicitly denied"}, nil
		}
	}

	for _, entry := range entries {
		if !entry.Granted || !MatchPermission(entry.Permission, required) {
			continue
		}
		if evalConditions(entry.Conditions, &req, now) {
			return Decision{
				Allowed:    true,
				Reason:     "granted by role policy",
				Conditions: conditionKeys(entry.Conditions),
			}, nil
		}
	}

	return Decision{Allowed: false, Reason: "no grant covers the requested action"}, nil
}

// flatten walks parent pointers upward from each assigned role,
// deduplicating with a visited set. Re-visits short-circuit silently and
// depth is capped.
func (e *Engine) flatten(ctx context.Context, roots []uuid.UUID) ([]uuid.UUID, error) {
	visited := make(map[uuid.UUID]struct{})
	var order []uuid.UUID

	for _, root := range roots {
		current := root
		for depth := 0; depth < maxHierarchyDepth; depth++ {
			if _, seen := visited[current]; seen {
				break
			}
			visited[current] = struct{}{}
			order = append(order, current)

			role, err := e.roles.FindByID(ctx, current)
			if err != nil {
				if apperr.IsKind(err, apperr.KindNotFound) {
					break // dangling parent pointer; stop the walk
				}
				return nil, apperr.Wrap(err, apperr.KindDatabase, "role lookup failed")
			}
			if role.ParentRoleID == nil {
				break
			}
			current = *role.ParentRoleID
		}
	}
	return order, nil
}

// collectPermissions unions the (permission, granted, conditions) rows
// over the flattened role set.
func (e *Engine) collectPermissions(ctx context.Context, roleIDs []uuid.UUID) ([]*model.RolePermission, error) {
	var entries []*model.RolePermission
	seen := make(map[string]struct{})
	for _, id := range roleIDs {
		perms, err := e.roles.GetRolePermissions(ctx, id)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindDatabase, "permission lookup failed")
		}
		for _, p := range perms {
			// Dedup identical (permission, granted) pairs without
			// conditions; conditional entries stay distinct.
			if len(p.Conditions) == 0 {
				key := fmt.Sprintf("%s|%t", p.Permission, p.Granted)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			entries = append(entries, p)
		}
	}
	return entries, nil
}

// ResolveClaims implements token.ClaimsResolver: the role names and the
// deduplicated permission codes for the user's active assignments.
func (e *Engine) ResolveClaims(ctx context.Context, userID, tenantID uuid.UUID) ([]string, []string, error) {
	now := e.clock.Now()
	assignments, err := e.roles.GetUserRoles(ctx, userID, tenantID)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.KindDatabase, "role resolution failed")
	}

	var active []uuid.UUID
	for _, a := range assignments {
		if a.Valid(now) {
			active = append(active, a.RoleID)
		}
	}
	if len(active) == 0 {
		return nil, nil, nil
	}

	flattened, err := e.flatten(ctx, active)
	if err != nil {
		return nil, nil, err
	}

	roleNames := make([]string, 0, len(active))
	permSet := make(map[string]struct{})
	for _, id := range flattened {
		role, err := e.roles.FindByID(ctx, id)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue
			}
			return nil, nil, apperr.Wrap(err, apperr.KindDatabase, "role lookup failed")
		}
		roleNames = append(roleNames, role.Name)
		perms, err := e.roles.GetRolePermissions(ctx, id)
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.KindDatabase, "permission lookup failed")
		}
		for _, p := range perms {
			if p.Granted {
				permSet[p.Permission] = struct{}{}
			}
		}
	}

	permissions := make([]string, 0, len(permSet))
	for p := range permSet {
		permissions = append(permissions, p)
	}
	sort.Strings(permissions)
	return roleNames, permissions, nil
}

func conditionKeys(conditions map[string]any) []string {
	if len(conditions) == 0 {
		return nil
	}
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
