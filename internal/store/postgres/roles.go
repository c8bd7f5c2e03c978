package postgres

import (
	"context"
	"encoding/json"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RoleStore is the pgx-backed RoleStore.
type RoleStore struct {
	pool *pgxpool.Pool
}

func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

const roleColumns = `
	id, tenant_id, name, parent_role_id, is_system, permissions, constraints,
	created_at, updated_at`

func scanRole(row pgx.Row) (*model.Role, error) {
	var r model.Role
	var constraints []byte
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Name, &r.ParentRoleID, &r.IsSystem,
		&r.Permissions, &constraints, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &r.Constraints); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (s *RoleStore) Create(ctx context.Context, role *model.Role) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	constraints, err := json.Marshal(role.Constraints)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid constraints")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO roles (id, tenant_id, name, parent_role_id, is_system, permissions, constraints, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		role.ID, role.TenantID, role.Name, role.ParentRoleID, role.IsSystem,
		role.Permissions, constraints, role.CreatedAt, role.UpdatedAt,
	)
	return mapError(err, "role insert")
}

func (s *RoleStore) Update(ctx context.Context, role *model.Role) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	constraints, err := json.Marshal(role.Constraints)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid constraints")
	}
	// System roles are immutable.
	tag, err := s.pool.Exec(ctx, `
		UPDATE roles SET name = $2, parent_role_id = $3, permissions = $4, constraints = $5, updated_at = now()
		WHERE id = $1 AND NOT is_system`,
		role.ID, role.Name, role.ParentRoleID, role.Permissions, constraints,
	)
	if err != nil {
		return mapError(err, "role update")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *RoleStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND NOT is_system`, id)
	if err != nil {
		return mapError(err, "role delete")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *RoleStore) FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	r, err := scanRole(s.pool.QueryRow(ctx, `SELECT`+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "role lookup")
	}
	return r, nil
}

func (s *RoleStore) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*model.Role, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT`+roleColumns+` FROM roles WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, mapError(err, "role listing")
	}
	defer rows.Close()

	var out []*model.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, mapError(err, "role scan")
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err(), "role listing")
}

func (s *RoleStore) FindByName(ctx context.Context, tenantID uuid.UUID, name string) (*model.Role, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	r, err := scanRole(s.pool.QueryRow(ctx,
		`SELECT`+roleColumns+` FROM roles WHERE tenant_id = $1 AND name = $2`, tenantID, name))
	if err != nil {
		return nil, mapError(err, "role lookup")
	}
	return r, nil
}

func (s *RoleStore) GetUserRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]*model.RoleAssignment, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT role_id, user_id, tenant_id, granted_at, expires_at, revoked_at
		FROM role_assignments WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	if err != nil {
		return nil, mapError(err, "assignment lookup")
	}
	defer rows.Close()

	var out []*model.RoleAssignment
	for rows.Next() {
		var a model.RoleAssignment
		if err := rows.Scan(&a.RoleID, &a.UserID, &a.TenantID, &a.GrantedAt, &a.ExpiresAt, &a.RevokedAt); err != nil {
			return nil, mapError(err, "assignment scan")
		}
		out = append(out, &a)
	}
	return out, mapError(rows.Err(), "assignment lookup")
}

func (s *RoleStore) GetRolePermissions(ctx context.Context, roleID uuid.UUID) ([]*model.RolePermission, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT role_id, permission, granted, conditions
		FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, mapError(err, "permission lookup")
	}
	defer rows.Close()

	var out []*model.RolePermission
	for rows.Next() {
		var p model.RolePermission
		var conditions []byte
		if err := rows.Scan(&p.RoleID, &p.Permission, &p.Granted, &conditions); err != nil {
			return nil, mapError(err, "permission scan")
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
				return nil, apperr.Wrap(err, apperr.KindDatabase, "corrupt conditions")
			}
		}
		out = append(out, &p)
	}
	return out, mapError(rows.Err(), "permission lookup")
}
