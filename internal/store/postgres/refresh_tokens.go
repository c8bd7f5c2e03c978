package postgres

import (
	"context"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshTokenStore is the pgx-backed RefreshTokenStore.
type RefreshTokenStore struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenStore(pool *pgxpool.Pool) *RefreshTokenStore {
	return &RefreshTokenStore{pool: pool}
}

const refreshColumns = `
	id, user_id, tenant_id, family, token_hash, fingerprint, user_agent,
	ip_address, expires_at, revoked_at, revoked_reason, created_at`

func scanRefreshToken(row pgx.Row) (*model.RefreshToken, error) {
	var t model.RefreshToken
	var fingerprint, userAgent, ip, reason *string
	err := row.Scan(
		&t.ID, &t.UserID, &t.TenantID, &t.Family, &t.TokenHash, &fingerprint, &userAgent,
		&ip, &t.ExpiresAt, &t.RevokedAt, &reason, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if fingerprint != nil {
		t.Fingerprint = *fingerprint
	}
	if userAgent != nil {
		t.UserAgent = *userAgent
	}
	if ip != nil {
		t.IP = *ip
	}
	if reason != nil {
		t.RevokedReason = *reason
	}
	return &t, nil
}

func (s *RefreshTokenStore) Create(ctx context.Context, token *model.RefreshToken) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, user_id, tenant_id, family, token_hash, fingerprint, user_agent,
			ip_address, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		token.ID, token.UserID, token.TenantID, token.Family, token.TokenHash,
		token.Fingerprint, token.UserAgent, token.IP, token.ExpiresAt, token.CreatedAt,
	)
	return mapError(err, "refresh token insert")
}

func (s *RefreshTokenStore) FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT`+refreshColumns+` FROM refresh_tokens WHERE token_hash = $1`, hash)
	t, err := scanRefreshToken(row)
	if err != nil {
		return nil, mapError(err, "refresh token lookup")
	}
	return t, nil
}

func (s *RefreshTokenStore) FindByFamily(ctx context.Context, family uuid.UUID) ([]*model.RefreshToken, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT`+refreshColumns+` FROM refresh_tokens WHERE family = $1 ORDER BY created_at`, family)
	if err != nil {
		return nil, mapError(err, "family lookup")
	}
	defer rows.Close()

	var out []*model.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, mapError(err, "family scan")
		}
		out = append(out, t)
	}
	return out, mapError(rows.Err(), "family lookup")
}

func (s *RefreshTokenStore) Revoke(ctx context.Context, tokenID uuid.UUID, reason string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now(), revoked_reason = $2
		WHERE id = $1 AND revoked_at IS NULL`, tokenID, reason)
	return mapError(err, "refresh token revoke")
}

func (s *RefreshTokenStore) RevokeFamily(ctx context.Context, family uuid.UUID, reason string) (int, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now(), revoked_reason = $2
		WHERE family = $1 AND revoked_at IS NULL`, family, reason)
	if err != nil {
		return 0, mapError(err, "family revoke")
	}
	return int(tag.RowsAffected()), nil
}

func (s *RefreshTokenStore) RevokeByUser(ctx context.Context, userID, tenantID uuid.UUID, reason string) (int, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now(), revoked_reason = $3
		WHERE user_id = $1 AND tenant_id = $2 AND revoked_at IS NULL`, userID, tenantID, reason)
	if err != nil {
		return 0, mapError(err, "user revoke")
	}
	return int(tag.RowsAffected()), nil
}

// Rotate revokes the old token and inserts its successor in a single
// transaction; commit is the last step so a cancelled rotation leaves the
// old token live. The guarded UPDATE makes concurrent rotations of the
// same token collide: the loser's zero-row update aborts its insert.
func (s *RefreshTokenStore) Rotate(ctx context.Context, oldID uuid.UUID, reason string, successor *model.RefreshToken) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError(err, "rotation")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now(), revoked_reason = $2
		WHERE id = $1 AND revoked_at IS NULL`, oldID, reason)
	if err != nil {
		return mapError(err, "rotation revoke")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindConflict, "token already rotated")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, user_id, tenant_id, family, token_hash, fingerprint, user_agent,
			ip_address, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		successor.ID, successor.UserID, successor.TenantID, successor.Family, successor.TokenHash,
		successor.Fingerprint, successor.UserAgent, successor.IP, successor.ExpiresAt, successor.CreatedAt,
	)
	if err != nil {
		return mapError(err, "rotation insert")
	}
	return mapError(tx.Commit(ctx), "rotation commit")
}

func (s *RefreshTokenStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapError(err, "refresh cleanup")
	}
	return int(tag.RowsAffected()), nil
}
