package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserStore is the pgx-backed UserStore.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `
	id, tenant_id, email, phone, password_hash, password_changed_at,
	failed_attempts, locked_until, last_login_at, last_login_ip,
	mfa_enabled, mfa_secret, risk_score, status, deleted_at,
	created_at, updated_at`

func (s *UserStore) scanUser(row interface{ Scan(dest ...any) error }) (*model.User, error) {
	var u model.User
	var phone, passwordHash, lastLoginIP, mfaSecret *string
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &phone, &passwordHash, &u.PasswordChangedAt,
		&u.FailedAttempts, &u.LockedUntil, &u.LastLoginAt, &lastLoginIP,
		&u.MFAEnabled, &mfaSecret, &u.RiskScore, &u.Status, &u.DeletedAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		u.Phone = *phone
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	if lastLoginIP != nil {
		u.LastLoginIP = *lastLoginIP
	}
	if mfaSecret != nil {
		u.MFASecret = *mfaSecret
	}
	return &u, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string, tenantID uuid.UUID) (*model.User, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT`+userColumns+` FROM users WHERE lower(email) = lower($1) AND tenant_id = $2 AND deleted_at IS NULL`,
		strings.TrimSpace(email), tenantID)
	u, err := s.scanUser(row)
	if err != nil {
		return nil, mapError(err, "user lookup by email")
	}
	return u, nil
}

func (s *UserStore) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT`+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	u, err := s.scanUser(row)
	if err != nil {
		return nil, mapError(err, "user lookup by id")
	}
	return u, nil
}

func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (
			id, tenant_id, email, phone, password_hash, password_changed_at,
			failed_attempts, mfa_enabled, risk_score, status, created_at, updated_at
		) VALUES ($1, $2, lower($3), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.TenantID, user.Email, user.Phone, user.PasswordHash, user.PasswordChangedAt,
		user.FailedAttempts, user.MFAEnabled, user.RiskScore, user.Status, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "user insert")
	}
	if user.PasswordHash != "" {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO password_history (user_id, password_hash, created_at) VALUES ($1, $2, $3)`,
			user.ID, user.PasswordHash, user.CreatedAt)
		if err != nil {
			return mapError(err, "history insert")
		}
	}
	return nil
}

func (s *UserStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.UserStatus) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return mapError(err, "status update")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// IncrementFailedAttempts is a single atomic statement; the returned
// value is the post-increment counter the lock decision runs on.
func (s *UserStore) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET failed_attempts = failed_attempts + 1, updated_at = now()
		 WHERE id = $1 RETURNING failed_attempts`, id).Scan(&n)
	if err != nil {
		return 0, mapError(err, "failed attempt increment")
	}
	return n, nil
}

func (s *UserStore) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = now() WHERE id = $1`, id)
	return mapError(err, "failed attempt reset")
}

func (s *UserStore) RecordLogin(ctx context.Context, id uuid.UUID, ip string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE users SET last_login_at = now(), last_login_ip = NULLIF($2, ''),
			failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1`, id, ip)
	return mapError(err, "login accounting")
}

func (s *UserStore) SetLockedUntil(ctx context.Context, id uuid.UUID, until time.Time) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`UPDATE users SET locked_until = $2, updated_at = now() WHERE id = $1`, id, until)
	return mapError(err, "lockout write")
}

func (s *UserStore) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError(err, "password update")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE users SET password_hash = $2, password_changed_at = $3, updated_at = now() WHERE id = $1`,
		id, hash, changedAt)
	if err != nil {
		return mapError(err, "password update")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO password_history (user_id, password_hash, created_at) VALUES ($1, $2, $3)`,
		id, hash, changedAt)
	if err != nil {
		return mapError(err, "history insert")
	}
	return mapError(tx.Commit(ctx), "password update")
}

func (s *UserStore) PasswordHistory(ctx context.Context, id uuid.UUID, limit int) ([]string, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT password_hash FROM password_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		id, limit)
	if err != nil {
		return nil, mapError(err, "history lookup")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, mapError(err, "history scan")
		}
		out = append(out, h)
	}
	return out, mapError(rows.Err(), "history lookup")
}

func (s *UserStore) SetMFA(ctx context.Context, id uuid.UUID, enabled bool, secret string, backupCodeHashes []string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError(err, "mfa update")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE users SET mfa_enabled = $2, mfa_secret = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		id, enabled, secret)
	if err != nil {
		return mapError(err, "mfa update")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, id); err != nil {
		return mapError(err, "backup code reset")
	}
	for _, h := range backupCodeHashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (user_id, code_hash, created_at) VALUES ($1, $2, now())`,
			id, h); err != nil {
			return mapError(err, "backup code insert")
		}
	}
	return mapError(tx.Commit(ctx), "mfa update")
}

func (s *UserStore) ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`, id, codeHash)
	if err != nil {
		return false, mapError(err, "backup code consume")
	}
	return tag.RowsAffected() > 0, nil
}
