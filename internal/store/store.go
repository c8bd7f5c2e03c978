// Package store declares the narrow persistence contracts the core
// consumes. Services hold these interfaces, never concrete store types;
// postgres, redis and in-memory implementations live in subpackages.
package store

import (
	"context"
	"time"

	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
)

// UserStore persists principals. Email comparison is case-insensitive
// and writes store the canonical lowercase form. (email, tenant_id) is
// unique.
type UserStore interface {
	FindByEmail(ctx context.Context, email string, tenantID uuid.UUID) (*model.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.UserStatus) error
	// IncrementFailedAttempts is a single atomic operation returning the
	// post-increment value; the lock decision is made on that value.
	IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error
	// RecordLogin updates last login timestamp and IP, zeroes the failure
	// counter and clears any lockout.
	RecordLogin(ctx context.Context, id uuid.UUID, ip string) error
	SetLockedUntil(ctx context.Context, id uuid.UUID, until time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error
	PasswordHistory(ctx context.Context, id uuid.UUID, limit int) ([]string, error)
	SetMFA(ctx context.Context, id uuid.UUID, enabled bool, secret string, backupCodeHashes []string) error
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error)
}

// RefreshTokenStore persists refresh-token records. token_hash is unique.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	FindByFamily(ctx context.Context, family uuid.UUID) ([]*model.RefreshToken, error)
	Revoke(ctx context.Context, tokenID uuid.UUID, reason string) error
	// RevokeFamily marks every token in the family revoked, returning the
	// number of rows touched.
	RevokeFamily(ctx context.Context, family uuid.UUID, reason string) (int, error)
	RevokeByUser(ctx context.Context, userID, tenantID uuid.UUID, reason string) (int, error)
	// Rotate atomically revokes old and inserts its successor. Commit is
	// the last step: a cancelled rotation must never leave the old token
	// revoked without its successor persisted.
	Rotate(ctx context.Context, oldID uuid.UUID, reason string, successor *model.RefreshToken) error
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// RevokedAccessTokenStore is the access-token blacklist, keyed by jti,
// plus the per-user revoked-after watermark used for user-wide
// revocation.
type RevokedAccessTokenStore interface {
	Add(ctx context.Context, entry *model.RevokedAccessToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// SetUserWatermark records that every access token for (user, tenant)
	// issued at or before the instant is revoked. ttl bounds retention to
	// the access-token lifetime.
	SetUserWatermark(ctx context.Context, userID, tenantID uuid.UUID, revokedAfter time.Time, ttl time.Duration) error
	UserWatermark(ctx context.Context, userID, tenantID uuid.UUID) (time.Time, bool, error)
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, tokenHash string) (*model.Session, error)
	Delete(ctx context.Context, tokenHash string) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)
	// ListByUser returns the user's sessions ordered oldest first, so the
	// concurrent-session cap can evict deterministically.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Session, error)
	Touch(ctx context.Context, tokenHash string, now time.Time) error
}

// RoleStore persists roles, assignments and permission rows.
// (tenant_id, name) is unique.
type RoleStore interface {
	Create(ctx context.Context, role *model.Role) error
	Update(ctx context.Context, role *model.Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*model.Role, error)
	FindByName(ctx context.Context, tenantID uuid.UUID, name string) (*model.Role, error)
	GetUserRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]*model.RoleAssignment, error)
	GetRolePermissions(ctx context.Context, roleID uuid.UUID) ([]*model.RolePermission, error)
}

// SubscriptionStore persists tenant subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *model.TenantSubscription) error
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*model.TenantSubscription, error)
	// IncrementUsage atomically adds delta to the tenant's usage counter
	// for the resource; concurrent calls must both be reflected.
	IncrementUsage(ctx context.Context, tenantID uuid.UUID, resource string, delta int64) error
}

// PasskeyStore persists WebAuthn credentials.
type PasskeyStore interface {
	Save(ctx context.Context, passkey *model.Passkey) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Passkey, error)
}
