package model

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus is the lifecycle state of a principal.
type UserStatus string

const (
	UserStatusActive              UserStatus = "active"
	UserStatusSuspended           UserStatus = "suspended"
	UserStatusDeleted             UserStatus = "deleted"
	UserStatusPendingVerification UserStatus = "pending_verification"
)

// User is the principal aggregate. PasswordHash, MFASecret and
// BackupCodeHashes are secrets: they stay inside the credential path and
// never cross a trust boundary. External callers get Redacted().
type User struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Email             string // canonical lowercase, unique per tenant
	Phone             string
	PasswordHash      string // empty for federated-only accounts
	PasswordChangedAt time.Time
	FailedAttempts    int
	LockedUntil       *time.Time
	LastLoginAt       *time.Time
	LastLoginIP       string
	MFAEnabled        bool
	MFASecret         string
	BackupCodeHashes  []string
	RiskScore         float64 // [0,1]
	Status            UserStatus
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanAuthenticate reports whether the principal may attempt a login at
// the given instant. Only Active users that are not locked out qualify.
func (u *User) CanAuthenticate(now time.Time) bool {
	if u.Status != UserStatusActive {
		return false
	}
	if u.LockedUntil != nil && u.LockedUntil.After(now) {
		return false
	}
	return true
}

// PublicUser is the view of a user safe to hand to external callers.
type PublicUser struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	MFAEnabled  bool       `json:"mfa_enabled"`
	Status      UserStatus `json:"status"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Redacted strips every secret field from the aggregate.
func (u *User) Redacted() PublicUser {
	return PublicUser{
		ID:          u.ID,
		TenantID:    u.TenantID,
		Email:       u.Email,
		Phone:       u.Phone,
		MFAEnabled:  u.MFAEnabled,
		Status:      u.Status,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}
