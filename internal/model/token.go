package model

import (
	"time"

	"github.com/google/uuid"
)

// Revocation reasons shared by refresh tokens and session teardown.
const (
	RevokeReasonRotated        = "rotated"
	RevokeReasonLogout         = "logout"
	RevokeReasonPasswordChange = "password-change"
	RevokeReasonBreach         = "breach"
	RevokeReasonAdmin          = "admin"
)

// RefreshToken is the persisted record of an opaque refresh credential.
// Only the SHA-256 hash of the bearer string is stored; the plaintext is
// returned to the caller exactly once at issuance.
type RefreshToken struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TenantID      uuid.UUID
	Family        uuid.UUID // shared across all rotations from one login
	TokenHash     string    // hex SHA-256 of the plaintext
	Fingerprint   string
	UserAgent     string
	IP            string
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason string
	CreatedAt     time.Time
}

// Revoked reports whether the token has been marked revoked.
func (t *RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// Expired reports whether the token is past its lifetime.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// RevokedAccessToken is a blacklist entry keyed by jti. OriginalExpiry
// lets the store garbage-collect entries once no live token could carry
// that jti.
type RevokedAccessToken struct {
	JTI            string
	UserID         uuid.UUID
	TenantID       uuid.UUID
	RevokedAt      time.Time
	Reason         string
	OriginalExpiry time.Time
}
