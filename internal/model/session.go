package model

import (
	"time"

	"github.com/google/uuid"
)

// Session binds an authenticated principal to a device and network
// context. The lookup key is the SHA-256 hash of the server-generated
// session token.
type Session struct {
	ID           uuid.UUID
	TokenHash    string
	UserID       uuid.UUID
	TenantID     uuid.UUID
	Fingerprint  string
	UserAgent    string
	IP           string
	RiskScore    float64
	LastActivity time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the session is past its absolute lifetime.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Passkey is a registered WebAuthn credential. Material is the serialized
// public-key blob; the core never interprets it.
type Passkey struct {
	CredentialID string
	UserID       uuid.UUID
	Material     []byte
	CreatedAt    time.Time
}
