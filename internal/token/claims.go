package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims defines the access-token payload.
type AccessClaims struct {
	UserID      uuid.UUID `json:"sub"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Introspection is the OAuth-style view of a token: raw claim values plus
// whether full validation would succeed. Used by operator tooling, never
// by the auth path.
type Introspection struct {
	Active    bool     `json:"active"`
	Subject   string   `json:"sub,omitempty"`
	TenantID  string   `json:"tenant_id,omitempty"`
	JTI       string   `json:"jti,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}
