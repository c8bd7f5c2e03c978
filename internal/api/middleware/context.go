package middleware

import (
	"context"
	"errors"

	"github.com/clearpathsec/bastion/internal/token"
	"github.com/google/uuid"
)

type contextKey string

const (
	claimsKey contextKey = "claims"
)

var errNoClaims = errors.New("no claims in context")

// WithClaims injects validated access-token claims into the request
// context.
func WithClaims(ctx context.Context, claims *token.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts the claims set by AuthMiddleware.
func GetClaims(ctx context.Context) (*token.AccessClaims, error) {
	claims, ok := ctx.Value(claimsKey).(*token.AccessClaims)
	if !ok || claims == nil {
		return nil, errNoClaims
	}
	return claims, nil
}

// GetUserID extracts the authenticated user id.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	claims, err := GetClaims(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}
