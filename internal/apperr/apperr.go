// Package apperr defines the closed error taxonomy the core surfaces.
// Every error carries enough structured context to be logged, but never
// enough to become a side channel at the authentication boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error. The set is closed: services may only surface
// these kinds across the core boundary.
type Kind string

const (
	KindInvalidCredentials  Kind = "INVALID_CREDENTIALS"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindAuthorizationDenied Kind = "AUTHORIZATION_DENIED"
	KindTokenExpired        Kind = "TOKEN_EXPIRED"
	KindTokenInvalid        Kind = "TOKEN_INVALID"
	KindTokenRevoked        Kind = "TOKEN_REVOKED"
	KindPolicyViolation     Kind = "POLICY_VIOLATION"
	KindQuotaExceeded       Kind = "QUOTA_EXCEEDED"
	KindFeatureNotAvailable Kind = "FEATURE_NOT_AVAILABLE"
	KindConflict            Kind = "CONFLICT"
	KindValidation          Kind = "VALIDATION"
	KindCrypto              Kind = "CRYPTO"
	KindDatabase            Kind = "DATABASE"
	KindNotFound            Kind = "NOT_FOUND"
)

// Error is the one concrete error type the core produces.
type Error struct {
	Kind    Kind
	Message string
	// Details carries structured context (resource, limit, policy errors).
	// It is log material, never response material at the auth boundary.
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match any two errors of the same Kind, so callers can
// compare against the exported sentinels without reconstructing details.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates an underlying failure with a kind. Returns nil for nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from any error in the chain.
// Unrecognized errors report KindDatabase: an unclassified failure deep in
// a store must not be mistaken for an authentication verdict.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDatabase
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Sentinels for errors.Is comparisons. Services return richer instances;
// these exist so call sites read naturally.
var (
	ErrInvalidCredentials  = New(KindInvalidCredentials, "invalid email or password")
	ErrUnauthorized        = New(KindUnauthorized, "account cannot authenticate")
	ErrAuthorizationDenied = New(KindAuthorizationDenied, "permission denied")
	ErrTokenExpired        = New(KindTokenExpired, "token has expired")
	ErrTokenInvalid        = New(KindTokenInvalid, "invalid token")
	ErrTokenRevoked        = New(KindTokenRevoked, "token has been revoked")
	ErrNotFound            = New(KindNotFound, "not found")
	ErrConflict            = New(KindConflict, "resource already exists")
)

// PolicyViolation builds the password-policy failure carrying every rule
// the candidate broke.
func PolicyViolation(violations []string) *Error {
	return New(KindPolicyViolation, "password does not meet policy").
		WithDetail("errors", violations)
}

// QuotaExceeded builds the soft quota failure.
func QuotaExceeded(resource string, limit, current int64) *Error {
	return New(KindQuotaExceeded, "quota exceeded").
		WithDetail("resource", resource).
		WithDetail("limit", limit).
		WithDetail("current", current)
}

// FeatureNotAvailable builds the plan-gate failure.
func FeatureNotAvailable(feature string) *Error {
	return New(KindFeatureNotAvailable, "feature not available on current plan").
		WithDetail("feature", feature)
}

// AuthorizationDenied builds an RBAC/ABAC denial. The reason must stay
// stable for audit logs without revealing which permission matched.
func AuthorizationDenied(permission, resource, reason string) *Error {
	return New(KindAuthorizationDenied, reason).
		WithDetail("permission", permission).
		WithDetail("resource", resource)
}
