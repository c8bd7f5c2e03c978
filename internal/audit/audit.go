// Package audit records security events from the critical paths. Emission
// is fire-and-forget: a full buffer drops the event and counts the drop,
// it never blocks or fails the originating operation.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names the event. Values are stable identifiers for aggregators.
type Action string

const (
	ActionUserRegistered  Action = "user.registered"
	ActionLoginSuccess    Action = "auth.login.success"
	ActionLoginFailed     Action = "auth.login.failed"
	ActionLockout         Action = "auth.lockout"
	ActionLogout          Action = "auth.logout"
	ActionTokenBreach     Action = "token.family_breach"
	ActionTokenRevoked    Action = "token.revoked"
	ActionPasswordChanged Action = "user.password_changed"
	ActionStatusChanged   Action = "user.status_changed"
	ActionSessionRevoked  Action = "session.revoked"
	ActionMFAEnrolled     Action = "mfa.enrolled"
	ActionMFAVerified     Action = "mfa.verified"
	ActionAccessDenied    Action = "authz.denied"
	ActionPasskeyEnrolled Action = "passkey.enrolled"
)

// Event is one audit record.
type Event struct {
	Action    Action
	ActorID   uuid.UUID
	TargetID  uuid.UUID
	TenantID  uuid.UUID
	IP        string
	Timestamp time.Time
	Metadata  map[string]any
}

// Security reports whether the event belongs to the breach class that is
// mirrored to the error tracker.
func (e Event) Security() bool {
	switch e.Action {
	case ActionTokenBreach, ActionLockout:
		return true
	}
	return false
}

// Sink receives events. Implementations must never block the caller.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards everything; used in tests that don't assert on audit.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
