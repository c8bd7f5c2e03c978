// Package identity implements the registration and login use cases; it is
// the only component that touches credential, token, session and risk in
// a single operation.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/audit"
	"github.com/clearpathsec/bastion/internal/credential"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/risk"
	"github.com/clearpathsec/bastion/internal/session"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/clearpathsec/bastion/internal/token"
	"github.com/google/uuid"
)

// Config carries the identity-level thresholds.
type Config struct {
	// MFAThreshold is the risk score at or above which a login demands
	// MFA even without enrollment.
	MFAThreshold float64
}

// DefaultConfig matches the platform defaults.
func DefaultConfig() Config {
	return Config{MFAThreshold: 0.7}
}

// ClaimsResolver supplies roles and permissions for token claims;
// typically the authorization engine.
type ClaimsResolver interface {
	ResolveClaims(ctx context.Context, userID, tenantID uuid.UUID) (roles, permissions []string, err error)
}

// Service orchestrates the authentication flow. It is agnostic of the
// HTTP transport and of the storage engine.
type Service struct {
	cfg         Config
	users       store.UserStore
	credentials *credential.Service
	tokens      *token.Service
	sessions    *session.Service
	engine      *risk.Engine
	resolver    ClaimsResolver
	passkeys    store.PasskeyStore
	clock       store.Clock
	rand        store.RandomSource
	audit       audit.Sink
	log         *slog.Logger
}

func NewService(
	cfg Config,
	users store.UserStore,
	credentials *credential.Service,
	tokens *token.Service,
	sessions *session.Service,
	engine *risk.Engine,
	resolver ClaimsResolver,
	passkeys store.PasskeyStore,
	clock store.Clock,
	rand store.RandomSource,
	auditSink audit.Sink,
	log *slog.Logger,
) *Service {
	return &Service{
		cfg:         cfg,
		users:       users,
		credentials: credentials,
		tokens:      tokens,
		sessions:    sessions,
		engine:      engine,
		resolver:    resolver,
		passkeys:    passkeys,
		clock:       clock,
		rand:        rand,
		audit:       auditSink,
		log:         log,
	}
}

// RegisterInput defines the data needed to register a new user.
type RegisterInput struct {
	Email    string
	Password string
	Phone    string
}

// Register creates a principal in PendingVerification. The email is
// canonicalized; uniqueness is per tenant.
func (s *Service) Register(ctx context.Context, input RegisterInput, tenantID uuid.UUID) (*model.User, error) {
	email := CanonicalEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.KindValidation, "a valid email is required")
	}
	if tenantID == uuid.Nil {
		return nil, apperr.New(apperr.KindValidation, "tenant id is required")
	}
	if input.Password == "" {
		return nil, apperr.New(apperr.KindValidation, "a password is required")
	}

	if _, err := s.credentials.Validate(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, email, tenantID); err == nil {
		return nil, apperr.New(apperr.KindConflict, "email already registered").
			WithDetail("email", email)
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}

	hash, err := s.credentials.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &model.User{
		ID:                s.rand.UUID(),
		TenantID:          tenantID,
		Email:             email,
		Phone:             input.Phone,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		Status:            model.UserStatusPendingVerification,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return nil, apperr.New(apperr.KindConflict, "email already registered")
		}
		return nil, apperr.Wrap(err, apperr.KindDatabase, "user creation failed")
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionUserRegistered,
		ActorID:  user.ID,
		TargetID: user.ID,
		TenantID: tenantID,
		Metadata: map[string]any{"method": "password"},
	})

	return user, nil
}

// LoginInput defines the credentials and device context for login. The
// risk fields feed the engine verbatim; PreviousLogins is the caller's
// recent-attempt history.
type LoginInput struct {
	Email       string
	Password    string
	TenantID    uuid.UUID
	IP          string
	UserAgent   string
	Fingerprint string
	Geolocation *risk.Geolocation
	// LocalHour is the caller-resolved local hour; negative when unknown.
	LocalHour      int
	PreviousLogins []risk.LoginAttempt
}

// AuthResponse contains everything a successful login returns. Secrets
// are already stripped from User.
type AuthResponse struct {
	User            model.PublicUser
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	SessionToken    string
	RequiresMFA     bool
	RiskScore       float64
}

// Login authenticates a principal. Every failure at the credential
// boundary collapses into InvalidCredentials; status and lockout surface
// as Unauthorized.
func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	email := CanonicalEmail(input.Email)
	user, err := s.users.FindByEmail(ctx, email, input.TenantID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			// No such user is indistinguishable from a bad password.
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}

	now := s.clock.Now()
	if !user.CanAuthenticate(now) {
		resp := apperr.New(apperr.KindUnauthorized, "account cannot authenticate")
		if user.LockedUntil != nil && user.LockedUntil.After(now) {
			resp = resp.WithDetail("locked_until", user.LockedUntil.UTC())
		}
		return nil, resp
	}

	if user.PasswordHash == "" || !s.credentials.Verify(input.Password, user.PasswordHash) {
		return nil, s.recordFailure(ctx, user, input.IP)
	}

	if err := s.users.RecordLogin(ctx, user.ID, input.IP); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "login accounting failed")
	}

	return s.establish(ctx, user, input, "password")
}

// recordFailure counts a failed attempt atomically and locks the account
// at the threshold. Always returns InvalidCredentials.
func (s *Service) recordFailure(ctx context.Context, user *model.User, ip string) error {
	n, err := s.users.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		s.log.Error("failed_attempt_accounting_failed", "user_id", user.ID, "error", err)
		return apperr.ErrInvalidCredentials
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionLoginFailed,
		ActorID:  user.ID,
		TargetID: user.ID,
		TenantID: user.TenantID,
		IP:       ip,
		Metadata: map[string]any{"failed_attempts": n},
	})

	if s.credentials.ShouldLock(n) {
		until := s.credentials.UnlockAt()
		if err := s.users.SetLockedUntil(ctx, user.ID, until); err != nil {
			s.log.Error("lockout_write_failed", "user_id", user.ID, "error", err)
		} else {
			s.audit.Emit(ctx, audit.Event{
				Action:   audit.ActionLockout,
				ActorID:  user.ID,
				TargetID: user.ID,
				TenantID: user.TenantID,
				IP:       ip,
				Metadata: map[string]any{"locked_until": until.UTC(), "failed_attempts": n},
			})
		}
	}

	return apperr.ErrInvalidCredentials
}

// establish runs the post-verification steps shared by password and MFA
// logins: risk-gated session, claims, token pair, MFA flag.
func (s *Service) establish(ctx context.Context, user *model.User, input LoginInput, method string) (*AuthResponse, error) {
	rc := risk.Context{
		UserID:            user.ID,
		TenantID:          user.TenantID,
		IP:                input.IP,
		UserAgent:         input.UserAgent,
		DeviceFingerprint: input.Fingerprint,
		Geolocation:       input.Geolocation,
		LocalHour:         input.LocalHour,
		PreviousLogins:    input.PreviousLogins,
		Timestamp:         s.clock.Now(),
	}
	sess, err := s.sessions.Create(ctx, user, rc)
	if err != nil {
		return nil, err
	}

	var roles, permissions []string
	if s.resolver != nil {
		roles, permissions, err = s.resolver.ResolveClaims(ctx, user.ID, user.TenantID)
		if err != nil {
			s.log.Warn("claims_resolution_failed", "user_id", user.ID, "error", err)
			roles, permissions = nil, nil
		}
	}

	access, accessExp, err := s.tokens.IssueAccess(user.ID, user.TenantID, roles, permissions)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(ctx, user.ID, user.TenantID, input.Fingerprint, input.UserAgent, input.IP)
	if err != nil {
		return nil, err
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionLoginSuccess,
		ActorID:  user.ID,
		TargetID: user.ID,
		TenantID: user.TenantID,
		IP:       input.IP,
		Metadata: map[string]any{"method": method, "risk_score": sess.Session.RiskScore},
	})

	return &AuthResponse{
		User:            user.Redacted(),
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    refresh,
		SessionToken:    sess.Token,
		RequiresMFA:     user.MFAEnabled || sess.Session.RiskScore >= s.cfg.MFAThreshold,
		RiskScore:       sess.Session.RiskScore,
	}, nil
}

// Ban suspends the principal and tears down every credential derived
// from past logins.
func (s *Service) Ban(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.ErrNotFound
		}
		return apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}

	if !model.CanTransitionUserStatus(user.Status, model.UserStatusSuspended) {
		return apperr.New(apperr.KindConflict, "status transition not allowed").
			WithDetail("from", user.Status)
	}
	if err := s.users.UpdateStatus(ctx, userID, model.UserStatusSuspended); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "status update failed")
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	if err := s.tokens.RevokeUser(ctx, userID, user.TenantID, model.RevokeReasonAdmin); err != nil {
		return err
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionStatusChanged,
		TargetID: userID,
		TenantID: user.TenantID,
		Metadata: map[string]any{"status": model.UserStatusSuspended},
	})
	return nil
}

// Activate sets the principal Active (verification or un-suspension).
func (s *Service) Activate(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.ErrNotFound
		}
		return apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}

	if !model.CanTransitionUserStatus(user.Status, model.UserStatusActive) {
		return apperr.New(apperr.KindConflict, "status transition not allowed").
			WithDetail("from", user.Status)
	}
	if err := s.users.UpdateStatus(ctx, userID, model.UserStatusActive); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "status update failed")
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionStatusChanged,
		TargetID: userID,
		TenantID: user.TenantID,
		Metadata: map[string]any{"status": model.UserStatusActive},
	})
	return nil
}

// ChangePassword verifies the current password, enforces minimum age and
// history, writes the new hash and revokes every session and token.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.ErrInvalidCredentials
		}
		return apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}

	if user.PasswordHash == "" || !s.credentials.Verify(oldPassword, user.PasswordHash) {
		return apperr.ErrInvalidCredentials
	}

	if !s.credentials.ChangeAllowed(user.PasswordChangedAt) {
		return apperr.New(apperr.KindPolicyViolation, "password was changed too recently")
	}
	if _, err := s.credentials.Validate(newPassword); err != nil {
		return err
	}

	history, err := s.users.PasswordHistory(ctx, userID, s.credentials.Policy().HistoryCount)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "history lookup failed")
	}
	if s.credentials.IsInHistory(newPassword, history) {
		return apperr.PolicyViolation([]string{"must not reuse a recent password"})
	}

	hash, err := s.credentials.Hash(newPassword)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.users.UpdatePassword(ctx, userID, hash, now); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "password update failed")
	}

	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	if err := s.tokens.RevokeUser(ctx, userID, user.TenantID, model.RevokeReasonPasswordChange); err != nil {
		return err
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionPasswordChanged,
		ActorID:  userID,
		TargetID: userID,
		TenantID: user.TenantID,
		Metadata: map[string]any{"revoked_all_sessions": true},
	})
	return nil
}

// Logout revokes the presented refresh token's family and the session.
func (s *Service) Logout(ctx context.Context, refreshToken, sessionToken string) error {
	if err := s.tokens.RevokeRefresh(ctx, refreshToken, model.RevokeReasonLogout); err != nil {
		return err
	}
	if sessionToken != "" {
		if err := s.sessions.Revoke(ctx, sessionToken); err != nil {
			return err
		}
	}
	return nil
}

// CanonicalEmail lowercases and trims an email address; stores always
// hold this form.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
