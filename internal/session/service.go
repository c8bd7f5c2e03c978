// Package session binds an authenticated principal to a device and
// network context, with risk-gated creation and an absolute lifetime.
package session

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/risk"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/clearpathsec/bastion/internal/token"
	"github.com/google/uuid"
)

// criticalScore is the assessment score at which session creation is
// denied outright.
const criticalScore = 0.9

// Config carries the session parameters.
type Config struct {
	TTL time.Duration
	// MaxPerUser caps concurrent sessions; exceeding it evicts the
	// oldest. Zero disables the cap.
	MaxPerUser int
}

// DefaultConfig is a 60-minute absolute lifetime with a cap of 5.
func DefaultConfig() Config {
	return Config{TTL: 60 * time.Minute, MaxPerUser: 5}
}

// Result pairs the persisted session with the plaintext token handed to
// the caller exactly once.
type Result struct {
	Session *model.Session
	Token   string
}

// Service creates, validates and revokes sessions.
type Service struct {
	cfg      Config
	sessions store.SessionStore
	engine   *risk.Engine
	clock    store.Clock
	rand     store.RandomSource
	log      *slog.Logger
}

func NewService(cfg Config, sessions store.SessionStore, engine *risk.Engine, clock store.Clock, rand store.RandomSource, log *slog.Logger) *Service {
	return &Service{cfg: cfg, sessions: sessions, engine: engine, clock: clock, rand: rand, log: log}
}

// Create assesses the risk context and persists a new session unless the
// score is critical. No session row is written on denial.
func (s *Service) Create(ctx context.Context, user *model.User, rc risk.Context) (*Result, error) {
	assessment := s.engine.Assess(rc)
	if assessment.Score >= criticalScore {
		s.log.Warn("session_denied_critical_risk",
			"user_id", user.ID,
			"tenant_id", user.TenantID,
			"score", assessment.Score,
			"signals", assessment.Signals,
		)
		return nil, apperr.AuthorizationDenied("", "session", "session creation blocked by risk policy")
	}

	if s.cfg.MaxPerUser > 0 {
		if err := s.evictOverCap(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	raw, err := s.rand.Bytes(32)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindCrypto, "entropy source failed")
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	now := s.clock.Now()
	session := &model.Session{
		ID:           s.rand.UUID(),
		TokenHash:    token.HashToken(plaintext),
		UserID:       user.ID,
		TenantID:     user.TenantID,
		Fingerprint:  rc.DeviceFingerprint,
		UserAgent:    rc.UserAgent,
		IP:           rc.IP,
		RiskScore:    assessment.Score,
		LastActivity: now,
		ExpiresAt:    now.Add(s.cfg.TTL),
		CreatedAt:    now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "failed to store session")
	}

	return &Result{Session: session, Token: plaintext}, nil
}

// evictOverCap deletes oldest sessions until one slot is free.
func (s *Service) evictOverCap(ctx context.Context, userID uuid.UUID) error {
	existing, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "session listing failed")
	}
	for len(existing) >= s.cfg.MaxPerUser {
		oldest := existing[0]
		if err := s.sessions.Delete(ctx, oldest.TokenHash); err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "session eviction failed")
		}
		s.log.Info("session_evicted", "user_id", userID, "session_id", oldest.ID)
		existing = existing[1:]
	}
	return nil
}

// Validate loads the session by token, enforces expiry and fingerprint
// binding, and slides the activity timestamp. A fingerprint mismatch
// fails validation but does not revoke; re-auth policy lives above.
func (s *Service) Validate(ctx context.Context, plaintext, currentFingerprint string) (*model.Session, error) {
	hash := token.HashToken(plaintext)
	session, err := s.sessions.Get(ctx, hash)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.ErrUnauthorized
		}
		return nil, apperr.Wrap(err, apperr.KindDatabase, "session lookup failed")
	}

	now := s.clock.Now()
	if session.Expired(now) {
		if err := s.sessions.Delete(ctx, hash); err != nil {
			s.log.Warn("expired_session_delete_failed", "session_id", session.ID, "error", err)
		}
		return nil, apperr.ErrUnauthorized
	}

	if session.Fingerprint != "" && session.Fingerprint != currentFingerprint {
		s.log.Warn("session_fingerprint_mismatch",
			"session_id", session.ID,
			"user_id", session.UserID,
		)
		return nil, apperr.ErrUnauthorized
	}

	if err := s.sessions.Touch(ctx, hash, now); err != nil {
		s.log.Warn("session_touch_failed", "session_id", session.ID, "error", err)
	}
	session.LastActivity = now
	return session, nil
}

// Revoke deletes the one session the token identifies.
func (s *Service) Revoke(ctx context.Context, plaintext string) error {
	if err := s.sessions.Delete(ctx, token.HashToken(plaintext)); err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil
		}
		return apperr.Wrap(err, apperr.KindDatabase, "session delete failed")
	}
	return nil
}

// RevokeAll deletes every session owned by the user. Invoked on password
// change, suspension, or an external breach signal.
func (s *Service) RevokeAll(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindDatabase, "session purge failed")
	}
	return n, nil
}
