// Package token mints and verifies RS256 access tokens and manages the
// rotating opaque refresh tokens, including family breach detection and
// the revocation blacklist.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/audit"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const maxClockSkew = 60 * time.Second

// Config carries the immutable token parameters.
type Config struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Skew is the clock tolerance applied to nbf checks, capped at 60s.
	Skew time.Duration
}

// ClaimsResolver supplies the roles and permissions embedded into an
// access token minted during refresh rotation. May be nil; rotation then
// issues tokens with empty claims and authorization loads from store.
type ClaimsResolver interface {
	ResolveClaims(ctx context.Context, userID, tenantID uuid.UUID) (roles, permissions []string, err error)
}

// TokenPair is the result of a login or rotation.
type TokenPair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// Service is the token issuer and verifier.
type Service struct {
	cfg      Config
	keys     *Keyring
	refresh  store.RefreshTokenStore
	revoked  store.RevokedAccessTokenStore
	clock    store.Clock
	rand     store.RandomSource
	resolver ClaimsResolver
	sink     audit.Sink
	log      *slog.Logger
}

func NewService(
	cfg Config,
	keys *Keyring,
	refresh store.RefreshTokenStore,
	revoked store.RevokedAccessTokenStore,
	clock store.Clock,
	rand store.RandomSource,
	resolver ClaimsResolver,
	log *slog.Logger,
) *Service {
	if cfg.Skew <= 0 || cfg.Skew > maxClockSkew {
		cfg.Skew = maxClockSkew
	}
	return &Service{
		cfg:      cfg,
		keys:     keys,
		refresh:  refresh,
		revoked:  revoked,
		clock:    clock,
		rand:     rand,
		resolver: resolver,
		sink:     audit.NopSink{},
		log:      log,
	}
}

// SetAuditSink replaces the default no-op sink. Call before serving.
func (s *Service) SetAuditSink(sink audit.Sink) { s.sink = sink }

// Keys exposes the keyring for JWKS export.
func (s *Service) Keys() *Keyring { return s.keys }

// HashToken is the storage key derivation for opaque bearer strings.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// IssueAccess mints a signed access token for the subject.
func (s *Service) IssueAccess(userID, tenantID uuid.UUID, roles, permissions []string) (string, time.Time, error) {
	if userID == uuid.Nil || tenantID == uuid.Nil {
		return "", time.Time{}, apperr.New(apperr.KindValidation, "subject and tenant are required")
	}
	if s.cfg.Issuer == "" || s.cfg.Audience == "" {
		return "", time.Time{}, apperr.New(apperr.KindValidation, "issuer and audience are required")
	}
	if s.cfg.AccessTTL <= 0 {
		return "", time.Time{}, apperr.New(apperr.KindValidation, "access ttl must be positive")
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	claims := AccessClaims{
		UserID:      userID,
		TenantID:    tenantID,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.rand.UUID().String(),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signer := s.keys.Current()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = signer.KID
	signed, err := tok.SignedString(signer.Private)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(err, apperr.KindCrypto, "failed to sign token")
	}
	return signed, expiresAt, nil
}

// ValidateAccess verifies signature, lifetime, issuer, audience and
// revocation state, returning the claims.
func (s *Service) ValidateAccess(ctx context.Context, tokenString string) (*AccessClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(now) {
		return nil, apperr.ErrTokenExpired
	}
	if claims.NotBefore != nil && claims.NotBefore.After(now.Add(s.cfg.Skew)) {
		return nil, apperr.ErrTokenInvalid
	}
	if claims.Issuer != s.cfg.Issuer {
		return nil, apperr.ErrTokenInvalid
	}
	if !audienceMatches(claims.Audience, s.cfg.Audience) {
		return nil, apperr.ErrTokenInvalid
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "revocation lookup failed")
	}
	if revoked {
		return nil, apperr.ErrTokenRevoked
	}

	// User-wide revocation watermark: any token issued at or before the
	// watermark instant is rejected until it would have expired anyway.
	watermark, ok, err := s.revoked.UserWatermark(ctx, claims.UserID, claims.TenantID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "revocation lookup failed")
	}
	if ok && claims.IssuedAt != nil && !claims.IssuedAt.After(watermark) {
		return nil, apperr.ErrTokenRevoked
	}

	return claims, nil
}

// parse verifies only the signature against the kid-matched key.
func (s *Service) parse(tokenString string) (*AccessClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, apperr.New(apperr.KindTokenInvalid, "unexpected signing method")
		}
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.keys.Verifier(kid)
		if !ok {
			return nil, apperr.New(apperr.KindTokenInvalid, "unknown key id")
		}
		return pub, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || !tok.Valid {
		return nil, apperr.ErrTokenInvalid
	}
	return claims, nil
}

// RevokeAccess blacklists a jti until its original expiry.
func (s *Service) RevokeAccess(ctx context.Context, jti string, userID, tenantID uuid.UUID, originalExpiry time.Time, reason string) error {
	entry := &model.RevokedAccessToken{
		JTI:            jti,
		UserID:         userID,
		TenantID:       tenantID,
		RevokedAt:      s.clock.Now(),
		Reason:         reason,
		OriginalExpiry: originalExpiry,
	}
	if err := s.revoked.Add(ctx, entry); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "failed to record revocation")
	}
	return nil
}

// Introspect returns the raw claim values without enforcing validity;
// Active reports whether full validation would succeed.
func (s *Service) Introspect(ctx context.Context, tokenString string) Introspection {
	claims, err := s.parse(tokenString)
	if err != nil {
		return Introspection{Active: false}
	}

	out := Introspection{
		Subject:  claims.UserID.String(),
		TenantID: claims.TenantID.String(),
		JTI:      claims.ID,
		Issuer:   claims.Issuer,
		Roles:    claims.Roles,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	_, verr := s.ValidateAccess(ctx, tokenString)
	out.Active = verr == nil
	return out
}

// IssueRefresh creates a fresh opaque refresh token rooting a new family.
// The plaintext is returned exactly once and never persisted.
func (s *Service) IssueRefresh(ctx context.Context, userID, tenantID uuid.UUID, fingerprint, userAgent, ip string) (string, error) {
	plaintext, err := s.opaqueToken()
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	record := &model.RefreshToken{
		ID:          s.rand.UUID(),
		UserID:      userID,
		TenantID:    tenantID,
		Family:      s.rand.UUID(),
		TokenHash:   HashToken(plaintext),
		Fingerprint: fingerprint,
		UserAgent:   userAgent,
		IP:          ip,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
		CreatedAt:   now,
	}
	if err := s.refresh.Create(ctx, record); err != nil {
		return "", apperr.Wrap(err, apperr.KindDatabase, "failed to store refresh token")
	}
	return plaintext, nil
}

// Rotate exchanges a live refresh token for a new token pair. Presenting
// an already-revoked token is a family breach: the whole family is
// revoked and the caller gets TokenRevoked.
func (s *Service) Rotate(ctx context.Context, plaintext string) (*TokenPair, error) {
	record, err := s.refresh.FindByHash(ctx, HashToken(plaintext))
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.ErrTokenInvalid
		}
		return nil, apperr.Wrap(err, apperr.KindDatabase, "refresh lookup failed")
	}

	if record.Revoked() {
		// Reuse of a dead token. Revoke the whole family and surface the
		// breach.
		n, revErr := s.refresh.RevokeFamily(ctx, record.Family, model.RevokeReasonBreach)
		if revErr != nil {
			s.log.Error("family_revocation_failed", "family", record.Family, "error", revErr)
		}
		s.log.Warn("refresh_token_reuse_detected",
			"user_id", record.UserID,
			"tenant_id", record.TenantID,
			"family", record.Family,
			"revoked", n,
		)
		s.sink.Emit(ctx, audit.Event{
			Action:   audit.ActionTokenBreach,
			ActorID:  record.UserID,
			TargetID: record.UserID,
			TenantID: record.TenantID,
			IP:       record.IP,
			Metadata: map[string]any{"family": record.Family.String(), "revoked": n},
		})
		return nil, apperr.ErrTokenRevoked
	}

	now := s.clock.Now()
	if record.Expired(now) {
		return nil, apperr.ErrTokenExpired
	}

	newPlaintext, err := s.opaqueToken()
	if err != nil {
		return nil, err
	}
	successor := &model.RefreshToken{
		ID:          s.rand.UUID(),
		UserID:      record.UserID,
		TenantID:    record.TenantID,
		Family:      record.Family,
		TokenHash:   HashToken(newPlaintext),
		Fingerprint: record.Fingerprint,
		UserAgent:   record.UserAgent,
		IP:          record.IP,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
		CreatedAt:   now,
	}

	// Old-token revoke and successor insert commit together; a cancelled
	// rotation leaves the old token live.
	if err := s.refresh.Rotate(ctx, record.ID, model.RevokeReasonRotated, successor); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "rotation failed")
	}

	var roles, permissions []string
	if s.resolver != nil {
		roles, permissions, err = s.resolver.ResolveClaims(ctx, record.UserID, record.TenantID)
		if err != nil {
			s.log.Warn("claims_resolution_failed", "user_id", record.UserID, "error", err)
			roles, permissions = nil, nil
		}
	}

	access, accessExp, err := s.IssueAccess(record.UserID, record.TenantID, roles, permissions)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    newPlaintext,
	}, nil
}

// RevokeRefresh revokes the family the presented token belongs to; used
// for logout.
func (s *Service) RevokeRefresh(ctx context.Context, plaintext, reason string) error {
	record, err := s.refresh.FindByHash(ctx, HashToken(plaintext))
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil // already gone; logout is idempotent
		}
		return apperr.Wrap(err, apperr.KindDatabase, "refresh lookup failed")
	}
	if _, err := s.refresh.RevokeFamily(ctx, record.Family, reason); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "family revocation failed")
	}
	return nil
}

// RevokeUser kills every live refresh token for the user and writes the
// user-wide watermark so outstanding access tokens fail validation until
// they expire.
func (s *Service) RevokeUser(ctx context.Context, userID, tenantID uuid.UUID, reason string) error {
	n, err := s.refresh.RevokeByUser(ctx, userID, tenantID, reason)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "refresh revocation failed")
	}

	now := s.clock.Now()
	if err := s.revoked.SetUserWatermark(ctx, userID, tenantID, now, s.cfg.AccessTTL+s.cfg.Skew); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "failed to record watermark")
	}

	s.log.Info("user_tokens_revoked",
		"user_id", userID,
		"tenant_id", tenantID,
		"reason", reason,
		"refresh_revoked", n,
	)
	s.sink.Emit(ctx, audit.Event{
		Action:   audit.ActionTokenRevoked,
		TargetID: userID,
		TenantID: tenantID,
		Metadata: map[string]any{"reason": reason, "refresh_revoked": n},
	})
	return nil
}

// CleanupExpired garbage-collects expired refresh tokens and blacklist
// entries. Run periodically.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	refreshN, err := s.refresh.CleanupExpired(ctx, now)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindDatabase, "refresh cleanup failed")
	}
	revokedN, err := s.revoked.CleanupExpired(ctx, now)
	if err != nil {
		return refreshN, apperr.Wrap(err, apperr.KindDatabase, "blacklist cleanup failed")
	}
	return refreshN + revokedN, nil
}

// opaqueToken draws 32 bytes (256 bits) of entropy, base64url encoded.
func (s *Service) opaqueToken() (string, error) {
	raw, err := s.rand.Bytes(32)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindCrypto, "entropy source failed")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func audienceMatches(aud jwt.ClaimStrings, expected string) bool {
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}
