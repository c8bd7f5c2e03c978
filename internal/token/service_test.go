package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/clearpathsec/bastion/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testKeypair(t *testing.T, kid string) Keypair {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("rsa keygen: %v", err)
		}
	})
	return Keypair{KID: kid, Private: testKey}
}

var t0 = time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	clock   *store.FixedClock
	refresh *memory.RefreshTokenStore
	revoked *memory.RevokedAccessTokenStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &store.FixedClock{Instant: t0}
	refresh := memory.NewRefreshTokenStore()
	revoked := memory.NewRevokedAccessTokenStore()
	keys := NewKeyring(testKeypair(t, "sig-1"), nil)

	svc := NewService(Config{
		Issuer:     "https://auth.test",
		Audience:   "bastion",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Skew:       60 * time.Second,
	}, keys, refresh, revoked, clock, store.CryptoRandom{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &fixture{svc: svc, clock: clock, refresh: refresh, revoked: revoked}
}

func TestIssueAndValidateAccess(t *testing.T) {
	f := newFixture(t)
	userID, tenantID := uuid.New(), uuid.New()

	signed, expiresAt, err := f.svc.IssueAccess(userID, tenantID, []string{"ops"}, []string{"metrics:read:tenant"})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(15*time.Minute), expiresAt)

	claims, err := f.svc.ValidateAccess(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, []string{"ops"}, claims.Roles)
	assert.Equal(t, []string{"metrics:read:tenant"}, claims.Permissions)
	assert.NotEmpty(t, claims.ID, "jti must be set")
}

func TestIssueAccessRejectsEmptySubject(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.IssueAccess(uuid.Nil, uuid.New(), nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, _, err = f.svc.IssueAccess(uuid.New(), uuid.Nil, nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestValidateAccessExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	signed, _, err := f.svc.IssueAccess(uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)

	// One millisecond before expiry the token is valid.
	f.clock.Instant = t0.Add(15*time.Minute - time.Millisecond)
	_, err = f.svc.ValidateAccess(context.Background(), signed)
	assert.NoError(t, err)

	// exp == now is expired.
	f.clock.Instant = t0.Add(15 * time.Minute)
	_, err = f.svc.ValidateAccess(context.Background(), signed)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)
}

func TestValidateAccessRejectsTampering(t *testing.T) {
	f := newFixture(t)
	signed, _, err := f.svc.IssueAccess(uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)

	_, err = f.svc.ValidateAccess(context.Background(), signed+"x")
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)

	_, err = f.svc.ValidateAccess(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestValidateAccessUnknownKID(t *testing.T) {
	f := newFixture(t)
	other := NewService(Config{
		Issuer: "https://auth.test", Audience: "bastion",
		AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour,
	}, NewKeyring(testKeypair(t, "sig-other"), nil),
		memory.NewRefreshTokenStore(), memory.NewRevokedAccessTokenStore(),
		f.clock, store.CryptoRandom{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	signed, _, err := other.IssueAccess(uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)

	_, err = f.svc.ValidateAccess(context.Background(), signed)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestKeyRotationKeepsOldVerifier(t *testing.T) {
	f := newFixture(t)
	signed, _, err := f.svc.IssueAccess(uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)

	next, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f.svc.Keys().Rotate(Keypair{KID: "sig-2", Private: next})

	// Tokens signed before rotation keep validating.
	_, err = f.svc.ValidateAccess(context.Background(), signed)
	assert.NoError(t, err)

	// New tokens carry the new kid and validate too.
	signed2, _, err := f.svc.IssueAccess(uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)
	_, err = f.svc.ValidateAccess(context.Background(), signed2)
	assert.NoError(t, err)
}

func TestRevokeAccessByJTI(t *testing.T) {
	f := newFixture(t)
	userID, tenantID := uuid.New(), uuid.New()
	signed, expiresAt, err := f.svc.IssueAccess(userID, tenantID, nil, nil)
	require.NoError(t, err)

	claims, err := f.svc.ValidateAccess(context.Background(), signed)
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeAccess(context.Background(), claims.ID, userID, tenantID, expiresAt, model.RevokeReasonLogout))

	_, err = f.svc.ValidateAccess(context.Background(), signed)
	assert.ErrorIs(t, err, apperr.ErrTokenRevoked)
}

func TestRevokeUserWatermark(t *testing.T) {
	f := newFixture(t)
	userID, tenantID := uuid.New(), uuid.New()

	signed, _, err := f.svc.IssueAccess(userID, tenantID, nil, nil)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	require.NoError(t, f.svc.RevokeUser(context.Background(), userID, tenantID, model.RevokeReasonAdmin))

	// Tokens issued before the watermark fail until expiry.
	_, err = f.svc.ValidateAccess(context.Background(), signed)
	assert.ErrorIs(t, err, apperr.ErrTokenRevoked)

	// A token minted after the watermark validates.
	f.clock.Advance(time.Second)
	signed2, _, err := f.svc.IssueAccess(userID, tenantID, nil, nil)
	require.NoError(t, err)
	_, err = f.svc.ValidateAccess(context.Background(), signed2)
	assert.NoError(t, err)
}

func TestIssueRefreshStoresOnlyHash(t *testing.T) {
	f := newFixture(t)
	userID, tenantID := uuid.New(), uuid.New()

	plaintext, err := f.svc.IssueRefresh(context.Background(), userID, tenantID, "fp-1", "ua", "10.0.0.1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(plaintext), 43, "32 bytes base64url")

	record, err := f.refresh.FindByHash(context.Background(), HashToken(plaintext))
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, record.TokenHash)
	assert.Equal(t, userID, record.UserID)
	assert.Equal(t, tenantID, record.TenantID)
	assert.Equal(t, "fp-1", record.Fingerprint)
	assert.Nil(t, record.RevokedAt)

	// Lookup by plaintext itself must fail: only the hash is stored.
	_, err = f.refresh.FindByHash(context.Background(), plaintext)
	assert.Error(t, err)
}

func TestRotateHappyPath(t *testing.T) {
	f := newFixture(t)
	userID, tenantID := uuid.New(), uuid.New()

	r1, err := f.svc.IssueRefresh(context.Background(), userID, tenantID, "fp-1", "ua", "10.0.0.1")
	require.NoError(t, err)
	first, err := f.refresh.FindByHash(context.Background(), HashToken(r1))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	pair, err := f.svc.Rotate(context.Background(), r1)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, r1, pair.RefreshToken)

	// The successor shares family and device binding; the old token is
	// revoked with the rotation reason.
	second, err := f.refresh.FindByHash(context.Background(), HashToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, first.Family, second.Family)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Nil(t, second.RevokedAt)

	old, err := f.refresh.FindByHash(context.Background(), HashToken(r1))
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, model.RevokeReasonRotated, old.RevokedReason)
}

func TestRotateReuseRevokesFamily(t *testing.T) {
	f := newFixture(t)
	userID, tenantID := uuid.New(), uuid.New()

	r1, err := f.svc.IssueRefresh(context.Background(), userID, tenantID, "", "", "")
	require.NoError(t, err)
	first, err := f.refresh.FindByHash(context.Background(), HashToken(r1))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	pair, err := f.svc.Rotate(context.Background(), r1)
	require.NoError(t, err)

	// Replaying the consumed token is a breach: the whole family dies.
	f.clock.Advance(time.Minute)
	_, err = f.svc.Rotate(context.Background(), r1)
	assert.ErrorIs(t, err, apperr.ErrTokenRevoked)

	family, err := f.refresh.FindByFamily(context.Background(), first.Family)
	require.NoError(t, err)
	require.Len(t, family, 2)
	for _, tok := range family {
		assert.NotNil(t, tok.RevokedAt, "token %s must be revoked", tok.ID)
	}

	// The successor is dead too.
	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrTokenRevoked)
}

func TestRotateExpired(t *testing.T) {
	f := newFixture(t)
	r1, err := f.svc.IssueRefresh(context.Background(), uuid.New(), uuid.New(), "", "", "")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.svc.Rotate(context.Background(), r1)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)
}

func TestRotateUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Rotate(context.Background(), "never-issued")
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestIntrospect(t *testing.T) {
	f := newFixture(t)
	userID, tenantID := uuid.New(), uuid.New()
	signed, _, err := f.svc.IssueAccess(userID, tenantID, []string{"ops"}, nil)
	require.NoError(t, err)

	view := f.svc.Introspect(context.Background(), signed)
	assert.True(t, view.Active)
	assert.Equal(t, userID.String(), view.Subject)
	assert.Equal(t, tenantID.String(), view.TenantID)
	assert.NotEmpty(t, view.JTI)

	// Past expiry the claims still surface, but Active flips.
	f.clock.Advance(16 * time.Minute)
	view = f.svc.Introspect(context.Background(), signed)
	assert.False(t, view.Active)
	assert.Equal(t, userID.String(), view.Subject)

	garbage := f.svc.Introspect(context.Background(), "garbage")
	assert.False(t, garbage.Active)
	assert.Empty(t, garbage.Subject)
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueRefresh(context.Background(), uuid.New(), uuid.New(), "", "", "")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	n, err := f.svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
