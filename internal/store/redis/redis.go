// Package redis binds the revocation blacklist and the session store to
// Redis. Expiry is delegated to key TTLs, so the cleanup hooks are
// no-ops here and a blacklist entry disappears exactly when no live
// token could carry its jti.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	revokedKeyPrefix   = "bastion:revoked:jti:"
	watermarkKeyPrefix = "bastion:revoked:user:"
	sessionKeyPrefix   = "bastion:session:"
	sessionIndexPrefix = "bastion:sessions:user:"
)

// Connect parses the URL and verifies connectivity.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "invalid redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "redis unreachable")
	}
	return client, nil
}

// RevokedAccessTokenStore keeps jti blacklist entries and user
// watermarks, each bounded by the access-token lifetime.
type RevokedAccessTokenStore struct {
	client *redis.Client
	clock  func() time.Time
}

func NewRevokedAccessTokenStore(client *redis.Client) *RevokedAccessTokenStore {
	return &RevokedAccessTokenStore{client: client, clock: time.Now}
}

func (s *RevokedAccessTokenStore) Add(ctx context.Context, entry *model.RevokedAccessToken) error {
	ttl := entry.OriginalExpiry.Sub(s.clock())
	if ttl <= 0 {
		// Already past expiry; nothing can validate it anyway.
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid revocation entry")
	}
	if err := s.client.Set(ctx, revokedKeyPrefix+entry.JTI, payload, ttl).Err(); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "revocation write failed")
	}
	return nil
}

func (s *RevokedAccessTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, apperr.Wrap(err, apperr.KindDatabase, "revocation lookup failed")
	}
	return n > 0, nil
}

func watermarkKey(userID, tenantID uuid.UUID) string {
	return watermarkKeyPrefix + userID.String() + "/" + tenantID.String()
}

func (s *RevokedAccessTokenStore) SetUserWatermark(ctx context.Context, userID, tenantID uuid.UUID, revokedAfter time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	err := s.client.Set(ctx, watermarkKey(userID, tenantID), revokedAfter.UTC().Format(time.RFC3339Nano), ttl).Err()
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "watermark write failed")
	}
	return nil
}

func (s *RevokedAccessTokenStore) UserWatermark(ctx context.Context, userID, tenantID uuid.UUID) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, watermarkKey(userID, tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperr.Wrap(err, apperr.KindDatabase, "watermark lookup failed")
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, apperr.Wrap(err, apperr.KindDatabase, "corrupt watermark")
	}
	return t, true, nil
}

// CleanupExpired is a no-op: key TTLs already bound retention.
func (s *RevokedAccessTokenStore) CleanupExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// SessionStore keeps sessions as JSON values with the absolute lifetime
// as key TTL, plus a per-user index for cap enforcement and purges.
type SessionStore struct {
	client *redis.Client
	clock  func() time.Time
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, clock: time.Now}
}

func sessionKey(tokenHash string) string { return sessionKeyPrefix + tokenHash }

func sessionIndexKey(userID uuid.UUID) string { return sessionIndexPrefix + userID.String() }

func (s *SessionStore) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return apperr.New(apperr.KindValidation, "session already expired")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid session")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.TokenHash), payload, ttl)
	pipe.ZAdd(ctx, sessionIndexKey(session.UserID), redis.Z{
		Score:  float64(session.CreatedAt.UnixNano()),
		Member: session.TokenHash,
	})
	pipe.Expire(ctx, sessionIndexKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "session write failed")
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, tokenHash string) (*model.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "session lookup failed")
	}
	var session model.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "corrupt session")
	}
	return &session, nil
}

func (s *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	session, err := s.Get(ctx, tokenHash)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	pipe.ZRem(ctx, sessionIndexKey(session.UserID), tokenHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "session delete failed")
	}
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	hashes, err := s.client.ZRange(ctx, sessionIndexKey(userID), 0, -1).Result()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindDatabase, "session index lookup failed")
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = sessionKey(h)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, sessionIndexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apperr.Wrap(err, apperr.KindDatabase, "session purge failed")
	}
	return len(hashes), nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Session, error) {
	hashes, err := s.client.ZRange(ctx, sessionIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "session index lookup failed")
	}

	var out []*model.Session
	for _, h := range hashes {
		session, err := s.Get(ctx, h)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				// Value expired under the index entry; drop the member.
				s.client.ZRem(ctx, sessionIndexKey(userID), h)
				continue
			}
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *SessionStore) Touch(ctx context.Context, tokenHash string, now time.Time) error {
	session, err := s.Get(ctx, tokenHash)
	if err != nil {
		return err
	}
	session.LastActivity = now

	ttl := session.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return apperr.ErrNotFound
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid session")
	}
	if err := s.client.Set(ctx, sessionKey(tokenHash), payload, ttl).Err(); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "session touch failed")
	}
	return nil
}
