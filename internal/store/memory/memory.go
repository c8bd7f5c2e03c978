// Package memory provides mutex-guarded in-process implementations of the
// store contracts. They back the test suites and local development; the
// production bindings live in store/postgres and store/redis.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
)

// UserStore is the in-memory UserStore. NowFunc may be overridden by
// tests that pin time.
type UserStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*model.User
	history map[uuid.UUID][]string // newest first
	NowFunc func() time.Time
}

func NewUserStore() *UserStore {
	return &UserStore{
		users:   make(map[uuid.UUID]*model.User),
		history: make(map[uuid.UUID][]string),
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	c.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
	return &c
}

func (s *UserStore) FindByEmail(_ context.Context, email string, tenantID uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(email)
	for _, u := range s.users {
		if u.TenantID == tenantID && strings.ToLower(u.Email) == needle {
			return cloneUser(u), nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *UserStore) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(user.Email)
	for _, u := range s.users {
		if u.TenantID == user.TenantID && strings.ToLower(u.Email) == needle {
			return apperr.ErrConflict
		}
	}
	u := cloneUser(user)
	u.Email = needle
	s.users[user.ID] = u
	if user.PasswordHash != "" {
		s.history[user.ID] = []string{user.PasswordHash}
	}
	return nil
}

func (s *UserStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.Status = status
	return nil
}

func (s *UserStore) IncrementFailedAttempts(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (s *UserStore) ResetFailedAttempts(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.FailedAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (s *UserStore) RecordLogin(_ context.Context, id uuid.UUID, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	now := time.Now().UTC()
	if s.NowFunc != nil {
		now = s.NowFunc()
	}
	u.LastLoginAt = &now
	u.LastLoginIP = ip
	u.FailedAttempts = 0
	u.LockedUntil = nil
	return nil
}

// RecordLoginAt is a test helper that pins the login instant.
func (s *UserStore) RecordLoginAt(id uuid.UUID, ip string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.LastLoginAt = &at
		u.LastLoginIP = ip
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}
}

func (s *UserStore) SetLockedUntil(_ context.Context, id uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.LockedUntil = &until
	return nil
}

func (s *UserStore) UpdatePassword(_ context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = changedAt
	s.history[id] = append([]string{hash}, s.history[id]...)
	return nil
}

func (s *UserStore) PasswordHistory(_ context.Context, id uuid.UUID, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[id]
	if limit < len(h) {
		h = h[:limit]
	}
	return append([]string(nil), h...), nil
}

func (s *UserStore) SetMFA(_ context.Context, id uuid.UUID, enabled bool, secret string, backupCodeHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.MFAEnabled = enabled
	u.MFASecret = secret
	u.BackupCodeHashes = append([]string(nil), backupCodeHashes...)
	return nil
}

func (s *UserStore) ConsumeBackupCode(_ context.Context, id uuid.UUID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, apperr.ErrNotFound
	}
	for i, h := range u.BackupCodeHashes {
		if h == codeHash {
			u.BackupCodeHashes = append(u.BackupCodeHashes[:i], u.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// RefreshTokenStore is the in-memory RefreshTokenStore.
type RefreshTokenStore struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*model.RefreshToken
	byHash map[string]uuid.UUID
}

func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{
		byID:   make(map[uuid.UUID]*model.RefreshToken),
		byHash: make(map[string]uuid.UUID),
	}
}

func cloneToken(t *model.RefreshToken) *model.RefreshToken {
	c := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}

func (s *RefreshTokenStore) Create(_ context.Context, token *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byHash[token.TokenHash]; dup {
		return apperr.ErrConflict
	}
	s.byID[token.ID] = cloneToken(token)
	s.byHash[token.TokenHash] = token.ID
	return nil
}

func (s *RefreshTokenStore) FindByHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneToken(s.byID[id]), nil
}

func (s *RefreshTokenStore) FindByFamily(_ context.Context, family uuid.UUID) ([]*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RefreshToken
	for _, t := range s.byID {
		if t.Family == family {
			out = append(out, cloneToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RefreshTokenStore) Revoke(_ context.Context, tokenID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[tokenID]
	if !ok {
		return apperr.ErrNotFound
	}
	s.markRevoked(t, reason)
	return nil
}

func (s *RefreshTokenStore) markRevoked(t *model.RefreshToken, reason string) {
	if t.RevokedAt == nil {
		now := time.Now().UTC()
		t.RevokedAt = &now
		t.RevokedReason = reason
	}
}

func (s *RefreshTokenStore) RevokeFamily(_ context.Context, family uuid.UUID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.byID {
		if t.Family == family && t.RevokedAt == nil {
			s.markRevoked(t, reason)
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokenStore) RevokeByUser(_ context.Context, userID, tenantID uuid.UUID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.byID {
		if t.UserID == userID && t.TenantID == tenantID && t.RevokedAt == nil {
			s.markRevoked(t, reason)
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokenStore) Rotate(_ context.Context, oldID uuid.UUID, reason string, successor *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[oldID]
	if !ok {
		return apperr.ErrNotFound
	}
	if old.RevokedAt != nil {
		return apperr.ErrConflict
	}
	if _, dup := s.byHash[successor.TokenHash]; dup {
		return apperr.ErrConflict
	}
	s.markRevoked(old, reason)
	s.byID[successor.ID] = cloneToken(successor)
	s.byHash[successor.TokenHash] = successor.ID
	return nil
}

func (s *RefreshTokenStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.byID {
		if !t.ExpiresAt.After(now) {
			delete(s.byHash, t.TokenHash)
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// RevokedAccessTokenStore is the in-memory blacklist + watermark store.
type RevokedAccessTokenStore struct {
	mu         sync.Mutex
	entries    map[string]*model.RevokedAccessToken
	watermarks map[string]time.Time
}

func NewRevokedAccessTokenStore() *RevokedAccessTokenStore {
	return &RevokedAccessTokenStore{
		entries:    make(map[string]*model.RevokedAccessToken),
		watermarks: make(map[string]time.Time),
	}
}

func watermarkKey(userID, tenantID uuid.UUID) string {
	return userID.String() + "/" + tenantID.String()
}

func (s *RevokedAccessTokenStore) Add(_ context.Context, entry *model.RevokedAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	s.entries[entry.JTI] = &c
	return nil
}

func (s *RevokedAccessTokenStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jti]
	return ok, nil
}

func (s *RevokedAccessTokenStore) SetUserWatermark(_ context.Context, userID, tenantID uuid.UUID, revokedAfter time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[watermarkKey(userID, tenantID)] = revokedAfter
	return nil
}

func (s *RevokedAccessTokenStore) UserWatermark(_ context.Context, userID, tenantID uuid.UUID) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.watermarks[watermarkKey(userID, tenantID)]
	return t, ok, nil
}

func (s *RevokedAccessTokenStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for jti, e := range s.entries {
		if !e.OriginalExpiry.After(now) {
			delete(s.entries, jti)
			n++
		}
	}
	return n, nil
}

// SessionStore is the in-memory SessionStore.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*model.Session)}
}

func (s *SessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.sessions[session.TokenHash]; dup {
		return apperr.ErrConflict
	}
	c := *session
	s.sessions[session.TokenHash] = &c
	return nil
}

func (s *SessionStore) Get(_ context.Context, tokenHash string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *sess
	return &c, nil
}

func (s *SessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[tokenHash]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.sessions, tokenHash)
	return nil
}

func (s *SessionStore) DeleteByUser(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for hash, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			c := *sess
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SessionStore) Touch(_ context.Context, tokenHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok {
		return apperr.ErrNotFound
	}
	sess.LastActivity = now
	return nil
}

// RoleStore is the in-memory RoleStore.
type RoleStore struct {
	mu          sync.Mutex
	roles       map[uuid.UUID]*model.Role
	assignments map[uuid.UUID][]*model.RoleAssignment // by user
	permissions map[uuid.UUID][]*model.RolePermission // by role
}

func NewRoleStore() *RoleStore {
	return &RoleStore{
		roles:       make(map[uuid.UUID]*model.Role),
		assignments: make(map[uuid.UUID][]*model.RoleAssignment),
		permissions: make(map[uuid.UUID][]*model.RolePermission),
	}
}

func (s *RoleStore) Create(_ context.Context, role *model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.TenantID == role.TenantID && r.Name == role.Name {
			return apperr.ErrConflict
		}
	}
	c := *role
	s.roles[role.ID] = &c
	for _, p := range role.Permissions {
		s.permissions[role.ID] = append(s.permissions[role.ID], &model.RolePermission{
			RoleID:     role.ID,
			Permission: p,
			Granted:    true,
		})
	}
	return nil
}

func (s *RoleStore) Update(_ context.Context, role *model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.roles[role.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if existing.IsSystem {
		return apperr.ErrConflict
	}
	c := *role
	s.roles[role.ID] = &c
	return nil
}

func (s *RoleStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if role.IsSystem {
		return apperr.ErrConflict
	}
	delete(s.roles, id)
	delete(s.permissions, id)
	return nil
}

func (s *RoleStore) FindByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *role
	return &c, nil
}

func (s *RoleStore) FindByTenant(_ context.Context, tenantID uuid.UUID) ([]*model.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Role
	for _, r := range s.roles {
		if r.TenantID == tenantID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *RoleStore) FindByName(_ context.Context, tenantID uuid.UUID, name string) (*model.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.TenantID == tenantID && r.Name == name {
			c := *r
			return &c, nil
		}
	}
	return nil, apperr.ErrNotFound
}

// Assign is a test helper binding a role to a user.
func (s *RoleStore) Assign(assignment *model.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *assignment
	s.assignments[assignment.UserID] = append(s.assignments[assignment.UserID], &c)
}

// SetPermissions is a test helper replacing a role's permission rows.
func (s *RoleStore) SetPermissions(roleID uuid.UUID, perms []*model.RolePermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.RolePermission, len(perms))
	for i, p := range perms {
		c := *p
		out[i] = &c
	}
	s.permissions[roleID] = out
}

func (s *RoleStore) GetUserRoles(_ context.Context, userID, tenantID uuid.UUID) ([]*model.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RoleAssignment
	for _, a := range s.assignments[userID] {
		if a.TenantID == tenantID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *RoleStore) GetRolePermissions(_ context.Context, roleID uuid.UUID) ([]*model.RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RolePermission
	for _, p := range s.permissions[roleID] {
		c := *p
		out = append(out, &c)
	}
	return out, nil
}

// SubscriptionStore is the in-memory SubscriptionStore. IncrementUsage is
// a CAS-free single-lock update, which satisfies the atomicity contract
// in-process.
type SubscriptionStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*model.TenantSubscription
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: make(map[uuid.UUID]*model.TenantSubscription)}
}

func (s *SubscriptionStore) Create(_ context.Context, sub *model.TenantSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sub
	c.CurrentUsage = make(map[string]int64, len(sub.CurrentUsage))
	for k, v := range sub.CurrentUsage {
		c.CurrentUsage[k] = v
	}
	s.subs[sub.TenantID] = &c
	return nil
}

func (s *SubscriptionStore) GetByTenant(_ context.Context, tenantID uuid.UUID) (*model.TenantSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[tenantID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := *sub
	c.CurrentUsage = make(map[string]int64, len(sub.CurrentUsage))
	for k, v := range sub.CurrentUsage {
		c.CurrentUsage[k] = v
	}
	return &c, nil
}

func (s *SubscriptionStore) IncrementUsage(_ context.Context, tenantID uuid.UUID, resource string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[tenantID]
	if !ok {
		return apperr.ErrNotFound
	}
	if sub.CurrentUsage == nil {
		sub.CurrentUsage = make(map[string]int64)
	}
	sub.CurrentUsage[resource] += delta
	return nil
}

// PasskeyStore is the in-memory PasskeyStore.
type PasskeyStore struct {
	mu   sync.Mutex
	keys map[string]*model.Passkey
}

func NewPasskeyStore() *PasskeyStore {
	return &PasskeyStore{keys: make(map[string]*model.Passkey)}
}

func (s *PasskeyStore) Save(_ context.Context, passkey *model.Passkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *passkey
	c.Material = append([]byte(nil), passkey.Material...)
	s.keys[passkey.CredentialID] = &c
	return nil
}

func (s *PasskeyStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.Passkey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Passkey
	for _, k := range s.keys {
		if k.UserID == userID {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
