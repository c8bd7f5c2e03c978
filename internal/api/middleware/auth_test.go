package middleware_test

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	custommw "github.com/clearpathsec/bastion/internal/api/middleware"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/clearpathsec/bastion/internal/store/memory"
	"github.com/clearpathsec/bastion/internal/token"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T) *token.Service {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return token.NewService(token.Config{
		Issuer:     "https://auth.test",
		Audience:   "bastion",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}, token.NewKeyring(token.Keypair{KID: "sig-1", Private: key}, nil),
		memory.NewRefreshTokenStore(), memory.NewRevokedAccessTokenStore(),
		store.SystemClock{}, store.CryptoRandom{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAuthMiddleware(t *testing.T) {
	tokens := newTokenService(t)
	userID := uuid.New()

	signed, _, err := tokens.IssueAccess(userID, uuid.New(), []string{"ops"}, nil)
	require.NoError(t, err)

	handler := custommw.AuthMiddleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := custommw.GetUserID(r.Context())
		assert.NoError(t, err)
		assert.Equal(t, userID, got)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid bearer", "Bearer " + signed, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + signed, http.StatusUnauthorized},
		{"tampered token", "Bearer " + signed + "x", http.StatusUnauthorized},
		{"garbage", "Bearer garbage", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestGetClaimsWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := custommw.GetClaims(req.Context())
	assert.Error(t, err)
}
