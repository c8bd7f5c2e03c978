package api

import (
	"net/http"

	"github.com/clearpathsec/bastion/internal/api/middleware"
	"github.com/clearpathsec/bastion/internal/identity"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
		return
	}

	user, err := s.Identity.Register(r.Context(), identity.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
	}, tenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user.Redacted())
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	TenantID    string `json:"tenant_id"`
	Fingerprint string `json:"device_fingerprint,omitempty"`
}

type loginResponse struct {
	User            model.PublicUser `json:"user"`
	AccessToken     string           `json:"access_token"`
	AccessExpiresAt int64            `json:"access_expires_at"`
	RefreshToken    string           `json:"refresh_token"`
	SessionToken    string           `json:"session_token"`
	RequiresMFA     bool             `json:"requires_mfa"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
		return
	}

	resp, err := s.Identity.Login(r.Context(), identity.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		TenantID:    tenantID,
		IP:          r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		Fingerprint: req.Fingerprint,
		LocalHour:   -1,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toLoginResponse(resp))
}

func toLoginResponse(resp *identity.AuthResponse) loginResponse {
	return loginResponse{
		User:            resp.User,
		AccessToken:     resp.AccessToken,
		AccessExpiresAt: resp.AccessExpiresAt.Unix(),
		RefreshToken:    resp.RefreshToken,
		SessionToken:    resp.SessionToken,
		RequiresMFA:     resp.RequiresMFA,
	}
}

type completeMFARequest struct {
	UserID      string `json:"user_id"`
	Code        string `json:"code"`
	Fingerprint string `json:"device_fingerprint,omitempty"`
}

func (s *Server) handleCompleteMFA(w http.ResponseWriter, r *http.Request) {
	var req completeMFARequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	resp, err := s.Identity.CompleteMFA(r.Context(), userID, req.Code, identity.LoginInput{
		IP:          r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		Fingerprint: req.Fingerprint,
		LocalHour:   -1,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toLoginResponse(resp))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pair, err := s.Tokens.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":      pair.AccessToken,
		"access_expires_at": pair.AccessExpiresAt.Unix(),
		"refresh_token":     pair.RefreshToken,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	SessionToken string `json:"session_token,omitempty"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Identity.Logout(r.Context(), req.RefreshToken, req.SessionToken); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type introspectRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, s.Tokens.Introspect(r.Context(), req.Token))
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Identity.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerPasskeyRequest struct {
	CredentialID string `json:"credential_id"`
	Material     []byte `json:"material"`
}

func (s *Server) handleRegisterPasskey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req registerPasskeyRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Identity.RegisterPasskey(r.Context(), userID, req.CredentialID, req.Material); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
