package api

import (
	"net/http"

	"github.com/clearpathsec/bastion/internal/api/middleware"
	"github.com/clearpathsec/bastion/internal/authz"
)

type authzCheckRequest struct {
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	Scope      string         `json:"scope,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// handleAuthzCheck evaluates the caller's own access to an action.
func (s *Server) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	decision, err := s.Authz.Authorize(r.Context(), authz.Request{
		UserID:     claims.UserID,
		TenantID:   claims.TenantID,
		Resource:   req.Resource,
		Action:     req.Action,
		Scope:      req.Scope,
		IP:         r.RemoteAddr,
		Attributes: req.Attributes,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}
