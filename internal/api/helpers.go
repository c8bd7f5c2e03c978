package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clearpathsec/bastion/internal/apperr"
)

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// respondJSON writes a JSON body with status.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError maps the core taxonomy onto HTTP statuses. Auth-boundary
// failures stay deliberately vague.
func respondError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperr.KindInvalidCredentials, apperr.KindUnauthorized,
		apperr.KindTokenExpired, apperr.KindTokenInvalid, apperr.KindTokenRevoked:
		status = http.StatusUnauthorized
	case apperr.KindAuthorizationDenied, apperr.KindFeatureNotAvailable:
		status = http.StatusForbidden
	case apperr.KindPolicyViolation, apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case apperr.KindNotFound:
		status = http.StatusNotFound
	}
	respondJSON(w, status, errorBody{Error: appErr.Message, Code: string(appErr.Kind)})
}
