package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/twofold-auth/twofold/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteModelError maps domain sentinel errors to HTTP responses. Verification
// failures deliberately share one generic message so responses never reveal
// whether a code was wrong, expired, or unenrolled beyond the status code.
func WriteModelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrUnauthorized):
		WriteUnauthorized(w, "Unauthorized")
	case errors.Is(err, models.ErrForbidden):
		WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Conflict with current state")
	case errors.Is(err, models.ErrInvalidCode):
		WriteError(w, http.StatusUnauthorized, "invalid_code", "Verification failed")
	case errors.Is(err, models.ErrSessionExpired):
		WriteError(w, http.StatusGone, "session_expired", "Setup session has expired")
	case errors.Is(err, models.ErrRateLimited):
		WriteTooManyRequests(w, "Too many attempts, try again later")
	case errors.Is(err, models.ErrNotEnrolled):
		WriteError(w, http.StatusConflict, "not_enrolled", "MFA is not set up for this account")
	case errors.Is(err, models.ErrPolicyMisconfigured):
		WriteError(w, http.StatusUnprocessableEntity, "policy_invalid", "Policy configuration is invalid")
	case errors.Is(err, models.ErrGeneration):
		WriteInternalError(w, "Service temporarily unavailable")
	default:
		WriteInternalError(w, "Internal server error")
	}
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
