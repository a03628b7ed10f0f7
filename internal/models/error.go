package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// MFA verification outcomes
	ErrInvalidCode    = errors.New("invalid code")
	ErrSessionExpired = errors.New("setup session expired")
	ErrRateLimited    = errors.New("too many failed attempts")
	ErrNotEnrolled    = errors.New("no active MFA enrollment")

	// ErrGeneration means the random source failed; code and secret
	// generation fails closed instead of degrading to weaker randomness.
	ErrGeneration = errors.New("secure random generation failed")

	// ErrPolicyMisconfigured is surfaced at policy save time when no
	// allowed method could satisfy enforcement.
	ErrPolicyMisconfigured = errors.New("mfa policy misconfigured")
)
