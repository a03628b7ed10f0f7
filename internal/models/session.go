package models

import "time"

// SetupSession binds a not-yet-committed MFA secret to a user during
// enrollment. Sessions live in volatile storage with a fixed TTL and are
// consumable exactly once; losing them only forces a harmless re-setup.
type SetupSession struct {
	Token           string
	UserID          string
	Method          Method
	CandidateSecret string   // base32 TOTP secret (authenticator method)
	EmailOTPHash    [32]byte // SHA-256 of the emailed code (email method)
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the session TTL has elapsed at t.
func (s *SetupSession) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
