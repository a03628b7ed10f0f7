package models

import "time"

// DeviceTrust is a time-bounded "remember this device" exemption for a
// (user, device fingerprint) pair. An expired record is treated exactly
// like an absent one: absence always means MFA is required.
type DeviceTrust struct {
	UserID       string
	Fingerprint  string
	TrustedUntil time.Time
	CreatedAt    time.Time
}

// Valid reports whether the trust grant is still in effect at t.
func (d *DeviceTrust) Valid(t time.Time) bool {
	return d.TrustedUntil.After(t)
}
