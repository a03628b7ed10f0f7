package models

import (
	"time"
)

// Method identifies a second-factor mechanism.
type Method string

const (
	MethodAuthenticator Method = "authenticator"
	MethodEmailOTP      Method = "email_otp"
	MethodBackupCode    Method = "backup_code"
	MethodNone          Method = "none"
)

// EnrollmentMethods are the methods a user can enroll with. Backup codes
// are issued alongside an enrollment, never enrolled directly.
func EnrollmentMethods() []Method {
	return []Method{MethodAuthenticator, MethodEmailOTP}
}

// IsEnrollable reports whether m can be the primary enrolled factor.
func (m Method) IsEnrollable() bool {
	return m == MethodAuthenticator || m == MethodEmailOTP
}

// EnrollmentStatus is the lifecycle state of a user's MFA enrollment.
type EnrollmentStatus string

const (
	StatusNotEnrolled  EnrollmentStatus = "not_enrolled"
	StatusPendingSetup EnrollmentStatus = "pending_setup"
	StatusActive       EnrollmentStatus = "active"
)

// Enrollment is the per-user MFA credential record. The TOTP secret is
// stored AES-256-GCM encrypted and is never returned to callers after the
// one-time setup flow.
type Enrollment struct {
	UserID              string
	Status              EnrollmentStatus
	Method              Method
	TOTPSecretEncrypted []byte
	TOTPSecretNonce     []byte
	LastUsedStep        *int64 // last accepted TOTP time step, for replay rejection
	ActivatedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsActive reports whether the enrollment can satisfy a login challenge.
func (e *Enrollment) IsActive() bool {
	return e.Status == StatusActive
}

// BackupCode is a single-use recovery credential. Only the bcrypt hash is
// ever persisted; plaintext is shown once at activation.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// EnrollmentStatusSummary is the caller-facing view of an enrollment.
type EnrollmentStatusSummary struct {
	Status               EnrollmentStatus `json:"status"`
	Method               Method           `json:"method"`
	ActivatedAt          *time.Time       `json:"activated_at,omitempty"`
	BackupCodesRemaining int              `json:"backup_codes_remaining"`
}
