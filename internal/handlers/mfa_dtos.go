package handlers

import (
	"time"

	"github.com/twofold-auth/twofold/internal/models"
)

// Setup DTOs

// StartSetupRequest begins enrollment with the chosen method
type StartSetupRequest struct {
	Method string `json:"method" validate:"required,oneof=authenticator email_otp"`
}

// StartSetupResponse carries the one-time secret material for the setup
// screen. The secret and QR code are never served again after this response.
type StartSetupResponse struct {
	SessionToken string    `json:"session_token"`
	Method       string    `json:"method"`
	Secret       string    `json:"secret,omitempty"`      // Base32, authenticator only
	OtpauthURL   string    `json:"otpauth_url,omitempty"` // For manual entry
	QRCode       string    `json:"qr_code,omitempty"`     // PNG data URL
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionStatusResponse reports whether a setup session is still live
type SessionStatusResponse struct {
	Valid bool `json:"valid"`
}

// VerifySetupRequest confirms enrollment with a code from the new factor
type VerifySetupRequest struct {
	SessionToken string `json:"session_token" validate:"required,uuid"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
}

// VerifySetupResponse confirms activation. Backup codes appear here in
// plaintext exactly once.
type VerifySetupResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backup_codes"`
	Assertion   string   `json:"assertion"`
}

// Status DTOs

// StatusResponse shows the caller's enrollment state
type StatusResponse struct {
	Status               string     `json:"status"`
	Method               string     `json:"method"`
	ActivatedAt          *time.Time `json:"activated_at,omitempty"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
}

// Login DTOs

// SendLoginOtpRequest asks for a login code to be emailed
type SendLoginOtpRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// VerifyLoginRequest is one challenge attempt during sign-in
type VerifyLoginRequest struct {
	UserID            string `json:"user_id" validate:"required,uuid"`
	Code              string `json:"code" validate:"required,min=6,max=8"`
	Method            string `json:"method" validate:"omitempty,oneof=authenticator email_otp backup_code"`
	RememberDevice    bool   `json:"remember_device"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"omitempty,max=128"`
}

// VerifyLoginResponse is returned when the challenge passes
type VerifyLoginResponse struct {
	Assertion     string     `json:"assertion"`
	Method        string     `json:"method"`
	DeviceTrusted bool       `json:"device_trusted"`
	TrustedUntil  *time.Time `json:"trusted_until,omitempty"`
}

// RequirementResponse is the policy decision for one sign-in
type RequirementResponse struct {
	Required          bool     `json:"required"`
	GracePeriodActive bool     `json:"grace_period_active"`
	AllowedMethods    []string `json:"allowed_methods"`
}

// Policy DTOs

// PolicyRequest is the admin policy update payload
type PolicyRequest struct {
	Enforced           bool     `json:"enforced"`
	AllowedMethods     []string `json:"allowed_methods" validate:"required,min=1,dive,oneof=authenticator email_otp"`
	RequiredRoles      []string `json:"required_roles" validate:"dive,max=64"`
	GracePeriodDays    int      `json:"grace_period_days" validate:"gte=0,lte=365"`
	RememberDeviceDays int      `json:"remember_device_days" validate:"gte=0,lte=365"`
}

// PolicyResponse is the stored policy
type PolicyResponse struct {
	Enforced           bool       `json:"enforced"`
	AllowedMethods     []string   `json:"allowed_methods"`
	RequiredRoles      []string   `json:"required_roles"`
	GracePeriodDays    int        `json:"grace_period_days"`
	RememberDeviceDays int        `json:"remember_device_days"`
	EnforcedAt         *time.Time `json:"enforced_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func methodsToStrings(methods []models.Method) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

func methodsFromStrings(methods []string) []models.Method {
	out := make([]models.Method, len(methods))
	for i, m := range methods {
		out[i] = models.Method(m)
	}
	return out
}
