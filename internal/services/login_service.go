package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/twofold-auth/twofold/internal/auth"
	"github.com/twofold-auth/twofold/internal/cache"
	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/otp"
	"github.com/twofold-auth/twofold/internal/repositories"
)

// LoginVerifyInput carries one verification attempt from the login flow.
type LoginVerifyInput struct {
	UserID            string
	Code              string
	Method            models.Method
	RememberDevice    bool
	DeviceFingerprint string
}

// LoginVerifyResult is returned when a challenge succeeds.
type LoginVerifyResult struct {
	Assertion     string
	Method        models.Method
	DeviceTrusted bool
	TrustedUntil  *time.Time
}

// LoginService verifies MFA challenges at sign-in time. It shares the
// per-user attempt counter with setup verification so an attacker cannot
// double the budget by alternating flows.
type LoginService struct {
	enrollmentRepo repositories.EnrollmentRepository
	backupCodeRepo repositories.BackupCodeRepository
	policyRepo     repositories.PolicyRepository
	userRepo       repositories.UserRepository
	otpStore       *cache.EmailOTPStore
	limiter        *cache.AttemptLimiter
	generator      *otp.Generator
	email          EmailService
	deviceTrust    *DeviceTrustService
	tokens         *auth.TokenManager
	logger         *slog.Logger
	emailOTPTTL    time.Duration
}

// NewLoginService creates a new login verification service
func NewLoginService(
	enrollmentRepo repositories.EnrollmentRepository,
	backupCodeRepo repositories.BackupCodeRepository,
	policyRepo repositories.PolicyRepository,
	userRepo repositories.UserRepository,
	otpStore *cache.EmailOTPStore,
	limiter *cache.AttemptLimiter,
	generator *otp.Generator,
	email EmailService,
	deviceTrust *DeviceTrustService,
	tokens *auth.TokenManager,
	logger *slog.Logger,
	emailOTPTTL time.Duration,
) *LoginService {
	return &LoginService{
		enrollmentRepo: enrollmentRepo,
		backupCodeRepo: backupCodeRepo,
		policyRepo:     policyRepo,
		userRepo:       userRepo,
		otpStore:       otpStore,
		limiter:        limiter,
		generator:      generator,
		email:          email,
		deviceTrust:    deviceTrust,
		tokens:         tokens,
		logger:         logger,
		emailOTPTTL:    emailOTPTTL,
	}
}

// SendLoginOtp generates and emails a fresh login code for a user enrolled
// with the email method. A new code displaces any outstanding one.
func (s *LoginService) SendLoginOtp(ctx context.Context, userID string) error {
	enrollment, err := s.enrollmentRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotEnrolled
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !enrollment.IsActive() || enrollment.Method != models.MethodEmailOTP {
		return models.ErrNotEnrolled
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	code, err := s.generator.GenerateEmailOTP()
	if err != nil {
		s.logger.Error("failed to generate login OTP", slog.Any("error", err))
		return err
	}

	hash := sha256.Sum256([]byte(code))
	if err := s.otpStore.Save(ctx, userID, hash, s.emailOTPTTL); err != nil {
		s.logger.Error("failed to store login OTP", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.SendOneTimeCode(ctx, user.Email, code, time.Now().Add(s.emailOTPTTL)); err != nil {
		s.logger.Error("failed to send login OTP", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("login OTP sent", slog.String("user_id", userID))
	return nil
}

// VerifyLogin checks one submitted code against the user's active
// enrollment or their backup codes. Success issues a short-lived verified
// assertion and, when requested and allowed by policy, trusts the device.
func (s *LoginService) VerifyLogin(ctx context.Context, in LoginVerifyInput) (*LoginVerifyResult, error) {
	if err := s.limiter.Check(ctx, in.UserID); err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			return nil, models.ErrRateLimited
		}
		s.logger.Error("failed to check attempt count", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	enrollment, err := s.enrollmentRepo.Get(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotEnrolled
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !enrollment.IsActive() {
		return nil, models.ErrNotEnrolled
	}

	method := in.Method
	if method == "" {
		method = enrollment.Method
	}

	var match bool
	switch method {
	case models.MethodAuthenticator:
		if enrollment.Method != models.MethodAuthenticator {
			return nil, models.ErrBadRequest
		}
		match, err = s.verifyTOTP(ctx, enrollment, in.Code)
	case models.MethodEmailOTP:
		if enrollment.Method != models.MethodEmailOTP {
			return nil, models.ErrBadRequest
		}
		match, err = s.verifyEmailOTP(ctx, in.UserID, in.Code)
	case models.MethodBackupCode:
		match, err = s.verifyBackupCode(ctx, in.UserID, in.Code)
	default:
		return nil, models.ErrBadRequest
	}
	if err != nil {
		return nil, err
	}

	if !match {
		if err := s.limiter.RecordFailure(ctx, in.UserID); err != nil {
			s.logger.Error("failed to record failed attempt", slog.Any("error", err))
		}
		s.logger.Warn("invalid MFA code at login",
			slog.String("user_id", in.UserID),
			slog.String("method", string(method)))
		return nil, models.ErrInvalidCode
	}

	if err := s.limiter.Reset(ctx, in.UserID); err != nil {
		s.logger.Error("failed to reset attempt count", slog.Any("error", err))
	}

	result := &LoginVerifyResult{Method: method}

	if in.RememberDevice && in.DeviceFingerprint != "" {
		// Trust failures do not fail the login; the code was correct.
		policy, perr := s.policyRepo.Get(ctx)
		if perr != nil {
			s.logger.Error("failed to load policy for device trust", slog.Any("error", perr))
		} else if policy.RememberDeviceDays > 0 {
			if terr := s.deviceTrust.Trust(ctx, in.UserID, in.DeviceFingerprint, policy.RememberDeviceDays); terr != nil {
				s.logger.Error("failed to trust device", slog.Any("error", terr))
			} else {
				until := time.Now().Add(time.Duration(policy.RememberDeviceDays) * 24 * time.Hour)
				result.DeviceTrusted = true
				result.TrustedUntil = &until
			}
		}
	}

	assertion, err := s.tokens.IssueAssertion(in.UserID, method)
	if err != nil {
		s.logger.Error("failed to issue verified assertion", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	result.Assertion = assertion

	s.logger.Info("MFA challenge passed",
		slog.String("user_id", in.UserID),
		slog.String("method", string(method)))

	return result, nil
}

// verifyTOTP compares the code against the three steps in the drift window
// and claims the matched step so the same code cannot pass twice.
func (s *LoginService) verifyTOTP(ctx context.Context, enrollment *models.Enrollment, code string) (bool, error) {
	secret, err := s.generator.DecryptSecret(enrollment.TOTPSecretEncrypted, enrollment.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			slog.String("user_id", enrollment.UserID),
			slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	now := time.Now()
	currentStep := otp.TimeStep(now)

	var matchedStep int64
	matched := false
	for offset := int64(-1); offset <= 1; offset++ {
		at := now.Add(time.Duration(offset*otp.Period) * time.Second)
		expected, cerr := s.generator.ComputeTOTPCode(string(secret), at)
		if cerr != nil {
			s.logger.Error("failed to compute TOTP code", slog.Any("error", cerr))
			return false, models.ErrInternalServer
		}
		// Scan the whole window regardless of early match; comparison
		// time must not reveal which step matched.
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !matched {
			matched = true
			matchedStep = currentStep + offset
		}
	}

	if !matched {
		return false, nil
	}

	claimed, err := s.enrollmentRepo.ClaimTOTPStep(ctx, enrollment.UserID, matchedStep)
	if err != nil {
		s.logger.Error("failed to claim TOTP step", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	return claimed, nil
}

// verifyEmailOTP takes the stored code hash out of the cache and compares.
// The stored code is removed on any attempt against it, so a wrong guess
// burns the code.
func (s *LoginService) verifyEmailOTP(ctx context.Context, userID, code string) (bool, error) {
	stored, err := s.otpStore.Take(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to take login OTP", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	submitted := sha256.Sum256([]byte(code))
	return subtle.ConstantTimeCompare(submitted[:], stored[:]) == 1, nil
}

// verifyBackupCode scans the user's unused codes and marks the matching one
// used. The conditional update means exactly one concurrent attempt wins.
func (s *LoginService) verifyBackupCode(ctx context.Context, userID, code string) (bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))

	codes, err := s.backupCodeRepo.ListUnused(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list backup codes", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	for _, bc := range codes {
		if bcrypt.CompareHashAndPassword([]byte(bc.CodeHash), []byte(normalized)) != nil {
			continue
		}
		used, merr := s.backupCodeRepo.MarkUsed(ctx, bc.ID)
		if merr != nil {
			s.logger.Error("failed to mark backup code used", slog.Any("error", merr))
			return false, models.ErrInternalServer
		}
		if used {
			remaining, cerr := s.backupCodeRepo.CountUnused(ctx, userID)
			if cerr == nil && remaining <= 2 {
				s.logger.Warn("backup codes running low",
					slog.String("user_id", userID),
					slog.Int("remaining", remaining))
			}
			return true, nil
		}
		// Lost the race for this code; no other code can match.
		return false, nil
	}

	return false, nil
}
