package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/twofold-auth/twofold/internal/auth"
	"github.com/twofold-auth/twofold/internal/cache"
	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/otp"
	"github.com/twofold-auth/twofold/internal/repositories"
)

// SetupConfig holds enrollment configuration
type SetupConfig struct {
	SessionTTL      time.Duration
	EmailOTPTTL     time.Duration
	BackupCodeCount int
}

// SetupResult is the one-time secret material returned from StartSetup.
// The candidate secret leaves the server here and never again.
type SetupResult struct {
	SessionToken string
	Method       models.Method
	Secret       string // base32, authenticator method only
	OtpauthURL   string
	QRCode       string // PNG data URL
	ExpiresAt    time.Time
}

// ActivationResult is returned once when setup verification succeeds.
// Backup codes are never re-served in plaintext afterwards.
type ActivationResult struct {
	BackupCodes []string
	Assertion   string
}

// SetupService owns the enrollment flow: it issues setup sessions, binds
// candidate secrets to users, and activates enrollments on first verified
// code.
type SetupService struct {
	enrollmentRepo repositories.EnrollmentRepository
	backupCodeRepo repositories.BackupCodeRepository
	policyRepo     repositories.PolicyRepository
	userRepo       repositories.UserRepository
	sessions       *cache.SetupSessionStore
	limiter        *cache.AttemptLimiter
	generator      *otp.Generator
	email          EmailService
	tokens         *auth.TokenManager
	logger         *slog.Logger
	config         SetupConfig
}

// NewSetupService creates a new setup service
func NewSetupService(
	enrollmentRepo repositories.EnrollmentRepository,
	backupCodeRepo repositories.BackupCodeRepository,
	policyRepo repositories.PolicyRepository,
	userRepo repositories.UserRepository,
	sessions *cache.SetupSessionStore,
	limiter *cache.AttemptLimiter,
	generator *otp.Generator,
	email EmailService,
	tokens *auth.TokenManager,
	logger *slog.Logger,
	config SetupConfig,
) *SetupService {
	return &SetupService{
		enrollmentRepo: enrollmentRepo,
		backupCodeRepo: backupCodeRepo,
		policyRepo:     policyRepo,
		userRepo:       userRepo,
		sessions:       sessions,
		limiter:        limiter,
		generator:      generator,
		email:          email,
		tokens:         tokens,
		logger:         logger,
		config:         config,
	}
}

// StartSetup begins enrollment for the given method. Any prior unconsumed
// session for the user is displaced, so there is never ambiguity about
// which candidate secret is current.
func (s *SetupService) StartSetup(ctx context.Context, userID string, method models.Method) (*SetupResult, error) {
	if !method.IsEnrollable() {
		return nil, models.ErrBadRequest
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	policy, err := s.policyRepo.Get(ctx)
	if err != nil {
		s.logger.Error("failed to load MFA policy", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !slices.Contains(policy.AllowedMethods, method) {
		return nil, models.ErrBadRequest
	}

	enrollment, err := s.enrollmentRepo.Get(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if enrollment != nil && enrollment.IsActive() {
		return nil, models.ErrConflict
	}

	now := time.Now()
	session := &models.SetupSession{
		Token:     uuid.NewString(),
		UserID:    userID,
		Method:    method,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}
	result := &SetupResult{
		SessionToken: session.Token,
		Method:       method,
		ExpiresAt:    session.ExpiresAt,
	}

	var secretEncrypted, secretNonce []byte

	switch method {
	case models.MethodAuthenticator:
		key, err := s.generator.GenerateTOTPKey(user.Email)
		if err != nil {
			s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
			return nil, err
		}

		qr, err := s.generator.ProvisioningQR(key)
		if err != nil {
			s.logger.Error("failed to render provisioning QR", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		session.CandidateSecret = key.Secret()
		result.Secret = key.Secret()
		result.OtpauthURL = key.URL()
		result.QRCode = qr

		secretEncrypted, secretNonce, err = s.generator.EncryptSecret([]byte(key.Secret()))
		if err != nil {
			s.logger.Error("failed to encrypt candidate secret", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

	case models.MethodEmailOTP:
		code, err := s.generator.GenerateEmailOTP()
		if err != nil {
			s.logger.Error("failed to generate email OTP", slog.Any("error", err))
			return nil, err
		}

		session.EmailOTPHash = sha256.Sum256([]byte(code))
		// Setup codes ride the session TTL rather than the login OTP
		// window; the session is the thing being proven.
		if err := s.email.SendOneTimeCode(ctx, user.Email, code, session.ExpiresAt); err != nil {
			s.logger.Error("failed to send setup code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		s.logger.Error("failed to save setup session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.enrollmentRepo.SetPending(ctx, userID, method, secretEncrypted, secretNonce); err != nil {
		s.logger.Error("failed to set pending enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("MFA setup started",
		slog.String("user_id", userID),
		slog.String("method", string(method)))

	return result, nil
}

// RestartSetup discards any existing session for the user and starts a
// fresh one with the pending method. The response is the same whether or
// not a prior session existed.
func (s *SetupService) RestartSetup(ctx context.Context, userID string) (*SetupResult, error) {
	enrollment, err := s.enrollmentRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if enrollment.Status != models.StatusPendingSetup {
		return nil, models.ErrNotFound
	}

	if err := s.sessions.DeleteForUser(ctx, userID); err != nil {
		s.logger.Error("failed to invalidate setup session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return s.StartSetup(ctx, userID, enrollment.Method)
}

// ValidateSession reports whether the token names a live session. Pure
// lookup; never consumes.
func (s *SetupService) ValidateSession(ctx context.Context, token string) (bool, error) {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to look up setup session", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	return !session.Expired(time.Now()), nil
}

// VerifySetup checks the submitted code against the session's candidate
// secret. On success the session is consumed, the enrollment activates,
// and the freshly generated backup codes are returned exactly once. A
// mismatch leaves the session usable for bounded retries.
func (s *SetupService) VerifySetup(ctx context.Context, token, code string) (*ActivationResult, error) {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionExpired
		}
		s.logger.Error("failed to look up setup session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if session.Expired(time.Now()) {
		return nil, models.ErrSessionExpired
	}

	if err := s.limiter.Check(ctx, session.UserID); err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			return nil, models.ErrRateLimited
		}
		s.logger.Error("failed to check attempt count", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	var match bool
	switch session.Method {
	case models.MethodAuthenticator:
		match, err = s.generator.ValidateTOTPCode(session.CandidateSecret, code, time.Now())
		if err != nil {
			s.logger.Error("TOTP validation error", slog.Any("error", err))
			match = false
		}
	case models.MethodEmailOTP:
		submitted := sha256.Sum256([]byte(code))
		match = subtle.ConstantTimeCompare(submitted[:], session.EmailOTPHash[:]) == 1
	}

	if !match {
		if err := s.limiter.RecordFailure(ctx, session.UserID); err != nil {
			s.logger.Error("failed to record failed attempt", slog.Any("error", err))
		}
		s.logger.Warn("invalid code during MFA setup", slog.String("user_id", session.UserID))
		return nil, models.ErrInvalidCode
	}

	// Exactly-once consume; a concurrent verify loses the race here.
	consumed, err := s.sessions.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionExpired
		}
		s.logger.Error("failed to consume setup session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The consumed session is the source of truth for the secret. The
	// pending row may hold a displaced session's candidate, so the
	// verified secret is written again at activation.
	var secretEncrypted, secretNonce []byte
	if consumed.Method == models.MethodAuthenticator {
		secretEncrypted, secretNonce, err = s.generator.EncryptSecret([]byte(consumed.CandidateSecret))
		if err != nil {
			s.logger.Error("failed to encrypt verified secret", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	if err := s.enrollmentRepo.Activate(ctx, consumed.UserID, secretEncrypted, secretNonce); err != nil {
		s.logger.Error("failed to activate enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	backupCodes, err := s.generator.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, err
	}

	hashes := make([]string, len(backupCodes))
	for i, c := range backupCodes {
		hash, err := bcrypt.GenerateFromPassword([]byte(c), bcrypt.DefaultCost)
		if err != nil {
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		hashes[i] = string(hash)
	}

	if err := s.backupCodeRepo.ReplaceForUser(ctx, consumed.UserID, hashes); err != nil {
		s.logger.Error("failed to store backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.limiter.Reset(ctx, consumed.UserID); err != nil {
		s.logger.Error("failed to reset attempt count", slog.Any("error", err))
	}

	assertion, err := s.tokens.IssueAssertion(consumed.UserID, consumed.Method)
	if err != nil {
		s.logger.Error("failed to issue verified assertion", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("MFA enrollment activated",
		slog.String("user_id", consumed.UserID),
		slog.String("method", string(consumed.Method)))

	return &ActivationResult{BackupCodes: backupCodes, Assertion: assertion}, nil
}

// GetStatus returns the caller-facing enrollment summary.
func (s *SetupService) GetStatus(ctx context.Context, userID string) (*models.EnrollmentStatusSummary, error) {
	enrollment, err := s.enrollmentRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.EnrollmentStatusSummary{
				Status: models.StatusNotEnrolled,
				Method: models.MethodNone,
			}, nil
		}
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	remaining := 0
	if enrollment.IsActive() {
		remaining, err = s.backupCodeRepo.CountUnused(ctx, userID)
		if err != nil {
			s.logger.Error("failed to count backup codes", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	return &models.EnrollmentStatusSummary{
		Status:               enrollment.Status,
		Method:               enrollment.Method,
		ActivatedAt:          enrollment.ActivatedAt,
		BackupCodesRemaining: remaining,
	}, nil
}
