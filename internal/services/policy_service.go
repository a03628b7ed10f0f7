package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/repositories"
)

// PolicyService owns the organization MFA policy and answers the login
// flow's "does this sign-in need a second factor" question.
type PolicyService struct {
	policyRepo     repositories.PolicyRepository
	enrollmentRepo repositories.EnrollmentRepository
	userRepo       repositories.UserRepository
	deviceTrust    *DeviceTrustService
	logger         *slog.Logger
}

// NewPolicyService creates a new policy service
func NewPolicyService(
	policyRepo repositories.PolicyRepository,
	enrollmentRepo repositories.EnrollmentRepository,
	userRepo repositories.UserRepository,
	deviceTrust *DeviceTrustService,
	logger *slog.Logger,
) *PolicyService {
	return &PolicyService{
		policyRepo:     policyRepo,
		enrollmentRepo: enrollmentRepo,
		userRepo:       userRepo,
		deviceTrust:    deviceTrust,
		logger:         logger,
	}
}

// GetPolicy returns the current policy.
func (s *PolicyService) GetPolicy(ctx context.Context) (*models.Policy, error) {
	policy, err := s.policyRepo.Get(ctx)
	if err != nil {
		s.logger.Error("failed to load MFA policy", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return policy, nil
}

// SavePolicy validates and persists a policy update. EnforcedAt is stamped
// when enforcement flips on so grace periods measure from that moment, and
// preserved across edits while enforcement stays on.
func (s *PolicyService) SavePolicy(ctx context.Context, policy *models.Policy) (*models.Policy, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	current, err := s.policyRepo.Get(ctx)
	if err != nil {
		s.logger.Error("failed to load MFA policy", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if policy.Enforced {
		if current.Enforced && current.EnforcedAt != nil {
			policy.EnforcedAt = current.EnforcedAt
		} else {
			now := time.Now()
			policy.EnforcedAt = &now
		}
	} else {
		policy.EnforcedAt = nil
	}

	if err := s.policyRepo.Save(ctx, policy); err != nil {
		s.logger.Error("failed to save MFA policy", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("MFA policy updated",
		slog.Bool("enforced", policy.Enforced),
		slog.Int("grace_period_days", policy.GracePeriodDays))

	return policy, nil
}

// EvaluateRequirement decides whether this sign-in must pass an MFA
// challenge. A valid device trust grant always skips the challenge;
// otherwise the requirement follows policy alone: enforced globally or
// targeted at the user's role. Enrollment never creates a requirement by
// itself; it only determines how a required challenge is satisfied. An
// unenrolled user inside the grace window is let through with the
// grace flag set so the login flow can prompt for enrollment.
func (s *PolicyService) EvaluateRequirement(ctx context.Context, userID, deviceFingerprint string) (*models.MfaRequirement, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	policy, err := s.policyRepo.Get(ctx)
	if err != nil {
		s.logger.Error("failed to load MFA policy", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	requirement := &models.MfaRequirement{
		AllowedMethods: policy.AllowedMethods,
	}

	trusted, terr := s.deviceTrust.IsTrusted(ctx, userID, deviceFingerprint)
	if terr != nil {
		s.logger.Error("failed to check device trust", slog.Any("error", terr))
		trusted = false
	}
	if trusted {
		return requirement, nil
	}

	if !policy.AppliesTo(user.Role) {
		return requirement, nil
	}

	enrollment, err := s.enrollmentRepo.Get(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to load enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	enrolled := enrollment != nil && enrollment.IsActive()

	if !enrolled && s.withinGracePeriod(policy, user) {
		requirement.GracePeriodActive = true
		return requirement, nil
	}

	requirement.Required = true
	return requirement, nil
}

// withinGracePeriod measures the grace window from whichever is later:
// account creation or the moment enforcement switched on. Pre-existing
// accounts get the full window when a policy is first enforced.
func (s *PolicyService) withinGracePeriod(policy *models.Policy, user *models.User) bool {
	if policy.GracePeriodDays <= 0 {
		return false
	}

	start := user.CreatedAt
	if policy.EnforcedAt != nil && policy.EnforcedAt.After(start) {
		start = *policy.EnforcedAt
	}

	deadline := start.Add(time.Duration(policy.GracePeriodDays) * 24 * time.Hour)
	return time.Now().Before(deadline)
}
