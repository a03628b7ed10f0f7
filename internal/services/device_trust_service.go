package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/repositories"
)

// DeviceTrustService manages "remember this device" grants.
type DeviceTrustService struct {
	trustRepo repositories.DeviceTrustRepository
	logger    *slog.Logger
}

// NewDeviceTrustService creates a new device trust service
func NewDeviceTrustService(trustRepo repositories.DeviceTrustRepository, logger *slog.Logger) *DeviceTrustService {
	return &DeviceTrustService{trustRepo: trustRepo, logger: logger}
}

// IsTrusted reports whether the device may skip the MFA challenge. An
// expired or missing record means not trusted; errors also report not
// trusted so storage trouble never weakens the gate.
func (s *DeviceTrustService) IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}

	trust, err := s.trustRepo.Get(ctx, userID, fingerprint)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return trust.Valid(time.Now()), nil
}

// Trust upserts a grant lasting the given number of days.
func (s *DeviceTrustService) Trust(ctx context.Context, userID, fingerprint string, days int) error {
	if days <= 0 || fingerprint == "" {
		return nil
	}

	trustedUntil := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	if err := s.trustRepo.Upsert(ctx, userID, fingerprint, trustedUntil); err != nil {
		return err
	}

	s.logger.Info("device trusted",
		slog.String("user_id", userID),
		slog.Time("trusted_until", trustedUntil))

	return nil
}

// Revoke drops the grant for one device. Idempotent.
func (s *DeviceTrustService) Revoke(ctx context.Context, userID, fingerprint string) error {
	return s.trustRepo.Delete(ctx, userID, fingerprint)
}

// RevokeAll drops every grant for the user, e.g. after a password change.
// Idempotent.
func (s *DeviceTrustService) RevokeAll(ctx context.Context, userID string) error {
	if err := s.trustRepo.DeleteAll(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("all trusted devices revoked", slog.String("user_id", userID))
	return nil
}
