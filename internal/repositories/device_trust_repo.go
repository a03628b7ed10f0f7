package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twofold-auth/twofold/internal/models"
)

// DeviceTrustRepository defines device trust persistence operations
type DeviceTrustRepository interface {
	Get(ctx context.Context, userID, fingerprint string) (*models.DeviceTrust, error)
	Upsert(ctx context.Context, userID, fingerprint string, trustedUntil time.Time) error
	Delete(ctx context.Context, userID, fingerprint string) error
	DeleteAll(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type deviceTrustRepoImpl struct {
	db *pgxpool.Pool
}

// NewDeviceTrustRepository creates a new device trust repository
func NewDeviceTrustRepository(db *pgxpool.Pool) DeviceTrustRepository {
	return &deviceTrustRepoImpl{db: db}
}

// Get retrieves a trust record for a (user, fingerprint) pair.
func (r *deviceTrustRepoImpl) Get(ctx context.Context, userID, fingerprint string) (*models.DeviceTrust, error) {
	trust := &models.DeviceTrust{}

	query := `
		SELECT user_id, fingerprint, trusted_until, created_at
		FROM mfa_device_trust
		WHERE user_id = $1 AND fingerprint = $2
	`

	err := r.db.QueryRow(ctx, query, userID, fingerprint).Scan(
		&trust.UserID,
		&trust.Fingerprint,
		&trust.TrustedUntil,
		&trust.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device trust: %w", err)
	}

	return trust, nil
}

// Upsert writes or refreshes a trust grant.
func (r *deviceTrustRepoImpl) Upsert(ctx context.Context, userID, fingerprint string, trustedUntil time.Time) error {
	query := `
		INSERT INTO mfa_device_trust (user_id, fingerprint, trusted_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, fingerprint) DO UPDATE SET trusted_until = EXCLUDED.trusted_until
	`

	if _, err := r.db.Exec(ctx, query, userID, fingerprint, trustedUntil); err != nil {
		return fmt.Errorf("failed to upsert device trust: %w", err)
	}

	return nil
}

// Delete revokes one device. No error when the record does not exist.
func (r *deviceTrustRepoImpl) Delete(ctx context.Context, userID, fingerprint string) error {
	query := `DELETE FROM mfa_device_trust WHERE user_id = $1 AND fingerprint = $2`

	if _, err := r.db.Exec(ctx, query, userID, fingerprint); err != nil {
		return fmt.Errorf("failed to delete device trust: %w", err)
	}

	return nil
}

// DeleteAll revokes every device for a user, e.g. on password change.
func (r *deviceTrustRepoImpl) DeleteAll(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM mfa_device_trust WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete device trust records: %w", err)
	}
	return nil
}

// DeleteExpired prunes lapsed grants. Expired rows are already treated as
// absent by readers; this is storage hygiene only.
func (r *deviceTrustRepoImpl) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM mfa_device_trust WHERE trusted_until < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired device trust: %w", err)
	}

	return tag.RowsAffected(), nil
}
