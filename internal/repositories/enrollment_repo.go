package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twofold-auth/twofold/internal/models"
)

// EnrollmentRepository defines MFA enrollment persistence operations
type EnrollmentRepository interface {
	Get(ctx context.Context, userID string) (*models.Enrollment, error)
	SetPending(ctx context.Context, userID string, method models.Method, secretEncrypted, secretNonce []byte) error
	// Activate flips the pending enrollment to active and commits the
	// secret that was actually verified. The pending row's candidate is
	// overwritten: a displaced setup session must never leave its secret
	// behind on an activated enrollment.
	Activate(ctx context.Context, userID string, secretEncrypted, secretNonce []byte) error
	// ClaimTOTPStep atomically records the accepted TOTP time step. It
	// returns false when the step was already claimed, which rejects
	// replays of the same code within its window.
	ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error)
	Delete(ctx context.Context, userID string) error
}

type enrollmentRepoImpl struct {
	db *pgxpool.Pool
}

// NewEnrollmentRepository creates a new enrollment repository
func NewEnrollmentRepository(db *pgxpool.Pool) EnrollmentRepository {
	return &enrollmentRepoImpl{db: db}
}

// Get retrieves a user's enrollment. A user without a row is NotEnrolled,
// so absence maps to models.ErrNotFound and callers decide the default.
func (r *enrollmentRepoImpl) Get(ctx context.Context, userID string) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{}

	query := `
		SELECT user_id, status, method, totp_secret_encrypted, totp_secret_nonce,
		       last_used_step, activated_at, created_at, updated_at
		FROM mfa_enrollments
		WHERE user_id = $1
	`

	err := r.db.QueryRow(ctx, query, userID).Scan(
		&enrollment.UserID,
		&enrollment.Status,
		&enrollment.Method,
		&enrollment.TOTPSecretEncrypted,
		&enrollment.TOTPSecretNonce,
		&enrollment.LastUsedStep,
		&enrollment.ActivatedAt,
		&enrollment.CreatedAt,
		&enrollment.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}

	return enrollment, nil
}

// SetPending upserts the enrollment into pending_setup with the candidate
// secret. A restart overwrites any prior candidate.
func (r *enrollmentRepoImpl) SetPending(ctx context.Context, userID string, method models.Method, secretEncrypted, secretNonce []byte) error {
	query := `
		INSERT INTO mfa_enrollments (user_id, status, method, totp_secret_encrypted, totp_secret_nonce)
		VALUES ($1, 'pending_setup', $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			status = 'pending_setup',
			method = EXCLUDED.method,
			totp_secret_encrypted = EXCLUDED.totp_secret_encrypted,
			totp_secret_nonce = EXCLUDED.totp_secret_nonce,
			last_used_step = NULL,
			activated_at = NULL,
			updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, userID, method, secretEncrypted, secretNonce); err != nil {
		return fmt.Errorf("failed to set pending enrollment: %w", err)
	}

	return nil
}

// Activate flips a pending enrollment to active with the verified secret.
func (r *enrollmentRepoImpl) Activate(ctx context.Context, userID string, secretEncrypted, secretNonce []byte) error {
	query := `
		UPDATE mfa_enrollments
		SET status = 'active',
		    totp_secret_encrypted = $2,
		    totp_secret_nonce = $3,
		    activated_at = NOW(),
		    updated_at = NOW()
		WHERE user_id = $1 AND status = 'pending_setup'
	`

	tag, err := r.db.Exec(ctx, query, userID, secretEncrypted, secretNonce)
	if err != nil {
		return fmt.Errorf("failed to activate enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ClaimTOTPStep uses a conditional update as the compare-and-swap: only one
// request can advance last_used_step to a given value.
func (r *enrollmentRepoImpl) ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	query := `
		UPDATE mfa_enrollments
		SET last_used_step = $2, updated_at = NOW()
		WHERE user_id = $1 AND status = 'active'
		  AND (last_used_step IS NULL OR last_used_step < $2)
	`

	tag, err := r.db.Exec(ctx, query, userID, step)
	if err != nil {
		return false, fmt.Errorf("failed to claim TOTP step: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Delete removes a user's enrollment row.
func (r *enrollmentRepoImpl) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM mfa_enrollments WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	return nil
}
