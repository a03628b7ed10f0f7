package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twofold-auth/twofold/internal/models"
)

// PolicyRepository defines MFA policy persistence operations. The policy is
// a singleton row seeded by migration.
type PolicyRepository interface {
	Get(ctx context.Context) (*models.Policy, error)
	Save(ctx context.Context, policy *models.Policy) error
}

type policyRepoImpl struct {
	db *pgxpool.Pool
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *pgxpool.Pool) PolicyRepository {
	return &policyRepoImpl{db: db}
}

// Get reads the policy singleton.
func (r *policyRepoImpl) Get(ctx context.Context) (*models.Policy, error) {
	policy := &models.Policy{}
	var methods []string

	query := `
		SELECT enforced, allowed_methods, required_roles, grace_period_days,
		       remember_device_days, enforced_at, updated_at
		FROM mfa_policy
		WHERE id = 1
	`

	err := r.db.QueryRow(ctx, query).Scan(
		&policy.Enforced,
		&methods,
		&policy.RequiredRoles,
		&policy.GracePeriodDays,
		&policy.RememberDeviceDays,
		&policy.EnforcedAt,
		&policy.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get MFA policy: %w", err)
	}

	policy.AllowedMethods = make([]models.Method, len(methods))
	for i, m := range methods {
		policy.AllowedMethods[i] = models.Method(m)
	}

	return policy, nil
}

// Save writes the policy singleton. Validation happens in the service
// before this point.
func (r *policyRepoImpl) Save(ctx context.Context, policy *models.Policy) error {
	methods := make([]string, len(policy.AllowedMethods))
	for i, m := range policy.AllowedMethods {
		methods[i] = string(m)
	}

	query := `
		UPDATE mfa_policy
		SET enforced = $1,
		    allowed_methods = $2,
		    required_roles = $3,
		    grace_period_days = $4,
		    remember_device_days = $5,
		    enforced_at = $6,
		    updated_at = NOW()
		WHERE id = 1
	`

	if _, err := r.db.Exec(ctx, query,
		policy.Enforced,
		methods,
		policy.RequiredRoles,
		policy.GracePeriodDays,
		policy.RememberDeviceDays,
		policy.EnforcedAt,
	); err != nil {
		return fmt.Errorf("failed to save MFA policy: %w", err)
	}

	return nil
}
