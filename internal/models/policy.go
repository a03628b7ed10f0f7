package models

import (
	"slices"
	"time"
)

// Policy is the organization-wide MFA policy singleton, edited by
// administrators.
type Policy struct {
	Enforced           bool     `json:"enforced"`
	AllowedMethods     []Method `json:"allowed_methods"`
	RequiredRoles      []string `json:"required_roles"`
	GracePeriodDays    int      `json:"grace_period_days"`
	RememberDeviceDays int      `json:"remember_device_days"`
	// EnforcedAt records when enforcement was last switched on; the grace
	// period for pre-existing accounts is measured from this instant.
	EnforcedAt *time.Time `json:"enforced_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DefaultPolicy is the unenforced policy a fresh deployment starts with.
func DefaultPolicy() *Policy {
	return &Policy{
		Enforced:           false,
		AllowedMethods:     EnrollmentMethods(),
		RequiredRoles:      []string{},
		GracePeriodDays:    7,
		RememberDeviceDays: 30,
	}
}

// MfaRequirement is the policy decision returned to the login flow.
type MfaRequirement struct {
	Required          bool     `json:"required"`
	GracePeriodActive bool     `json:"grace_period_active"`
	AllowedMethods    []Method `json:"allowed_methods"`
}

// AppliesTo reports whether the policy demands MFA for a user with the
// given role, ignoring device trust.
func (p *Policy) AppliesTo(role string) bool {
	return p.Enforced || slices.Contains(p.RequiredRoles, role)
}

// Validate rejects configurations under which no method could ever satisfy
// enrollment. Called at save time, before persistence, never at login time.
func (p *Policy) Validate() error {
	if p.GracePeriodDays < 0 || p.RememberDeviceDays < 0 {
		return ErrPolicyMisconfigured
	}
	if (p.Enforced || len(p.RequiredRoles) > 0) && len(p.AllowedMethods) == 0 {
		return ErrPolicyMisconfigured
	}
	for _, m := range p.AllowedMethods {
		if !m.IsEnrollable() {
			return ErrPolicyMisconfigured
		}
	}
	return nil
}
