package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/services"
	pkghttp "github.com/twofold-auth/twofold/pkg/http"
)

// PolicyHandler handles admin MFA policy requests
type PolicyHandler struct {
	policyService *services.PolicyService
	logger        *slog.Logger
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(policyService *services.PolicyService, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{policyService: policyService, logger: logger}
}

// GetPolicy handles GET /admin/mfa/policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policyService.GetPolicy(r.Context())
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, policyToResponse(policy))
}

// UpdatePolicy handles PUT /admin/mfa/policy
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	policy := &models.Policy{
		Enforced:           req.Enforced,
		AllowedMethods:     methodsFromStrings(req.AllowedMethods),
		RequiredRoles:      req.RequiredRoles,
		GracePeriodDays:    req.GracePeriodDays,
		RememberDeviceDays: req.RememberDeviceDays,
	}
	if policy.RequiredRoles == nil {
		policy.RequiredRoles = []string{}
	}

	saved, err := h.policyService.SavePolicy(r.Context(), policy)
	if err != nil {
		h.logger.Warn("policy update rejected", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, policyToResponse(saved))
}

func policyToResponse(p *models.Policy) PolicyResponse {
	return PolicyResponse{
		Enforced:           p.Enforced,
		AllowedMethods:     methodsToStrings(p.AllowedMethods),
		RequiredRoles:      p.RequiredRoles,
		GracePeriodDays:    p.GracePeriodDays,
		RememberDeviceDays: p.RememberDeviceDays,
		EnforcedAt:         p.EnforcedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}
