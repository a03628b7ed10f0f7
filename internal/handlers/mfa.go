package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/twofold-auth/twofold/internal/auth"
	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/services"
	pkghttp "github.com/twofold-auth/twofold/pkg/http"
)

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	setupService  *services.SetupService
	loginService  *services.LoginService
	policyService *services.PolicyService
	deviceTrust   *services.DeviceTrustService
	logger        *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(
	setupService *services.SetupService,
	loginService *services.LoginService,
	policyService *services.PolicyService,
	deviceTrust *services.DeviceTrustService,
	logger *slog.Logger,
) *MFAHandler {
	return &MFAHandler{
		setupService:  setupService,
		loginService:  loginService,
		policyService: policyService,
		deviceTrust:   deviceTrust,
		logger:        logger,
	}
}

// StartSetup handles POST /mfa/setup to begin enrollment
func (h *MFAHandler) StartSetup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req StartSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.setupService.StartSetup(r.Context(), user.UserID, models.Method(req.Method))
	if err != nil {
		h.logger.Warn("failed to start MFA setup",
			slog.String("user_id", user.UserID),
			slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, StartSetupResponse{
		SessionToken: result.SessionToken,
		Method:       string(result.Method),
		Secret:       result.Secret,
		OtpauthURL:   result.OtpauthURL,
		QRCode:       result.QRCode,
		ExpiresAt:    result.ExpiresAt,
	})
}

// RestartSetup handles POST /mfa/setup/restart to reissue a setup session
func (h *MFAHandler) RestartSetup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	result, err := h.setupService.RestartSetup(r.Context(), user.UserID)
	if err != nil {
		h.logger.Warn("failed to restart MFA setup",
			slog.String("user_id", user.UserID),
			slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, StartSetupResponse{
		SessionToken: result.SessionToken,
		Method:       string(result.Method),
		Secret:       result.Secret,
		OtpauthURL:   result.OtpauthURL,
		QRCode:       result.QRCode,
		ExpiresAt:    result.ExpiresAt,
	})
}

// GetSessionStatus handles GET /mfa/setup/sessions/{token}
func (h *MFAHandler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	token := chi.URLParam(r, "token")
	if _, err := uuid.Parse(token); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid session token")
		return
	}

	valid, err := h.setupService.ValidateSession(r.Context(), token)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionStatusResponse{Valid: valid})
}

// VerifySetup handles POST /mfa/setup/verify to activate enrollment
func (h *MFAHandler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req VerifySetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.setupService.VerifySetup(r.Context(), req.SessionToken, req.Code)
	if err != nil {
		h.logger.Warn("failed to verify MFA setup",
			slog.String("user_id", user.UserID),
			slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifySetupResponse{
		Success:     true,
		BackupCodes: result.BackupCodes,
		Assertion:   result.Assertion,
	})
}

// GetStatus handles GET /mfa/status
func (h *MFAHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	status, err := h.setupService.GetStatus(r.Context(), user.UserID)
	if err != nil {
		h.logger.Error("failed to get MFA status", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:               string(status.Status),
		Method:               string(status.Method),
		ActivatedAt:          status.ActivatedAt,
		BackupCodesRemaining: status.BackupCodesRemaining,
	})
}

// SendLoginOtp handles POST /mfa/login/otp for the login flow
func (h *MFAHandler) SendLoginOtp(w http.ResponseWriter, r *http.Request) {
	var req SendLoginOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.loginService.SendLoginOtp(r.Context(), req.UserID); err != nil {
		h.logger.Warn("failed to send login OTP",
			slog.String("user_id", req.UserID),
			slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

// VerifyLogin handles POST /mfa/login/verify
func (h *MFAHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req VerifyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if !isValidCodeFormat(req.Code) {
		pkghttp.WriteBadRequest(w, "Invalid code format")
		return
	}

	result, err := h.loginService.VerifyLogin(r.Context(), services.LoginVerifyInput{
		UserID:            req.UserID,
		Code:              req.Code,
		Method:            models.Method(req.Method),
		RememberDevice:    req.RememberDevice,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		h.logger.Warn("MFA login verification failed",
			slog.String("user_id", req.UserID),
			slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyLoginResponse{
		Assertion:     result.Assertion,
		Method:        string(result.Method),
		DeviceTrusted: result.DeviceTrusted,
		TrustedUntil:  result.TrustedUntil,
	})
}

// GetRequirement handles GET /mfa/requirement for the login flow
func (h *MFAHandler) GetRequirement(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "user_id must be a valid UUID")
		return
	}
	fingerprint := r.URL.Query().Get("device_fingerprint")

	requirement, err := h.policyService.EvaluateRequirement(r.Context(), userID, fingerprint)
	if err != nil {
		h.logger.Error("failed to evaluate MFA requirement",
			slog.String("user_id", userID),
			slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RequirementResponse{
		Required:          requirement.Required,
		GracePeriodActive: requirement.GracePeriodActive,
		AllowedMethods:    methodsToStrings(requirement.AllowedMethods),
	})
}

// RevokeDevice handles DELETE /mfa/devices/{fingerprint}
func (h *MFAHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		pkghttp.WriteBadRequest(w, "fingerprint is required")
		return
	}

	if err := h.deviceTrust.Revoke(r.Context(), user.UserID, fingerprint); err != nil {
		h.logger.Error("failed to revoke device trust", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeAllDevices handles DELETE /mfa/devices
func (h *MFAHandler) RevokeAllDevices(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	if err := h.deviceTrust.RevokeAll(r.Context(), user.UserID); err != nil {
		h.logger.Error("failed to revoke device trusts", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// isValidCodeFormat checks code shape before any service work:
// 6 digits for one-time codes, or 8 characters from the backup code
// charset, case-insensitive (digits 2-9 and letters excluding I, L, O).
func isValidCodeFormat(code string) bool {
	if len(code) == 6 {
		for _, ch := range code {
			if ch < '0' || ch > '9' {
				return false
			}
		}
		return true
	}

	if len(code) == 8 {
		for _, ch := range code {
			upper := ch
			if ch >= 'a' && ch <= 'z' {
				upper = ch - 'a' + 'A'
			}
			if !((upper >= '2' && upper <= '9') ||
				(upper >= 'A' && upper <= 'H') ||
				upper == 'J' || upper == 'K' ||
				upper == 'M' || upper == 'N' ||
				(upper >= 'P' && upper <= 'Z')) {
				return false
			}
		}
		return true
	}

	return false
}
