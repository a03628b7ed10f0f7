package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/twofold-auth/twofold/internal/auth"
	"github.com/twofold-auth/twofold/internal/handlers"
	"github.com/twofold-auth/twofold/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	mfaHandler *handlers.MFAHandler,
	policyHandler *handlers.PolicyHandler,
	tokenManager *auth.TokenManager,
) {
	// Login-flow routes. These are called before the user holds an access
	// token, so they sit outside the auth middleware, behind per-IP limits.
	router.With(middleware.RateLimitByIP(middleware.SendRateLimit())).
		Post("/mfa/login/otp", mfaHandler.SendLoginOtp)
	router.With(middleware.RateLimitByIP(middleware.VerifyRateLimit())).
		Post("/mfa/login/verify", mfaHandler.VerifyLogin)
	router.With(middleware.RateLimitByIP(middleware.VerifyRateLimit())).
		Get("/mfa/requirement", mfaHandler.GetRequirement)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		r.Post("/mfa/setup", mfaHandler.StartSetup)
		r.Post("/mfa/setup/restart", mfaHandler.RestartSetup)
		r.Get("/mfa/setup/sessions/{token}", mfaHandler.GetSessionStatus)
		r.Post("/mfa/setup/verify", mfaHandler.VerifySetup)
		r.Get("/mfa/status", mfaHandler.GetStatus)

		r.Delete("/mfa/devices", mfaHandler.RevokeAllDevices)
		r.Delete("/mfa/devices/{fingerprint}", mfaHandler.RevokeDevice)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			r.Get("/admin/mfa/policy", policyHandler.GetPolicy)
			r.Put("/admin/mfa/policy", policyHandler.UpdatePolicy)
		})
	})
}
