package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/meridian-erp/gatekeeper/internal/auth"
	"github.com/meridian-erp/gatekeeper/internal/handlers"
	"github.com/meridian-erp/gatekeeper/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	sessionHandler *handlers.SessionHandler,
	resetHandler *handlers.PasswordResetHandler,
	tokenManager *auth.TokenManager,
	sessionToucher auth.SessionToucher,
) {
	// Public routes - credential-bearing, rate limited per source IP
	router.With(middleware.RateLimitByIP(middleware.LoginRateLimit())).
		Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(middleware.LoginRateLimit())).
		Post("/auth/mfa/verify", authHandler.VerifyMFA)
	router.With(middleware.RateLimitByIP(middleware.RefreshRateLimit())).
		Post("/auth/refresh", authHandler.RefreshToken)
	router.With(middleware.RateLimitByIP(middleware.ResetRateLimit())).
		Post("/auth/password-reset/request", resetHandler.Request)
	router.With(middleware.RateLimitByIP(middleware.ResetRateLimit())).
		Post("/auth/password-reset/confirm", resetHandler.Confirm)

	// Protected routes - valid access token and live session required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager, sessionToucher))

		r.Post("/auth/logout", authHandler.Logout)

		r.Get("/auth/sessions", sessionHandler.List)
		r.Delete("/auth/sessions/{id}", sessionHandler.Revoke)

		r.Post("/auth/mfa/setup", mfaHandler.Setup)
		r.Post("/auth/mfa/confirm", mfaHandler.Confirm)
		r.Delete("/auth/mfa", mfaHandler.Disable)
	})
}
