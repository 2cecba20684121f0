package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/totpguard/internal/auth"
	"github.com/BradenHooton/totpguard/internal/handlers"
	"github.com/BradenHooton/totpguard/internal/middleware"
	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/go-chi/chi/v5"
)

// Dependencies are the handlers and guards the 2FA routes are built from
type Dependencies struct {
	TOTP            *handlers.TOTPHandler
	Forgot          *handlers.ForgotHandler
	TokenManager    *auth.TokenManager
	CSRF            *auth.CSRFTokenManager
	Users           auth.UserRepository
	HomePath        string
	VerifyRateLimit middleware.RateLimitConfig
	Logger          *slog.Logger
}

// RegisterRoutes registers all 2FA routes
func RegisterRoutes(router chi.Router, d Dependencies) {
	csrf := func(action, redirectTo string) func(http.Handler) http.Handler {
		return middleware.CSRFProtection(d.CSRF, action, redirectTo, d.Logger)
	}

	// Public route - the signed link is the credential
	router.With(middleware.RateLimitByIP(d.VerifyRateLimit)).Get("/totp/forgot/verify", d.Forgot.VerifyForgot)

	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(d.TokenManager))

		// Issued to both session kinds; the forgot page needs one before 2FA completes
		r.Get("/totp/csrf/{action}", d.TOTP.CSRFToken)

		// Sessions waiting for the second factor
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireTwoFactorInProgress)
			r.Get("/totp/forgot", d.Forgot.Forgot)
			r.Post("/totp/forgot", d.Forgot.Forgot)
			r.Get("/totp/forgot/btn", d.Forgot.ForgotButton)
		})

		// Fully authenticated users
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireFullyAuthenticated)
			r.Get("/totp/manage", d.TOTP.Manage)
			r.Get("/totp/qrcode", d.TOTP.QRCode)
			r.With(csrf(models.CSRFActionEnable, handlers.ManagePath)).Post("/totp/enable", d.TOTP.Enable)
			r.With(csrf(models.CSRFActionDisable, handlers.ManagePath)).Post("/totp/disable", d.TOTP.Disable)
			r.With(csrf(models.CSRFActionClearTrusted, handlers.ManagePath)).Post("/totp/cleartd", d.TOTP.ClearTrusted)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(d.Users, models.RoleAdmin))
				r.Get("/totp/admin/users", d.TOTP.ListUsers)
				r.With(csrf(models.CSRFActionAdminDisable, d.HomePath)).Post("/totp/disable/{id}", d.TOTP.DisableOther)
				r.With(csrf(models.CSRFActionAdminClearTrusted, d.HomePath)).Post("/totp/clearotd/{id}", d.TOTP.ClearOtherTrusted)
			})
		})
	})
}
