package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BradenHooton/totpguard/internal/auth"
	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/BradenHooton/totpguard/internal/services"
	pkghttp "github.com/BradenHooton/totpguard/pkg/http"
)

// ForgotPath is the page that sends recovery links
const ForgotPath = "/totp/forgot"

// Flash texts of the forgot flow
const (
	forgotInvalidCSRF  = "Invalid CSRF token. Please try again."
	forgotRateLimited  = "Too many 2FA reset requests. Please try again later."
	forgotSendFailed   = "The email could not be sent. Please try again later."
	forgotLinkRejected = "The link is invalid or has expired"
	forgotResetDone    = "2FA has been disabled. Please log in again."
	forgotDisabled     = "Forgot 2FA function is not enabled."
	forgotUnavailable  = "2FA could not be reset. Please try again later."
)

// ForgotServiceInterface defines the recovery contract
type ForgotServiceInterface interface {
	Enabled() bool
	RequestReset(ctx context.Context, req services.ForgotRequest) (*models.SignedLink, error)
	VerifyAndReset(ctx context.Context, query url.Values) (*models.User, error)
}

// ForgotHandlerConfig holds the settings of the recovery endpoints
type ForgotHandlerConfig struct {
	// HomePath receives the redirect when the function is turned off
	HomePath   string
	LogoutPath string
	Cookies    auth.CookieConfig
	IPConfig   *pkghttp.IPConfig
	// FailureDelay pads rejected link redemptions; nil disables padding
	FailureDelay *auth.FailureDelay
}

// ForgotHandler handles the lost authenticator flow
type ForgotHandler struct {
	service ForgotServiceInterface
	csrf    CSRFTokens
	cfg     ForgotHandlerConfig
	logger  *slog.Logger
}

// NewForgotHandler creates a new forgot handler
func NewForgotHandler(service ForgotServiceInterface, csrf CSRFTokens, cfg ForgotHandlerConfig, logger *slog.Logger) *ForgotHandler {
	return &ForgotHandler{
		service: service,
		csrf:    csrf,
		cfg:     cfg,
		logger:  logger,
	}
}

// Forgot handles GET and POST /totp/forgot. A POST with send set emails the link;
// anything else renders the page.
func (h *ForgotHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	req := services.ForgotRequest{
		UserID:        claims.UserID,
		ClientAddress: pkghttp.ExtractClientIP(r, h.cfg.IPConfig),
	}
	if r.Method == http.MethodPost {
		req.Send = formBool(r, "send")
		req.CSRFToken = r.PostFormValue("_csrf_token")
	}

	link, err := h.service.RequestReset(r.Context(), req)
	var limited *services.RateLimitError
	switch {
	case errors.Is(err, models.ErrFeatureDisabled):
		pkghttp.RedirectWithFlash(w, r, h.homePath(), pkghttp.FlashWarning, forgotDisabled)
		return
	case errors.Is(err, models.ErrInvalidCSRFToken):
		pkghttp.RedirectWithFlash(w, r, ForgotPath, pkghttp.FlashError, forgotInvalidCSRF)
		return
	case errors.As(err, &limited):
		h.logger.WarnContext(r.Context(), "recovery email rate limited",
			slog.Int64("user_id", claims.UserID),
			slog.Duration("retry_after", limited.RetryAfter))
		pkghttp.RedirectWithFlash(w, r, ForgotPath, pkghttp.FlashError, forgotRateLimited)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "failed to send recovery email",
			slog.Int64("user_id", claims.UserID),
			slog.Any("error", err))
		pkghttp.RedirectWithFlash(w, r, ForgotPath, pkghttp.FlashError, forgotSendFailed)
		return
	}

	if link != nil {
		pkghttp.RedirectWithFlash(w, r, ForgotPath, pkghttp.FlashSuccess,
			"An email with a link to reset 2FA has been sent. "+link.ExpirationMessage())
		return
	}

	token, err := h.csrf.GenerateToken(claims.UserID, models.CSRFActionForgot)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue CSRF token", slog.Any("error", err))
		pkghttp.RedirectWithFlash(w, r, h.homePath(), pkghttp.FlashError, forgotUnavailable)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, ForgotPageResponse{
		CSRFToken: token,
		Flash:     pkghttp.PopFlash(w, r),
	})
}

// VerifyForgot handles GET /totp/forgot/verify. Every rejected link gets the same
// message after the same minimum delay.
func (h *ForgotHandler) VerifyForgot(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	user, err := h.service.VerifyAndReset(r.Context(), r.URL.Query())
	switch {
	case errors.Is(err, models.ErrFeatureDisabled):
		pkghttp.RedirectWithFlash(w, r, h.homePath(), pkghttp.FlashWarning, forgotDisabled)
		return
	case errors.Is(err, models.ErrLinkRejected):
		h.cfg.FailureDelay.WaitFrom(r.Context(), start)
		pkghttp.RedirectWithFlash(w, r, h.cfg.LogoutPath, pkghttp.FlashError, forgotLinkRejected)
		return
	case errors.Is(err, models.ErrAuditSinkFailure):
		auth.ClearSessionCookie(w, h.cfg.Cookies)
		h.logger.ErrorContext(r.Context(), "audit sink failed", slog.String("op", "verify forgot"), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Audit logging failed")
		return
	case err != nil:
		h.cfg.FailureDelay.WaitFrom(r.Context(), start)
		h.logger.ErrorContext(r.Context(), "failed to redeem recovery link", slog.Any("error", err))
		pkghttp.RedirectWithFlash(w, r, h.cfg.LogoutPath, pkghttp.FlashError, forgotUnavailable)
		return
	}

	h.logger.InfoContext(r.Context(), "2FA disabled through recovery link", slog.Int64("user_id", user.ID))
	auth.ClearSessionCookie(w, h.cfg.Cookies)
	pkghttp.RedirectWithFlash(w, r, h.cfg.LogoutPath, pkghttp.FlashSuccess, forgotResetDone)
}

func (h *ForgotHandler) homePath() string {
	if h.cfg.HomePath == "" {
		return "/"
	}
	return h.cfg.HomePath
}

// ForgotButton handles GET /totp/forgot/btn
func (h *ForgotHandler) ForgotButton(w http.ResponseWriter, r *http.Request) {
	if !h.service.Enabled() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, ForgotButtonResponse{Enabled: true})
}
