package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/totpguard/internal/auth"
	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/BradenHooton/totpguard/internal/services"
	pkghttp "github.com/BradenHooton/totpguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Routes the handlers redirect to
const (
	ManagePath = "/totp/manage"
	QRCodePath = "/totp/qrcode"
)

// TOTPServiceInterface defines the 2FA management contract
type TOTPServiceInterface interface {
	Manage(ctx context.Context, userID int64, pendingBackupCodes bool) (*services.ManageResult, error)
	QRCode(ctx context.Context, userID int64) ([]byte, error)
	Enable(ctx context.Context, userID int64) error
	Disable(ctx context.Context, userID int64, reset bool) (bool, error)
	DisableForUser(ctx context.Context, actor services.Actor, targetID int64, reset bool) (*models.User, bool, error)
	ClearTrusted(ctx context.Context, userID int64) error
	ClearTrustedForUser(ctx context.Context, actor services.Actor, targetID int64) (*models.User, error)
	ClearAllTrusted(ctx context.Context, actor services.Actor) (int64, error)
	ListUsers(ctx context.Context, limit, offset int) (*services.UserPage, error)
}

// CSRFTokens issues and checks action scoped tokens
type CSRFTokens interface {
	GenerateToken(userID int64, action string) (string, error)
	ValidateToken(token string, userID int64, action string) bool
}

// UserGetter loads the acting account
type UserGetter interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// TOTPHandlerConfig holds the paths and cookie settings of the 2FA pages
type TOTPHandlerConfig struct {
	HomePath string
	Cookies  auth.CookieConfig
	// PendingCodesTTL bounds how long the "show backup codes" marker survives
	PendingCodesTTL time.Duration
}

// TOTPHandler handles the 2FA management endpoints
type TOTPHandler struct {
	service TOTPServiceInterface
	csrf    CSRFTokens
	users   UserGetter
	cfg     TOTPHandlerConfig
	logger  *slog.Logger
}

// NewTOTPHandler creates a new TOTP handler
func NewTOTPHandler(service TOTPServiceInterface, csrf CSRFTokens, users UserGetter, cfg TOTPHandlerConfig, logger *slog.Logger) *TOTPHandler {
	if cfg.PendingCodesTTL <= 0 {
		cfg.PendingCodesTTL = 5 * time.Minute
	}
	return &TOTPHandler{
		service: service,
		csrf:    csrf,
		users:   users,
		cfg:     cfg,
		logger:  logger,
	}
}

// Manage handles GET /totp/manage
func (h *TOTPHandler) Manage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	pending := false
	if marker := auth.GetPendingBackupCodesCookie(r); marker != "" {
		pending = h.csrf.ValidateToken(marker, claims.UserID, models.PendingBackupCodesAction)
		auth.ClearPendingBackupCodesCookie(w, h.cfg.Cookies)
	}

	result, err := h.service.Manage(r.Context(), claims.UserID, pending)
	if err != nil {
		h.writeError(w, r, "manage page", err)
		return
	}

	tokens := make(map[string]string, 3)
	for _, action := range []string{models.CSRFActionEnable, models.CSRFActionDisable, models.CSRFActionClearTrusted} {
		token, err := h.csrf.GenerateToken(claims.UserID, action)
		if err != nil {
			h.writeError(w, r, "manage page", err)
			return
		}
		tokens[action] = token
	}

	resp := ManageResponse{
		User:        result.User,
		BackupCodes: result.BackupCodes,
		CSRFTokens:  tokens,
		Flash:       pkghttp.PopFlash(w, r),
	}
	if result.User.HasSecret && len(result.BackupCodes) == 0 {
		resp.QRCodeURL = QRCodePath
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// QRCode handles GET /totp/qrcode
func (h *TOTPHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	png, err := h.service.QRCode(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, r, "qr code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Enable handles POST /totp/enable
func (h *TOTPHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	err := h.service.Enable(r.Context(), claims.UserID)
	if errors.Is(err, models.ErrPreconditionFailed) {
		pkghttp.RedirectWithFlash(w, r, ManagePath, pkghttp.FlashWarning, "Cannot enable 2FA. Please scan the QR code first.")
		return
	}
	if err != nil {
		h.writeError(w, r, "enable 2FA", err)
		return
	}

	marker, err := h.csrf.GenerateToken(claims.UserID, models.PendingBackupCodesAction)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue backup code marker",
			slog.Int64("user_id", claims.UserID),
			slog.Any("error", err))
	} else {
		auth.SetPendingBackupCodesCookie(w, marker, h.cfg.PendingCodesTTL, h.cfg.Cookies)
	}

	pkghttp.RedirectWithFlash(w, r, ManagePath, pkghttp.FlashSuccess, "2FA has been enabled.")
}

// Disable handles POST /totp/disable
func (h *TOTPHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	form := DisableForm{Reset: formBool(r, "reset")}
	changed, err := h.service.Disable(r.Context(), claims.UserID, form.Reset)
	if err != nil {
		h.writeError(w, r, "disable 2FA", err)
		return
	}

	message := ""
	if changed {
		message = "2FA has been disabled."
		if form.Reset {
			message = "2FA has been reset."
		}
	}
	pkghttp.RedirectWithFlash(w, r, ManagePath, pkghttp.FlashSuccess, message)
}

// DisableOther handles POST /totp/disable/{id}
func (h *TOTPHandler) DisableOther(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	targetID, ok := pkghttp.ParsePositiveID(chi.URLParam(r, "id"))
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	form := DisableForm{Reset: formBool(r, "reset")}
	target, changed, err := h.service.DisableForUser(r.Context(), actor, targetID, form.Reset)
	if err != nil {
		h.writeError(w, r, "disable 2FA for user", err)
		return
	}

	message := ""
	if changed {
		verb := "disabled"
		if form.Reset {
			verb = "reset"
		}
		message = fmt.Sprintf("2FA for user %s %s.", target.Identifier(), verb)
	}
	pkghttp.RedirectWithFlash(w, r, h.cfg.HomePath, pkghttp.FlashSuccess, message)
}

// ClearTrusted handles POST /totp/cleartd. With allUsers set an administrator
// invalidates every remembered device.
func (h *TOTPHandler) ClearTrusted(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	form := ClearTrustedForm{AllUsers: formBool(r, "allUsers")}
	if !form.AllUsers {
		if err := h.service.ClearTrusted(r.Context(), claims.UserID); err != nil {
			h.writeError(w, r, "clear trusted devices", err)
			return
		}
		pkghttp.RedirectWithFlash(w, r, ManagePath, pkghttp.FlashSuccess, "Your trusted devices have been deleted.")
		return
	}

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if _, err := h.service.ClearAllTrusted(r.Context(), actor); err != nil {
		h.writeError(w, r, "clear all trusted devices", err)
		return
	}
	pkghttp.RedirectWithFlash(w, r, h.cfg.HomePath, pkghttp.FlashSuccess, "All trusted devices have been deleted.")
}

// ClearOtherTrusted handles POST /totp/clearotd/{id}
func (h *TOTPHandler) ClearOtherTrusted(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	targetID, ok := pkghttp.ParsePositiveID(chi.URLParam(r, "id"))
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	target, err := h.service.ClearTrustedForUser(r.Context(), actor, targetID)
	if err != nil {
		h.writeError(w, r, "clear trusted devices for user", err)
		return
	}
	pkghttp.RedirectWithFlash(w, r, h.cfg.HomePath, pkghttp.FlashSuccess,
		fmt.Sprintf("The trusted devices for user %s have been deleted.", target.Identifier()))
}

// ListUsers handles GET /totp/admin/users
// Accepts optional ?limit=N (1-100, default 20) and ?offset=N.
func (h *TOTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var query ListUsersQuery
	var err error
	if v := r.URL.Query().Get("limit"); v != "" {
		if query.Limit, err = strconv.Atoi(v); err != nil {
			pkghttp.WriteBadRequest(w, "limit must be a number")
			return
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if query.Offset, err = strconv.Atoi(v); err != nil {
			pkghttp.WriteBadRequest(w, "offset must be a number")
			return
		}
	}
	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	page, err := h.service.ListUsers(r.Context(), query.Limit, query.Offset)
	if err != nil {
		h.writeError(w, r, "list users", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, page)
}

// CSRFToken handles GET /totp/csrf/{action}
func (h *TOTPHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	action := chi.URLParam(r, "action")
	if !auth.IsKnownAction(action) {
		pkghttp.WriteNotFound(w, "Unknown action")
		return
	}

	token, err := h.csrf.GenerateToken(claims.UserID, action)
	if err != nil {
		h.writeError(w, r, "csrf token", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, CSRFTokenResponse{Action: action, Token: token})
}

// actor loads the calling administrator. Role is read from the store so a demoted
// admin loses access immediately.
func (h *TOTPHandler) actor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return services.Actor{}, false
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Unauthorized")
			return services.Actor{}, false
		}
		h.writeError(w, r, "load admin", err)
		return services.Actor{}, false
	}
	if !user.IsAdmin() {
		pkghttp.WriteForbidden(w, "insufficient permissions")
		return services.Actor{}, false
	}
	return services.Actor{ID: user.ID, Identifier: user.Identifier()}, true
}

// writeError maps service errors onto responses
func (h *TOTPHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrAuditSinkFailure):
		h.logger.ErrorContext(r.Context(), "audit sink failed", slog.String("op", op), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Audit logging failed")
	default:
		h.logger.ErrorContext(r.Context(), "2FA request failed", slog.String("op", op), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// formBool reads a checkbox style form field
func formBool(r *http.Request, name string) bool {
	v := r.PostFormValue(name)
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}
