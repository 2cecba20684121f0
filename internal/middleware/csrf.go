package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/totpguard/internal/auth"
	pkghttp "github.com/BradenHooton/totpguard/pkg/http"
)

// CSRFFormField is the form field carrying the action scoped token
const CSRFFormField = "_csrf_token"

// CSRFHeader is accepted instead of the form field for script clients
const CSRFHeader = "X-CSRF-Token"

// CSRFInvalidMessage is the flash shown when a token is missing or wrong
const CSRFInvalidMessage = "Invalid CSRF token. Please try again."

// CSRFProtection validates the action scoped CSRF token of state-changing requests.
// The token must have been issued to the authenticated user for exactly this action.
// Failures redirect to redirectTo with an error flash; the handler is not called.
func CSRFProtection(csrfManager *auth.CSRFTokenManager, action, redirectTo string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only protect state-changing methods
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			claims := auth.GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			csrfToken := r.Header.Get(CSRFHeader)
			if csrfToken == "" {
				csrfToken = r.PostFormValue(CSRFFormField)
			}

			if !csrfManager.ValidateToken(csrfToken, claims.UserID, action) {
				logger.WarnContext(r.Context(), "CSRF token validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("action", action),
					slog.Int64("user_id", claims.UserID),
					slog.Bool("token_present", csrfToken != ""))
				pkghttp.RedirectWithFlash(w, r, redirectTo, pkghttp.FlashError, CSRFInvalidMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
