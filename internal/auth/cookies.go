package auth

import (
	"net/http"
	"time"
)

const (
	// SessionCookieName carries the host session token for browser requests
	SessionCookieName = "session_token"
	// PendingBackupCodesCookieName marks that the next manage visit should issue backup codes
	PendingBackupCodesCookieName = "totp_backup_pending"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// ClearSessionCookie drops the session cookie, forcing the browser to log in again
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, SessionCookieName, config)
}

// GetSessionCookie retrieves the session token from cookies
func GetSessionCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// SetPendingBackupCodesCookie stores the signed "generate backup codes" marker
func SetPendingBackupCodesCookie(w http.ResponseWriter, token string, maxAge time.Duration, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     PendingBackupCodesCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// GetPendingBackupCodesCookie returns the marker token, empty when absent
func GetPendingBackupCodesCookie(r *http.Request) string {
	cookie, err := r.Cookie(PendingBackupCodesCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearPendingBackupCodesCookie removes the marker once the codes were shown
func ClearPendingBackupCodesCookie(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, PendingBackupCodesCookieName, config)
}

func clearCookie(w http.ResponseWriter, name string, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
