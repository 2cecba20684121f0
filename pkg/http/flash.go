package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// FlashCookieName holds the one-shot message shown after a redirect
const FlashCookieName = "flash"

// Flash levels
const (
	FlashSuccess = "success"
	FlashWarning = "warning"
	FlashError   = "error"
)

// Flash is a message carried across one redirect
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SetFlash stores a flash message for the next request
func SetFlash(w http.ResponseWriter, level, message string) {
	raw, err := json.Marshal(Flash{Level: level, Message: message})
	if err != nil {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlash returns the pending flash message, if any, and clears it
func PopFlash(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil {
		return nil
	}

	http.SetCookie(w, &http.Cookie{Name: FlashCookieName, Value: "", Path: "/", MaxAge: -1})

	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var f Flash
	if err := json.Unmarshal(raw, &f); err != nil || f.Message == "" {
		return nil
	}
	return &f
}

// RedirectWithFlash sets a flash message and answers with 303 See Other
func RedirectWithFlash(w http.ResponseWriter, r *http.Request, location, level, message string) {
	if message != "" {
		SetFlash(w, level, message)
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
