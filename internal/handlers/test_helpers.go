package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BradenHooton/totpguard/internal/auth"
	"github.com/BradenHooton/totpguard/internal/models"
	pkghttp "github.com/BradenHooton/totpguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewFormRequest creates a form encoded request for testing
func NewFormRequest(t *testing.T, method, target string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// WithAuthContext adds fully authenticated claims to the request context
func WithAuthContext(req *http.Request, userID int64, email string) *http.Request {
	return withClaims(req, userID, email, models.TokenTypeAccess)
}

// WithPendingContext adds claims of a session that still waits for the second factor
func WithPendingContext(req *http.Request, userID int64, email string) *http.Request {
	return withClaims(req, userID, email, models.TokenTypeTwoFactorPending)
}

func withClaims(req *http.Request, userID int64, email, tokenType string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   tokenType,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// AssertFlashRedirect checks a 303 redirect carrying a flash message
func AssertFlashRedirect(t *testing.T, w *httptest.ResponseRecorder, location, level, message string) {
	t.Helper()
	assert.Equal(t, http.StatusSeeOther, w.Code, "Response status mismatch")
	assert.Equal(t, location, w.Header().Get("Location"), "Redirect target mismatch")

	flash := FlashFromRecorder(w)
	if assert.NotNil(t, flash, "flash cookie missing") {
		assert.Equal(t, level, flash.Level)
		assert.Equal(t, message, flash.Message)
	}
}

// FlashFromRecorder decodes the flash cookie set on a response, nil when absent
func FlashFromRecorder(w *httptest.ResponseRecorder) *pkghttp.Flash {
	for _, c := range w.Result().Cookies() {
		if c.Name != pkghttp.FlashCookieName || c.Value == "" {
			continue
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(c)
		return pkghttp.PopFlash(httptest.NewRecorder(), req)
	}
	return nil
}

// CookieFromRecorder returns the named cookie set on a response
func CookieFromRecorder(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// WithChiRouteContext adds chi URL parameters to request context for testing
// This helper allows tests to set URL parameters that would normally be extracted
// by the Chi router from the URL path.
//
// Example usage:
//
//	req := httptest.NewRequest("POST", "/totp/disable/42", body)
//	req = WithChiRouteContext(req, map[string]string{
//	    "id": "42",
//	})
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
