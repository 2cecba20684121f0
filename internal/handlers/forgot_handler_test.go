package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/BradenHooton/totpguard/internal/auth"
	"github.com/BradenHooton/totpguard/internal/handlers"
	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/BradenHooton/totpguard/internal/services"
	pkghttp "github.com/BradenHooton/totpguard/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLinkSecret = "handler-test-link-secret-0123456789abcdef"

type forgotHandlerFixture struct {
	store   *services.MockUserStore
	sink    *services.MockAuditSink
	mailer  *services.MockMailer
	csrf    *auth.CSRFTokenManager
	handler *handlers.ForgotHandler
}

func newForgotHandlerFixture(t *testing.T, enabled bool, users ...*models.User) *forgotHandlerFixture {
	t.Helper()
	signer, err := auth.NewLinkSigner(testLinkSecret, "https://app.example.com/totp/forgot/verify", time.Hour)
	require.NoError(t, err)
	csrf, err := auth.NewCSRFTokenManager(testCSRFSecret, 15*time.Minute)
	require.NoError(t, err)

	f := &forgotHandlerFixture{
		store:  services.NewMockUserStore(users...),
		sink:   &services.MockAuditSink{},
		mailer: &services.MockMailer{},
		csrf:   csrf,
	}
	svc, err := services.NewForgotService(enabled, services.ForgotDeps{
		Users:   f.store,
		Signer:  signer,
		CSRF:    csrf,
		Limiter: services.NewMemorySlidingWindowLimiter(services.ForgotRateLimitPolicy),
		Mailer:  f.mailer,
		Audit:   services.NewAuditLogger(f.sink, discardLogger(), false),
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	f.handler = handlers.NewForgotHandler(svc, csrf, handlers.ForgotHandlerConfig{
		HomePath:     "/home",
		LogoutPath:   "/logout",
		FailureDelay: auth.NewFailureDelay(20*time.Millisecond, 0),
	}, discardLogger())
	return f
}

func (f *forgotHandlerFixture) send(t *testing.T, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	token, err := f.csrf.GenerateToken(userID, models.CSRFActionForgot)
	require.NoError(t, err)

	form := url.Values{"send": {"1"}, "_csrf_token": {token}}
	req := handlers.WithPendingContext(handlers.NewFormRequest(t, http.MethodPost, handlers.ForgotPath, form), userID, "alice@example.com")
	w := httptest.NewRecorder()
	f.handler.Forgot(w, req)
	return w
}

func (f *forgotHandlerFixture) verify(t *testing.T, rawQuery string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.handler.VerifyForgot(w, httptest.NewRequest(http.MethodGet, "/totp/forgot/verify?"+rawQuery, nil))
	return w
}

func (f *forgotHandlerFixture) lastLinkQuery(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mailer.Sent)
	u, err := url.Parse(f.mailer.Sent[len(f.mailer.Sent)-1].Link.URL)
	require.NoError(t, err)
	return u.RawQuery
}

// ── Forgot ─────────────────────────────────────────────────────────────────

func TestForgot_Render_IssuesCSRFToken(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))

	req := handlers.WithPendingContext(httptest.NewRequest(http.MethodGet, handlers.ForgotPath, nil), 2, "alice@example.com")
	w := httptest.NewRecorder()
	f.handler.Forgot(w, req)

	var resp handlers.ForgotPageResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, f.csrf.ValidateToken(resp.CSRFToken, 2, models.CSRFActionForgot))
	assert.Empty(t, f.mailer.Sent)
}

func TestForgot_Send_EmailsLink(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))

	w := f.send(t, 2)

	handlers.AssertFlashRedirect(t, w, handlers.ForgotPath, pkghttp.FlashSuccess,
		"An email with a link to reset 2FA has been sent. This link will expire in 1 hour.")
	require.Len(t, f.mailer.Sent, 1)
	assert.Equal(t, "alice@example.com", f.mailer.Sent[0].To)
	assert.Empty(t, f.sink.Events)
}

func TestForgot_InvalidCSRF_RedirectsWithError(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))

	form := url.Values{"send": {"1"}, "_csrf_token": {"bogus"}}
	req := handlers.WithPendingContext(handlers.NewFormRequest(t, http.MethodPost, handlers.ForgotPath, form), 2, "alice@example.com")
	w := httptest.NewRecorder()
	f.handler.Forgot(w, req)

	handlers.AssertFlashRedirect(t, w, handlers.ForgotPath, pkghttp.FlashError, "Invalid CSRF token. Please try again.")
	assert.Empty(t, f.mailer.Sent)
}

func TestForgot_FourthRequest_RateLimited(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))

	for i := 0; i < 3; i++ {
		w := f.send(t, 2)
		require.Equal(t, http.StatusSeeOther, w.Code)
	}
	w := f.send(t, 2)

	handlers.AssertFlashRedirect(t, w, handlers.ForgotPath, pkghttp.FlashError, "Too many 2FA reset requests. Please try again later.")
	assert.Len(t, f.mailer.Sent, 3)
}

func TestForgot_MailerFailure_RedirectsWithError(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))
	f.mailer.SendRecoveryEmailFunc = func(ctx context.Context, to string, link *models.SignedLink) error {
		return errors.New("smtp down")
	}

	w := f.send(t, 2)

	handlers.AssertFlashRedirect(t, w, handlers.ForgotPath, pkghttp.FlashError, "The email could not be sent. Please try again later.")
}

func TestForgot_FeatureDisabled_RedirectsHome(t *testing.T) {
	f := newForgotHandlerFixture(t, false, newEnabledUser(2, "alice@example.com"))

	t.Run("send", func(t *testing.T) {
		w := f.send(t, 2)
		handlers.AssertFlashRedirect(t, w, "/home", pkghttp.FlashWarning, "Forgot 2FA function is not enabled.")
	})

	t.Run("render", func(t *testing.T) {
		req := handlers.WithPendingContext(httptest.NewRequest(http.MethodGet, handlers.ForgotPath, nil), 2, "alice@example.com")
		w := httptest.NewRecorder()
		f.handler.Forgot(w, req)
		handlers.AssertFlashRedirect(t, w, "/home", pkghttp.FlashWarning, "Forgot 2FA function is not enabled.")
	})

	assert.Empty(t, f.mailer.Sent)
}

// ── VerifyForgot ───────────────────────────────────────────────────────────

func TestVerifyForgot_ValidLink_DisablesAndLogsOut(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))
	f.send(t, 2)

	w := f.verify(t, f.lastLinkQuery(t))

	handlers.AssertFlashRedirect(t, w, "/logout", pkghttp.FlashSuccess, "2FA has been disabled. Please log in again.")
	session := handlers.CookieFromRecorder(w, auth.SessionCookieName)
	require.NotNil(t, session)
	assert.Less(t, session.MaxAge, 0)

	stored := f.store.Get(2)
	assert.False(t, stored.IsEnabled())
	assert.True(t, stored.HasSecret())
	assert.Equal(t, []models.TOTPEvent{models.EventReset}, f.sink.Kinds())
}

func TestVerifyForgot_RejectedLinks_ShareOneMessage(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))
	f.send(t, 2)
	valid, err := url.ParseQuery(f.lastLinkQuery(t))
	require.NoError(t, err)

	tampered := url.Values{}
	for k, v := range valid {
		tampered[k] = v
	}
	tampered.Set(auth.SignatureParam, "AAAA")

	unknown := url.Values{}
	for k, v := range valid {
		unknown[k] = v
	}
	unknown.Set("id", "999")

	tests := []struct {
		name  string
		query string
	}{
		{name: "missing id", query: ""},
		{name: "non numeric id", query: "id=abc"},
		{name: "unknown user", query: unknown.Encode()},
		{name: "bad signature", query: tampered.Encode()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			w := f.verify(t, tt.query)

			handlers.AssertFlashRedirect(t, w, "/logout", pkghttp.FlashError, "The link is invalid or has expired")
			assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
			assert.Nil(t, handlers.CookieFromRecorder(w, auth.SessionCookieName))
		})
	}
	assert.True(t, f.store.Get(2).IsEnabled())
}

func TestVerifyForgot_FeatureDisabled_RedirectsHome(t *testing.T) {
	f := newForgotHandlerFixture(t, false)

	w := f.verify(t, "id=2")

	handlers.AssertFlashRedirect(t, w, "/home", pkghttp.FlashWarning, "Forgot 2FA function is not enabled.")
}

func TestVerifyForgot_StoreFailure_RedirectsWithError(t *testing.T) {
	f := newForgotHandlerFixture(t, true, newEnabledUser(2, "alice@example.com"))
	f.send(t, 2)
	f.store.SaveTOTPStateFunc = func(ctx context.Context, user *models.User) error {
		return errors.New("connection refused")
	}

	w := f.verify(t, f.lastLinkQuery(t))

	handlers.AssertFlashRedirect(t, w, "/logout", pkghttp.FlashError, "2FA could not be reset. Please try again later.")
	assert.Nil(t, handlers.CookieFromRecorder(w, auth.SessionCookieName))
	assert.True(t, f.store.Get(2).IsEnabled())
	assert.Empty(t, f.sink.Kinds())
}

// ── ForgotButton ───────────────────────────────────────────────────────────

func TestForgotButton(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newForgotHandlerFixture(t, false)
		w := httptest.NewRecorder()
		f.handler.ForgotButton(w, httptest.NewRequest(http.MethodGet, "/totp/forgot/btn", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.Bytes())
	})

	t.Run("enabled", func(t *testing.T) {
		f := newForgotHandlerFixture(t, true)
		w := httptest.NewRecorder()
		f.handler.ForgotButton(w, httptest.NewRequest(http.MethodGet, "/totp/forgot/btn", nil))

		var resp handlers.ForgotButtonResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.True(t, resp.Enabled)
	})
}
