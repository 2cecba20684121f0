package models

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token types
const (
	TokenTypeAccess = "access"
	// TokenTypeTwoFactorPending marks a session that passed the first factor and is
	// waiting for a TOTP code. Only the forgot-2FA endpoints accept it.
	TokenTypeTwoFactorPending = "2fa_pending"
)

// TokenClaims are the host application's session claims
type TokenClaims struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IsFullyAuthenticated reports whether the session completed every factor
func (c *TokenClaims) IsFullyAuthenticated() bool {
	return c.Type == TokenTypeAccess
}

// IsTwoFactorInProgress reports whether the session waits for the second factor
func (c *TokenClaims) IsTwoFactorInProgress() bool {
	return c.Type == TokenTypeTwoFactorPending
}

// CSRF action scopes
const (
	CSRFActionEnable            = "totp-enable"
	CSRFActionDisable           = "totp-disable"
	CSRFActionAdminDisable      = "totp-admin-disable"
	CSRFActionClearTrusted      = "totp-clear-trusted"
	CSRFActionAdminClearTrusted = "totp-admin-clear-trusted"
	CSRFActionForgot            = "totp-forgot"
)

// CSRFActions lists every scope a CSRF token can be issued for
var CSRFActions = []string{
	CSRFActionEnable,
	CSRFActionDisable,
	CSRFActionAdminDisable,
	CSRFActionClearTrusted,
	CSRFActionAdminClearTrusted,
	CSRFActionForgot,
}

// PendingBackupCodesAction scopes the short-lived cookie that asks the manage page to
// issue a fresh backup code batch. It is deliberately not a requestable CSRF action.
const PendingBackupCodesAction = "totp-backup-codes-pending"

// CSRFClaims bind a CSRF token to one action and one subject
type CSRFClaims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

// RecoveryAction is the only action a forgot-2FA link may authorize
const RecoveryAction = "svc_totp_verify_forgot"

// RecoveryClaims is the payload of a signed recovery link. The subject email is not
// carried; it is mixed into the signing key instead.
type RecoveryClaims struct {
	Action string            `json:"act"`
	Extra  map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// SignedLink is a freshly issued recovery link
type SignedLink struct {
	URL       string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// ExpirationMessage renders the link lifetime for emails and flash messages
func (l SignedLink) ExpirationMessage() string {
	switch {
	case l.ExpiresIn >= time.Hour && l.ExpiresIn%time.Hour == 0:
		if l.ExpiresIn == time.Hour {
			return "This link will expire in 1 hour."
		}
		return "This link will expire in " + strconv.Itoa(int(l.ExpiresIn/time.Hour)) + " hours."
	case l.ExpiresIn >= time.Minute:
		if l.ExpiresIn/time.Minute == 1 {
			return "This link will expire in 1 minute."
		}
		return "This link will expire in " + strconv.Itoa(int(l.ExpiresIn/time.Minute)) + " minutes."
	default:
		return "This link will expire shortly."
	}
}
