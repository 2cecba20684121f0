package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// 2FA state errors
	ErrPreconditionFailed = errors.New("2FA cannot be enabled without a provisioned secret")
	ErrTOTPNotEnabled     = errors.New("2FA is not enabled")
	ErrInvalidCode        = errors.New("invalid 2FA code")

	// Forgot-2FA errors
	ErrFeatureDisabled  = errors.New("forgot 2FA function is not enabled")
	ErrInvalidCSRFToken = errors.New("invalid CSRF token")
	ErrRateLimited      = errors.New("too many 2FA reset requests")

	// ErrLinkRejected is the common parent of every recovery link failure. Handlers
	// only ever show this one message so callers cannot probe which ids exist.
	ErrLinkRejected         = errors.New("the link is invalid or has expired")
	ErrInvalidLink          = &linkError{msg: "recovery link has no valid user id"}
	ErrUserNotFound         = &linkError{msg: "recovery link user does not exist"}
	ErrInvalidOrExpiredLink = &linkError{msg: "recovery link signature invalid or expired"}

	ErrAuditSinkFailure = errors.New("audit sink failed")
	ErrConfiguration    = errors.New("configuration error")
)

// linkError keeps the internal reason distinguishable while matching ErrLinkRejected.
type linkError struct {
	msg string
}

func (e *linkError) Error() string { return e.msg }

func (e *linkError) Is(target error) bool { return target == ErrLinkRejected }
