package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/BradenHooton/totpguard/internal/observability"
)

// LinkSigner issues and checks signed recovery links
type LinkSigner interface {
	Sign(action string, userID int64, email string, extra map[string]string) (*models.SignedLink, error)
	Validate(action string, query url.Values, userID int64, email string) error
}

// CSRFValidator checks action scoped CSRF tokens
type CSRFValidator interface {
	ValidateToken(token string, userID int64, action string) bool
}

// RecoveryRequestLogger records email requests in the operational log
type RecoveryRequestLogger interface {
	LogRecoveryRequest(ctx context.Context, userID int64, email, clientAddress string, accepted bool)
}

// ForgotMetrics receives counters from ForgotService. Optional.
type ForgotMetrics interface {
	RecoveryRequested(outcome string)
	RecoveryVerified(outcome string)
}

// ForgotRequest is one "send me a recovery link" call
type ForgotRequest struct {
	UserID        int64
	ClientAddress string
	CSRFToken     string
	// Send is false when the form is only rendered
	Send bool
}

// ForgotService implements recovery from a lost authenticator: a rate limited email
// with a signed link, and the redemption of that link. No request state is stored;
// everything the redemption needs is in the signed link and the live account.
type ForgotService struct {
	enabled  bool
	users    UserStore
	signer   LinkSigner
	csrf     CSRFValidator
	limiter  SlidingWindowLimiter
	mailer   Mailer
	audit    *AuditLogger
	requests RecoveryRequestLogger
	metrics  ForgotMetrics
	logger   *slog.Logger
}

// ForgotDeps groups the collaborators of ForgotService
type ForgotDeps struct {
	Users    UserStore
	Signer   LinkSigner
	CSRF     CSRFValidator
	Limiter  SlidingWindowLimiter
	Mailer   Mailer
	Audit    *AuditLogger
	Requests RecoveryRequestLogger
	Metrics  ForgotMetrics
	Logger   *slog.Logger
}

// NewForgotService creates the recovery service. When enabled, every collaborator
// except Requests and Metrics is required.
func NewForgotService(enabled bool, deps ForgotDeps) (*ForgotService, error) {
	if enabled {
		switch {
		case deps.Limiter == nil:
			return nil, fmt.Errorf("%w: forgot 2FA is enabled but no rate limiter is configured", models.ErrConfiguration)
		case deps.Mailer == nil:
			return nil, fmt.Errorf("%w: forgot 2FA is enabled but no mailer is configured", models.ErrConfiguration)
		case deps.Signer == nil || deps.CSRF == nil || deps.Users == nil || deps.Audit == nil:
			return nil, fmt.Errorf("%w: forgot 2FA is missing a dependency", models.ErrConfiguration)
		}
	}

	return &ForgotService{
		enabled:  enabled,
		users:    deps.Users,
		signer:   deps.Signer,
		csrf:     deps.CSRF,
		limiter:  deps.Limiter,
		mailer:   deps.Mailer,
		audit:    deps.Audit,
		requests: deps.Requests,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}, nil
}

// Enabled reports whether the forgot function is switched on
func (s *ForgotService) Enabled() bool {
	return s.enabled
}

// RequestReset emails a recovery link. The checks run in a fixed order: feature flag,
// CSRF, rate limit. A rejected request has no other effect. With Send false only the
// flag is checked and nil is returned.
func (s *ForgotService) RequestReset(ctx context.Context, req ForgotRequest) (*models.SignedLink, error) {
	if !s.enabled {
		return nil, models.ErrFeatureDisabled
	}
	if !req.Send {
		return nil, nil
	}

	if !s.csrf.ValidateToken(req.CSRFToken, req.UserID, models.CSRFActionForgot) {
		s.recordRequest(observability.OutcomeRejected)
		return nil, models.ErrInvalidCSRFToken
	}

	decision, err := s.limiter.Consume(ctx, req.ClientAddress)
	if err != nil {
		s.logger.ErrorContext(ctx, "recovery rate limiter unavailable",
			slog.String("ip_address", req.ClientAddress),
			slog.Any("error", err))
		s.recordRequest(observability.OutcomeFailed)
		return nil, fmt.Errorf("rate limiter unavailable: %w", err)
	}
	if !decision.Allowed {
		s.recordRequest(observability.OutcomeRateLimited)
		if s.requests != nil {
			s.requests.LogRecoveryRequest(ctx, req.UserID, "", req.ClientAddress, false)
		}
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		s.recordRequest(observability.OutcomeFailed)
		return nil, err
	}

	link, err := s.signer.Sign(models.RecoveryAction, user.ID, user.Email, map[string]string{
		"id": strconv.FormatInt(user.ID, 10),
	})
	if err != nil {
		s.recordRequest(observability.OutcomeFailed)
		return nil, fmt.Errorf("failed to sign recovery link: %w", err)
	}

	if err := s.mailer.SendRecoveryEmail(ctx, user.Email, link); err != nil {
		s.recordRequest(observability.OutcomeFailed)
		return nil, err
	}

	s.recordRequest(observability.OutcomeSent)
	if s.requests != nil {
		s.requests.LogRecoveryRequest(ctx, user.ID, user.Email, req.ClientAddress, true)
	}
	return link, nil
}

// VerifyAndReset redeems a recovery link. Validity is computed from the account as it
// is now, so a changed email invalidates outstanding links. On success 2FA is
// disabled with the secret kept, and the caller must end the session.
// Redeeming a link for an account that is already disabled changes nothing.
func (s *ForgotService) VerifyAndReset(ctx context.Context, query url.Values) (*models.User, error) {
	if !s.enabled {
		return nil, models.ErrFeatureDisabled
	}

	user, err := s.linkUser(ctx, query)
	if err != nil {
		s.recordVerify(observability.OutcomeRejected)
		return nil, err
	}

	if err := s.signer.Validate(models.RecoveryAction, query, user.ID, user.Email); err != nil {
		s.logger.WarnContext(ctx, "recovery link rejected",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err))
		s.recordVerify(observability.OutcomeRejected)
		return nil, err
	}

	if !user.IsEnabled() {
		s.recordVerify(observability.OutcomeReset)
		return user, nil
	}

	user.Disable(false)
	if err := s.users.SaveTOTPState(ctx, user); err != nil {
		s.recordVerify(observability.OutcomeFailed)
		return nil, fmt.Errorf("failed to disable 2FA: %w", err)
	}
	s.recordVerify(observability.OutcomeReset)

	_, err = s.audit.LogStrict(ctx, "TOTP disabled by forget function", models.EventReset, user.ID)
	return user, err
}

// linkUser resolves the id parameter to a live account
func (s *ForgotService) linkUser(ctx context.Context, query url.Values) (*models.User, error) {
	id, err := strconv.ParseInt(query.Get("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, models.ErrInvalidLink
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *ForgotService) recordRequest(outcome string) {
	if s.metrics != nil {
		s.metrics.RecoveryRequested(outcome)
	}
}

func (s *ForgotService) recordVerify(outcome string) {
	if s.metrics != nil {
		s.metrics.RecoveryVerified(outcome)
	}
}
