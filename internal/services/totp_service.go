package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/BradenHooton/totpguard/internal/models"
)

// UserStore loads and persists the 2FA part of user accounts
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	SaveTOTPState(ctx context.Context, user *models.User) error
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	ListTOTPEnabled(ctx context.Context) ([]*models.User, error)
	Count(ctx context.Context) (int64, error)
}

// BulkTrustedVersionUpdater is implemented by stores that can bump every enabled
// account's trusted-device version in one statement
type BulkTrustedVersionUpdater interface {
	BulkIncrementTrustedVersion(ctx context.Context) (int64, error)
}

// TOTPProvider generates and checks TOTP secrets
type TOTPProvider interface {
	GenerateSecret() (string, error)
	ProvisioningURI(accountName, secret string) (string, error)
	QRCodePNG(uri string) ([]byte, error)
	ValidateCode(secret, code string) (bool, error)
}

// TOTPMetrics receives counters from TOTPService. Optional.
type TOTPMetrics interface {
	TrustedDevicesCleared(affected int64)
	CodeVerified(method string, ok bool)
}

// Actor is the administrator performing an action on another account
type Actor struct {
	ID         int64
	Identifier string
}

// Verification methods reported by VerifyCode
const (
	VerifyMethodTOTP       = "totp"
	VerifyMethodBackupCode = "backup_code"
)

// TOTPService implements the 2FA management operations. It holds no per-account
// state; every call reads the account, mutates it and saves it once.
type TOTPService struct {
	users      UserStore
	totp       TOTPProvider
	audit      *AuditLogger
	logger     *slog.Logger
	metrics    TOTPMetrics
	codeRand   io.Reader
	codeDigits int
}

// NewTOTPService creates a new TOTP service
func NewTOTPService(users UserStore, totp TOTPProvider, audit *AuditLogger, logger *slog.Logger) *TOTPService {
	return &TOTPService{
		users:      users,
		totp:       totp,
		audit:      audit,
		logger:     logger,
		codeDigits: models.DefaultBackupCodeDigits,
	}
}

// WithMetrics attaches a metrics receiver
func (s *TOTPService) WithMetrics(m TOTPMetrics) *TOTPService {
	s.metrics = m
	return s
}

// ManageResult is what the manage page renders
type ManageResult struct {
	User models.UserTOTPSummary
	// BackupCodes is set only right after enabling, for one-time display
	BackupCodes []string
	// SecretProvisioned reports that this visit created the secret
	SecretProvisioned bool
}

// Manage serves the manage page. With pendingBackupCodes a fresh batch is generated
// and returned instead of the QR view. Otherwise a secret is provisioned on first visit.
func (s *TOTPService) Manage(ctx context.Context, userID int64, pendingBackupCodes bool) (*ManageResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if pendingBackupCodes && user.IsEnabled() {
		codes, err := user.GenerateBackupCodes(s.codeRand, models.MaxBackupCodes, s.codeDigits)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to generate backup codes", slog.Int64("user_id", userID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		if err := s.users.SaveTOTPState(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to save backup codes: %w", err)
		}

		result := &ManageResult{User: user.Summary(), BackupCodes: codes}
		return result, s.log(ctx, "New backup codes generated", models.EventShowQR, user.ID)
	}

	var auditErr error
	result := &ManageResult{}
	if !user.HasSecret() {
		secret, err := s.totp.GenerateSecret()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to generate TOTP secret", slog.Int64("user_id", userID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		user.SetSecret(&secret)
		if err := s.users.SaveTOTPState(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to save TOTP secret: %w", err)
		}
		result.SecretProvisioned = true
		auditErr = s.log(ctx, "New QR code generated.", models.EventShowQR, user.ID)
	}

	if err := s.log(ctx, "Called TOTP manage page, show QR code", models.EventShowQR, user.ID); auditErr == nil {
		auditErr = err
	}
	result.User = user.Summary()
	return result, auditErr
}

// QRCode renders the provisioning URI as PNG. Returns nil without error when the
// account has no secret yet.
func (s *TOTPService) QRCode(ctx context.Context, userID int64) ([]byte, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasSecret() {
		return nil, nil
	}

	uri, err := s.totp.ProvisioningURI(user.Identifier(), *user.Secret)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build provisioning uri", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	png, err := s.totp.QRCodePNG(uri)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to render QR code", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return png, nil
}

// Enable switches 2FA on. Fails with ErrPreconditionFailed until a secret exists.
func (s *TOTPService) Enable(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Enable() {
		return models.ErrPreconditionFailed
	}
	if err := s.users.SaveTOTPState(ctx, user); err != nil {
		return fmt.Errorf("failed to enable 2FA: %w", err)
	}
	return s.log(ctx, "TOTP enabled", models.EventEnable, user.ID)
}

// Disable switches the caller's own 2FA off; reset also discards the secret.
// Returns false when 2FA was not enabled, in which case nothing is written.
func (s *TOTPService) Disable(ctx context.Context, userID int64, reset bool) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.IsEnabled() {
		return false, nil
	}

	user.Disable(reset)
	if err := s.users.SaveTOTPState(ctx, user); err != nil {
		return false, fmt.Errorf("failed to disable 2FA: %w", err)
	}

	if reset {
		return true, s.log(ctx, "TOTP reset", models.EventReset, user.ID)
	}
	return true, s.log(ctx, "TOTP disabled", models.EventDisable, user.ID)
}

// DisableForUser is the admin variant of Disable. The target is returned for display.
func (s *TOTPService) DisableForUser(ctx context.Context, actor Actor, targetID int64, reset bool) (*models.User, bool, error) {
	user, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, false, err
	}
	if !user.IsEnabled() {
		return user, false, nil
	}

	user.Disable(reset)
	if err := s.users.SaveTOTPState(ctx, user); err != nil {
		return nil, false, fmt.Errorf("failed to disable 2FA: %w", err)
	}

	if reset {
		return user, true, s.log(ctx, "TOTP reset by "+actor.Identifier, models.EventResetByAdmin, user.ID)
	}
	return user, true, s.log(ctx, "TOTP disabled by "+actor.Identifier, models.EventDisableByAdmin, user.ID)
}

// ClearTrusted invalidates the caller's own trusted devices
func (s *TOTPService) ClearTrusted(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	user.ClearTrustedDevices()
	if err := s.users.SaveTOTPState(ctx, user); err != nil {
		return fmt.Errorf("failed to clear trusted devices: %w", err)
	}
	return s.log(ctx, "TOTP trusted devices cleared", models.EventClearTrusted, user.ID)
}

// ClearTrustedForUser invalidates another account's trusted devices
func (s *TOTPService) ClearTrustedForUser(ctx context.Context, actor Actor, targetID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	user.ClearTrustedDevices()
	if err := s.users.SaveTOTPState(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to clear trusted devices: %w", err)
	}
	return user, s.log(ctx, "TOTP trusted devices cleared by "+actor.Identifier, models.EventClearTrustedByAdmin, user.ID)
}

// ClearAllTrusted bumps the trusted-device version of every account with 2FA enabled.
// The event is attributed to the administrator. Returns the number of accounts touched.
func (s *TOTPService) ClearAllTrusted(ctx context.Context, actor Actor) (int64, error) {
	var (
		affected int64
		err      error
	)
	if bulk, ok := s.users.(BulkTrustedVersionUpdater); ok {
		affected, err = bulk.BulkIncrementTrustedVersion(ctx)
	} else {
		affected, err = s.clearAllTrustedFallback(ctx)
	}
	if err != nil {
		return affected, err
	}

	if s.metrics != nil {
		s.metrics.TrustedDevicesCleared(affected)
	}

	ctx = WithAuditMetadata(ctx, models.AuditMetadata{"affected": affected})
	text := fmt.Sprintf("TOTP trusted devices (all) cleared by %s - %d users affected", actor.Identifier, affected)
	return affected, s.log(ctx, text, models.EventClearTrustedByAdmin, actor.ID)
}

// clearAllTrustedFallback is the per-row path for stores without a bulk update.
// It is not atomic: accounts saved before a failure keep their new version.
func (s *TOTPService) clearAllTrustedFallback(ctx context.Context) (int64, error) {
	users, err := s.users.ListTOTPEnabled(ctx)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, user := range users {
		user.ClearTrustedDevices()
		if err := s.users.SaveTOTPState(ctx, user); err != nil {
			return affected, fmt.Errorf("failed to clear trusted devices for user %d: %w", user.ID, err)
		}
		affected++
	}
	return affected, nil
}

// UserPage is one page of the admin overview
type UserPage struct {
	Users  []models.UserTOTPSummary `json:"users"`
	Total  int64                    `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// ListUsers returns the 2FA status of users for the admin overview
func (s *TOTPService) ListUsers(ctx context.Context, limit, offset int) (*UserPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}

	page := &UserPage{
		Users:  make([]models.UserTOTPSummary, 0, len(users)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, u := range users {
		page.Users = append(page.Users, u.Summary())
	}
	return page, nil
}

// VerifyCode checks a login code: the current TOTP first, then a backup code, which
// is burned on success. Returns the method that matched.
func (s *TOTPService) VerifyCode(ctx context.Context, userID int64, code string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.IsEnabled() {
		return "", models.ErrTOTPNotEnabled
	}

	valid, err := s.totp.ValidateCode(*user.Secret, code)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to validate TOTP code", slog.Int64("user_id", userID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}
	if valid {
		s.codeVerified(VerifyMethodTOTP, true)
		return VerifyMethodTOTP, nil
	}

	if user.ConsumeBackupCode(code) {
		if err := s.users.SaveTOTPState(ctx, user); err != nil {
			return "", fmt.Errorf("failed to consume backup code: %w", err)
		}
		s.logger.InfoContext(ctx, "backup code used",
			slog.Int64("user_id", userID),
			slog.Int("backup_codes_left", user.BackupCodeCount()))
		s.codeVerified(VerifyMethodBackupCode, true)
		return VerifyMethodBackupCode, nil
	}

	s.codeVerified(VerifyMethodTOTP, false)
	return "", models.ErrInvalidCode
}

// IsDeviceTrusted reports whether a remember-me token issued at version may skip
// the second factor
func (s *TOTPService) IsDeviceTrusted(ctx context.Context, userID int64, version int64) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsEnabled() && user.IsTrustedVersion(version), nil
}

func (s *TOTPService) codeVerified(method string, ok bool) {
	if s.metrics != nil {
		s.metrics.CodeVerified(method, ok)
	}
}

// log emits an audit event. The state change is already committed when this runs;
// the returned error is non-nil only in development.
func (s *TOTPService) log(ctx context.Context, text string, kind models.TOTPEvent, userID int64) error {
	_, err := s.audit.LogStrict(ctx, text, kind, userID)
	return err
}
