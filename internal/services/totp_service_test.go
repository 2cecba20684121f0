package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/totpguard/internal/models"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func secretPtr() *string {
	s := testSecret
	return &s
}

func newEnabledUser(id int64, email string) *models.User {
	u := &models.User{ID: id, Email: email, Role: models.RoleUser}
	u.SetSecret(secretPtr())
	u.Enable()
	return u
}

type totpFixture struct {
	store   *MockUserStore
	sink    *MockAuditSink
	totp    *MockTOTPProvider
	metrics *MockMetrics
	svc     *TOTPService
}

func newTOTPFixture(t *testing.T, users ...*models.User) *totpFixture {
	t.Helper()
	f := &totpFixture{
		store:   NewMockUserStore(users...),
		sink:    &MockAuditSink{},
		totp:    &MockTOTPProvider{ValidCode: "123456"},
		metrics: &MockMetrics{},
	}
	f.svc = NewTOTPService(f.store, f.totp, NewAuditLogger(f.sink, discardLogger(), false), discardLogger()).
		WithMetrics(f.metrics)
	return f
}

// ============================================================================
// Manage / QR code
// ============================================================================

func TestTOTPService_Manage_ProvisionsSecretOnFirstVisit(t *testing.T) {
	f := newTOTPFixture(t, &models.User{ID: 1, Email: "alice@example.com"})

	result, err := f.svc.Manage(context.Background(), 1, false)

	require.NoError(t, err)
	assert.True(t, result.SecretProvisioned)
	assert.True(t, result.User.HasSecret)
	assert.False(t, result.User.TOTPEnabled)
	assert.Nil(t, result.BackupCodes)
	assert.Equal(t, testSecret, *f.store.Get(1).Secret)
	require.Len(t, f.sink.Events, 2)
	assert.Equal(t, "New QR code generated.", f.sink.Events[0].Text)
	assert.Equal(t, "Called TOTP manage page, show QR code", f.sink.Events[1].Text)
	assert.Equal(t, []models.TOTPEvent{models.EventShowQR, models.EventShowQR}, f.sink.Kinds())
}

func TestTOTPService_Manage_KeepsExistingSecret(t *testing.T) {
	u := &models.User{ID: 1, Email: "alice@example.com"}
	u.SetSecret(secretPtr())
	f := newTOTPFixture(t, u)
	f.totp.GenerateSecretFunc = func() (string, error) {
		t.Fatal("secret must not be regenerated")
		return "", nil
	}

	result, err := f.svc.Manage(context.Background(), 1, false)

	require.NoError(t, err)
	assert.False(t, result.SecretProvisioned)
	assert.Equal(t, 0, f.store.Saves)
	assert.Len(t, f.sink.Events, 1)
}

func TestTOTPService_Manage_PendingBackupCodes(t *testing.T) {
	f := newTOTPFixture(t, newEnabledUser(1, "alice@example.com"))

	result, err := f.svc.Manage(context.Background(), 1, true)

	require.NoError(t, err)
	require.Len(t, result.BackupCodes, models.MaxBackupCodes)
	for _, code := range result.BackupCodes {
		assert.Len(t, code, models.DefaultBackupCodeDigits)
	}
	assert.Equal(t, result.BackupCodes, f.store.Get(1).BackupCodes)
	require.Len(t, f.sink.Events, 1)
	assert.Equal(t, "New backup codes generated", f.sink.Events[0].Text)
}

func TestTOTPService_Manage_PendingIgnoredWhenDisabled(t *testing.T) {
	u := &models.User{ID: 1, Email: "alice@example.com"}
	u.SetSecret(secretPtr())
	f := newTOTPFixture(t, u)

	result, err := f.svc.Manage(context.Background(), 1, true)

	require.NoError(t, err)
	assert.Nil(t, result.BackupCodes)
}

func TestTOTPService_Manage_AuditFailureInDevelopment(t *testing.T) {
	store := NewMockUserStore(&models.User{ID: 1, Email: "alice@example.com"})
	sink := &MockAuditSink{Err: errors.New("sink down")}
	svc := NewTOTPService(store, &MockTOTPProvider{}, NewAuditLogger(sink, discardLogger(), true), discardLogger())

	result, err := svc.Manage(context.Background(), 1, false)

	assert.ErrorIs(t, err, models.ErrAuditSinkFailure)
	require.NotNil(t, result)
	// The secret was committed before the audit failed
	assert.True(t, store.Get(1).HasSecret())
}

func TestTOTPService_Manage_UnknownUser(t *testing.T) {
	f := newTOTPFixture(t)
	_, err := f.svc.Manage(context.Background(), 42, false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTOTPService_QRCode(t *testing.T) {
	withSecret := &models.User{ID: 1, Email: "alice@example.com"}
	withSecret.SetSecret(secretPtr())
	f := newTOTPFixture(t, withSecret, &models.User{ID: 2, Email: "bob@example.com"})

	png, err := f.svc.QRCode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "png:otpauth://totp/Test:alice@example.com?secret="+testSecret, string(png))

	png, err = f.svc.QRCode(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, png)
}

func TestTOTPService_QRCode_RenderError(t *testing.T) {
	u := &models.User{ID: 1, Email: "alice@example.com"}
	u.SetSecret(secretPtr())
	f := newTOTPFixture(t, u)
	f.totp.QRCodePNGFunc = func(uri string) ([]byte, error) { return nil, errors.New("too long") }

	_, err := f.svc.QRCode(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

// ============================================================================
// Enable / Disable
// ============================================================================

func TestTOTPService_Enable(t *testing.T) {
	u := &models.User{ID: 1, Email: "alice@example.com"}
	u.SetSecret(secretPtr())
	f := newTOTPFixture(t, u)

	require.NoError(t, f.svc.Enable(context.Background(), 1))

	assert.True(t, f.store.Get(1).IsEnabled())
	assert.Equal(t, []models.TOTPEvent{models.EventEnable}, f.sink.Kinds())
	assert.Equal(t, "TOTP enabled", f.sink.Events[0].Text)
}

func TestTOTPService_Enable_WithoutSecret(t *testing.T) {
	f := newTOTPFixture(t, &models.User{ID: 1, Email: "alice@example.com"})

	err := f.svc.Enable(context.Background(), 1)

	assert.ErrorIs(t, err, models.ErrPreconditionFailed)
	assert.False(t, f.store.Get(1).IsEnabled())
	assert.Equal(t, 0, f.store.Saves)
	assert.Empty(t, f.sink.Events)
}

func TestTOTPService_Disable(t *testing.T) {
	tests := []struct {
		name       string
		reset      bool
		wantKind   models.TOTPEvent
		wantText   string
		wantSecret bool
	}{
		{name: "disable keeps secret", reset: false, wantKind: models.EventDisable, wantText: "TOTP disabled", wantSecret: true},
		{name: "reset drops secret", reset: true, wantKind: models.EventReset, wantText: "TOTP reset", wantSecret: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newEnabledUser(1, "alice@example.com")
			u.ClearTrustedDevices()
			u.AddBackupCode("111111")
			f := newTOTPFixture(t, u)

			changed, err := f.svc.Disable(context.Background(), 1, tt.reset)

			require.NoError(t, err)
			assert.True(t, changed)
			stored := f.store.Get(1)
			assert.False(t, stored.IsEnabled())
			assert.Equal(t, int64(0), stored.TrustedDeviceVersion())
			assert.Empty(t, stored.BackupCodes)
			assert.Equal(t, tt.wantSecret, stored.HasSecret())
			require.Len(t, f.sink.Events, 1)
			assert.Equal(t, tt.wantKind, f.sink.Events[0].Kind)
			assert.Equal(t, tt.wantText, f.sink.Events[0].Text)
		})
	}
}

func TestTOTPService_Disable_NotEnabledIsNoop(t *testing.T) {
	f := newTOTPFixture(t, &models.User{ID: 1, Email: "alice@example.com"})

	changed, err := f.svc.Disable(context.Background(), 1, true)

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, f.store.Saves)
	assert.Empty(t, f.sink.Events)
}

func TestTOTPService_DisableForUser(t *testing.T) {
	f := newTOTPFixture(t, newEnabledUser(7, "bob@example.com"))
	admin := Actor{ID: 1, Identifier: "admin@example.com"}

	target, changed, err := f.svc.DisableForUser(context.Background(), admin, 7, true)

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "bob@example.com", target.Identifier())
	assert.False(t, f.store.Get(7).HasSecret())
	require.Len(t, f.sink.Events, 1)
	assert.Equal(t, AuditCall{Text: "TOTP reset by admin@example.com", Kind: models.EventResetByAdmin, UserID: 7}, f.sink.Events[0])

	target, changed, err = f.svc.DisableForUser(context.Background(), admin, 7, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NotNil(t, target)
	assert.Len(t, f.sink.Events, 1)
}

func TestTOTPService_DisableForUser_DisableText(t *testing.T) {
	f := newTOTPFixture(t, newEnabledUser(7, "bob@example.com"))

	_, _, err := f.svc.DisableForUser(context.Background(), Actor{ID: 1, Identifier: "root"}, 7, false)

	require.NoError(t, err)
	assert.Equal(t, AuditCall{Text: "TOTP disabled by root", Kind: models.EventDisableByAdmin, UserID: 7}, f.sink.Events[0])
	assert.True(t, f.store.Get(7).HasSecret())
}

// ============================================================================
// Trusted devices
// ============================================================================

func TestTOTPService_ClearTrusted(t *testing.T) {
	f := newTOTPFixture(t, newEnabledUser(1, "alice@example.com"))

	require.NoError(t, f.svc.ClearTrusted(context.Background(), 1))
	require.NoError(t, f.svc.ClearTrusted(context.Background(), 1))

	stored := f.store.Get(1)
	assert.Equal(t, int64(2), stored.TrustedDeviceVersion())
	assert.True(t, stored.IsEnabled())
	assert.Equal(t, []models.TOTPEvent{models.EventClearTrusted, models.EventClearTrusted}, f.sink.Kinds())
}

func TestTOTPService_ClearTrustedForUser(t *testing.T) {
	f := newTOTPFixture(t, newEnabledUser(7, "bob@example.com"))

	target, err := f.svc.ClearTrustedForUser(context.Background(), Actor{ID: 1, Identifier: "admin@example.com"}, 7)

	require.NoError(t, err)
	assert.Equal(t, int64(7), target.ID)
	assert.Equal(t, int64(1), f.store.Get(7).TrustedDeviceVersion())
	assert.Equal(t, AuditCall{Text: "TOTP trusted devices cleared by admin@example.com", Kind: models.EventClearTrustedByAdmin, UserID: 7}, f.sink.Events[0])
}

func seedMixedUsers() []*models.User {
	var users []*models.User
	for i := int64(1); i <= 5; i++ {
		users = append(users, newEnabledUser(i, "enabled@example.com"))
	}
	for i := int64(6); i <= 8; i++ {
		u := &models.User{ID: i, Email: "disabled@example.com"}
		u.SetSecret(secretPtr())
		users = append(users, u)
	}
	return users
}

func TestTOTPService_ClearAllTrusted_UsesBulkUpdate(t *testing.T) {
	f := newTOTPFixture(t, seedMixedUsers()...)
	bulk := &MockBulkUserStore{MockUserStore: f.store}
	f.svc.users = bulk

	affected, err := f.svc.ClearAllTrusted(context.Background(), Actor{ID: 99, Identifier: "admin@example.com"})

	require.NoError(t, err)
	assert.Equal(t, int64(5), affected)
	assert.Equal(t, 1, bulk.BulkCalls)
	assert.Equal(t, 0, f.store.Saves, "bulk path must not save rows one by one")
	for i := int64(1); i <= 5; i++ {
		assert.Equal(t, int64(1), f.store.Get(i).TrustedDeviceVersion())
	}
	for i := int64(6); i <= 8; i++ {
		assert.Equal(t, int64(0), f.store.Get(i).TrustedDeviceVersion())
	}

	require.Len(t, f.sink.Events, 1)
	assert.Equal(t, AuditCall{
		Text:   "TOTP trusted devices (all) cleared by admin@example.com - 5 users affected",
		Kind:   models.EventClearTrustedByAdmin,
		UserID: 99,
	}, f.sink.Events[0])
	assert.Equal(t, []int64{5}, f.metrics.Cleared)
}

func TestTOTPService_ClearAllTrusted_FallbackLoop(t *testing.T) {
	f := newTOTPFixture(t, seedMixedUsers()...)

	affected, err := f.svc.ClearAllTrusted(context.Background(), Actor{ID: 99, Identifier: "admin@example.com"})

	require.NoError(t, err)
	assert.Equal(t, int64(5), affected)
	assert.Equal(t, 5, f.store.Saves)
	for i := int64(1); i <= 5; i++ {
		assert.Equal(t, int64(1), f.store.Get(i).TrustedDeviceVersion())
	}
	assert.Equal(t, int64(0), f.store.Get(6).TrustedDeviceVersion())
}

func TestTOTPService_ClearAllTrusted_BulkError(t *testing.T) {
	f := newTOTPFixture(t, seedMixedUsers()...)
	f.svc.users = &MockBulkUserStore{
		MockUserStore: f.store,
		BulkFunc: func(ctx context.Context) (int64, error) {
			return 0, errors.New("deadlock detected")
		},
	}

	_, err := f.svc.ClearAllTrusted(context.Background(), Actor{ID: 99, Identifier: "admin"})

	assert.Error(t, err)
	assert.Empty(t, f.sink.Events)
}

func TestTOTPService_IsDeviceTrusted(t *testing.T) {
	u := newEnabledUser(1, "alice@example.com")
	u.ClearTrustedDevices()
	f := newTOTPFixture(t, u, &models.User{ID: 2, Email: "bob@example.com"})
	ctx := context.Background()

	ok, err := f.svc.IsDeviceTrusted(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsDeviceTrusted(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok, "token issued before the clear")

	require.NoError(t, f.svc.ClearTrusted(ctx, 1))
	ok, err = f.svc.IsDeviceTrusted(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.IsDeviceTrusted(ctx, 2, 0)
	require.NoError(t, err)
	assert.False(t, ok, "2FA disabled")

	ok, err = f.svc.IsDeviceTrusted(ctx, 404, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================================
// Login code verification
// ============================================================================

func TestTOTPService_VerifyCode(t *testing.T) {
	u := newEnabledUser(1, "alice@example.com")
	u.AddBackupCode("555555")
	f := newTOTPFixture(t, u)
	ctx := context.Background()

	method, err := f.svc.VerifyCode(ctx, 1, "123456")
	require.NoError(t, err)
	assert.Equal(t, VerifyMethodTOTP, method)

	method, err = f.svc.VerifyCode(ctx, 1, "555555")
	require.NoError(t, err)
	assert.Equal(t, VerifyMethodBackupCode, method)
	assert.Empty(t, f.store.Get(1).BackupCodes)

	_, err = f.svc.VerifyCode(ctx, 1, "555555")
	assert.ErrorIs(t, err, models.ErrInvalidCode, "backup codes are single use")

	assert.Equal(t, []string{"totp", "backup_code", "totp:fail"}, f.metrics.Codes)
}

func TestTOTPService_VerifyCode_NotEnabled(t *testing.T) {
	f := newTOTPFixture(t, &models.User{ID: 1, Email: "alice@example.com"})

	_, err := f.svc.VerifyCode(context.Background(), 1, "123456")
	assert.ErrorIs(t, err, models.ErrTOTPNotEnabled)
}

// ============================================================================
// Admin list
// ============================================================================

func TestTOTPService_ListUsers(t *testing.T) {
	f := newTOTPFixture(t, seedMixedUsers()...)

	page, err := f.svc.ListUsers(context.Background(), 3, 4)

	require.NoError(t, err)
	assert.Equal(t, int64(8), page.Total)
	require.Len(t, page.Users, 3)
	assert.Equal(t, int64(5), page.Users[0].ID)
	assert.True(t, page.Users[0].TOTPEnabled)
	assert.False(t, page.Users[1].TOTPEnabled)
	assert.True(t, page.Users[1].HasSecret)

	page, err = f.svc.ListUsers(context.Background(), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.Len(t, page.Users, 8)
}
