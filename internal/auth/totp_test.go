package auth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	tm, err := NewTOTPManager("Totpguard")
	require.NoError(t, err)
	return tm
}

// ============================================================================
// Constructor Tests
// ============================================================================

func TestTOTPManager_NewTOTPManager_EmptyIssuer(t *testing.T) {
	tm, err := NewTOTPManager("")
	assert.Error(t, err)
	assert.Nil(t, tm)
}

// ============================================================================
// Secret and URI Tests
// ============================================================================

func TestTOTPManager_GenerateSecret_IsBase32(t *testing.T) {
	tm := newTestTOTPManager(t)

	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	raw, err := b32NoPadding.DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, raw, totpSecretSize)
}

func TestTOTPManager_GenerateSecret_Unique(t *testing.T) {
	tm := newTestTOTPManager(t)

	a, err := tm.GenerateSecret()
	require.NoError(t, err)
	b, err := tm.GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestTOTPManager_ProvisioningURI_CarriesSecretAndIssuer(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	uri, err := tm.ProvisioningURI("alice@example.com", secret)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))

	key, err := otp.NewKeyFromURL(uri)
	require.NoError(t, err)
	assert.Equal(t, secret, key.Secret())
	assert.Equal(t, "Totpguard", key.Issuer())
	assert.Equal(t, "alice@example.com", key.AccountName())

	parsed, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "30", parsed.Query().Get("period"))
}

func TestTOTPManager_ProvisioningURI_InvalidSecret(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, err := tm.ProvisioningURI("alice@example.com", "not base32 !!")
	assert.Error(t, err)
}

func TestTOTPManager_QRCodePNG(t *testing.T) {
	tm := newTestTOTPManager(t)

	png, err := tm.QRCodePNG("otpauth://totp/Totpguard:alice?secret=JBSWY3DPEHPK3PXP&issuer=Totpguard")
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestTOTPManager_ValidateCode_CurrentCode(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidateCode(secret, code)
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_ValidateCode_ClockSkew(t *testing.T) {
	tm := newTestTOTPManager(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return fixed }

	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	previous, err := totp.GenerateCode(secret, fixed.Add(-30*time.Second))
	require.NoError(t, err)
	valid, err := tm.ValidateCode(secret, previous)
	require.NoError(t, err)
	assert.True(t, valid, "one step back is accepted")

	stale, err := totp.GenerateCode(secret, fixed.Add(-5*time.Minute))
	require.NoError(t, err)
	valid, err = tm.ValidateCode(secret, stale)
	require.NoError(t, err)
	assert.False(t, valid, "codes outside the skew window are rejected")
}

func TestTOTPManager_ValidateCode_WrongLength(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	valid, err := tm.ValidateCode(secret, "123")
	assert.NoError(t, err)
	assert.False(t, valid)
}
