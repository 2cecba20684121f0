package auth

import (
	"encoding/base32"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20
	qrCodeSize     = 200
)

var b32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPManager wraps the TOTP library: secret generation, provisioning URIs,
// QR images and code validation. It holds no per-user state.
type TOTPManager struct {
	issuer string
	now    func() time.Time
}

// NewTOTPManager creates a new TOTP manager for the given issuer label
func NewTOTPManager(issuer string) (*TOTPManager, error) {
	if issuer == "" {
		return nil, fmt.Errorf("TOTP issuer must not be empty")
	}

	return &TOTPManager{
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// GenerateSecret creates a new base32 TOTP secret
func (tm *TOTPManager) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: "user",
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return key.Secret(), nil
}

// ProvisioningURI builds the otpauth:// URI an authenticator app scans
func (tm *TOTPManager) ProvisioningURI(accountName, secret string) (string, error) {
	raw, err := b32NoPadding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("stored TOTP secret is not base32: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		Secret:      raw,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning URI: %w", err)
	}

	return key.URL(), nil
}

// QRCodePNG renders a provisioning URI as a PNG image
func (tm *TOTPManager) QRCodePNG(uri string) ([]byte, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// ValidateCode checks a 6-digit code against a secret.
// Allows ±1 time step for clock drift.
func (tm *TOTPManager) ValidateCode(secret, code string) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, tm.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// Malformed input is a wrong code, not a server failure
		if err == otp.ErrValidateInputInvalidLength {
			return false, nil
		}
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	return valid, nil
}
