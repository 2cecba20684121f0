package models

import "slices"

const (
	// MaxBackupCodes caps how many unused backup codes an account can hold
	MaxBackupCodes = 10
	// DefaultBackupCodeDigits is the length of generated backup codes
	DefaultBackupCodeDigits = 6
)

// TOTPState is the 2FA part of an account: secret, enforcement flag, trusted-device
// version and the single-use backup codes. It is embedded in User and has no I/O.
//
// The state does no locking. Concurrent requests for the same account are serialized
// by the repository (one UPDATE per save), not here.
type TOTPState struct {
	Secret         *string  `json:"-"`
	Enabled        bool     `json:"totp_enabled"`
	TrustedVersion int64    `json:"trusted_version"`
	BackupCodes    []string `json:"-"`
}

// HasSecret reports whether a TOTP secret has been provisioned
func (s *TOTPState) HasSecret() bool {
	return s.Secret != nil && *s.Secret != ""
}

// SetSecret replaces the secret; nil discards it
func (s *TOTPState) SetSecret(secret *string) {
	if secret != nil && *secret == "" {
		secret = nil
	}
	s.Secret = secret
}

// IsEnabled is true only when 2FA is switched on and a secret exists
func (s *TOTPState) IsEnabled() bool {
	return s.Enabled && s.HasSecret()
}

// Enable switches 2FA on and starts with an empty backup code set.
// Returns false without touching the state when no secret was provisioned.
func (s *TOTPState) Enable() bool {
	if !s.HasSecret() {
		return false
	}

	s.Enabled = true
	s.ClearBackupCodes()
	return true
}

// Disable switches 2FA off, forgets trusted devices and backup codes.
// With reset the secret is discarded too, forcing a new QR enrollment.
func (s *TOTPState) Disable(reset bool) {
	s.Enabled = false
	s.TrustedVersion = 0
	s.ClearBackupCodes()
	if reset {
		s.SetSecret(nil)
	}
}

// ClearTrustedDevices invalidates every trusted-device token issued so far
func (s *TOTPState) ClearTrustedDevices() {
	s.TrustedVersion++
}

// TrustedDeviceVersion returns the version trusted-device tokens must carry
func (s *TOTPState) TrustedDeviceVersion() int64 {
	return s.TrustedVersion
}

// IsTrustedVersion reports whether a device token issued at version v is still valid
func (s *TOTPState) IsTrustedVersion(v int64) bool {
	return v == s.TrustedVersion
}

// AddBackupCode appends a code. Fails when the set is full or already holds the code.
func (s *TOTPState) AddBackupCode(code string) bool {
	if len(s.BackupCodes) >= MaxBackupCodes {
		return false
	}
	if slices.Contains(s.BackupCodes, code) {
		return false
	}

	s.BackupCodes = append(s.BackupCodes, code)
	return true
}

// ClearBackupCodes empties the backup code set
func (s *TOTPState) ClearBackupCodes() {
	s.BackupCodes = []string{}
}

// IsBackupCode checks membership; an unset code list counts as empty
func (s *TOTPState) IsBackupCode(code string) bool {
	if code == "" {
		return false
	}
	return slices.Contains(s.BackupCodes, code)
}

// InvalidateBackupCode removes a code if present
func (s *TOTPState) InvalidateBackupCode(code string) {
	idx := slices.Index(s.BackupCodes, code)
	if idx < 0 {
		return
	}
	s.BackupCodes = slices.Delete(s.BackupCodes, idx, idx+1)
}

// ConsumeBackupCode validates and burns a code in one step
func (s *TOTPState) ConsumeBackupCode(code string) bool {
	if !s.IsBackupCode(code) {
		return false
	}
	s.InvalidateBackupCode(code)
	return true
}

// BackupCodeCount returns the number of unused backup codes
func (s *TOTPState) BackupCodeCount() int {
	return len(s.BackupCodes)
}
