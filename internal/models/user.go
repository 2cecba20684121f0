package models

import (
	"time"
)

// Roles understood by the admin endpoints
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the slice of the host application's account the 2FA add-on reads and writes.
// Identity columns are owned by the host; only TOTPState is mutated here.
type User struct {
	ID        int64
	Email     string
	Name      string
	Role      string
	TOTPState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identifier is the human readable handle used in audit texts and flash messages
func (u *User) Identifier() string {
	return u.Email
}

// IsAdmin reports whether the user may manage other users' 2FA
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserTOTPSummary is the admin list row
type UserTOTPSummary struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	HasSecret       bool   `json:"has_secret"`
	TOTPEnabled     bool   `json:"totp_enabled"`
	TrustedVersion  int64  `json:"trusted_version"`
	BackupCodesLeft int    `json:"backup_codes_left"`
}

// Summary builds the admin list row for a user
func (u *User) Summary() UserTOTPSummary {
	return UserTOTPSummary{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		HasSecret:       u.HasSecret(),
		TOTPEnabled:     u.IsEnabled(),
		TrustedVersion:  u.TrustedDeviceVersion(),
		BackupCodesLeft: u.BackupCodeCount(),
	}
}
