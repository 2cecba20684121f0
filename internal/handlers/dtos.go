package handlers

import (
	"github.com/BradenHooton/totpguard/internal/models"
	pkghttp "github.com/BradenHooton/totpguard/pkg/http"
)

// ManageResponse is the manage page model
type ManageResponse struct {
	User models.UserTOTPSummary `json:"user"`
	// BackupCodes is only present on the visit right after enabling
	BackupCodes []string `json:"backup_codes,omitempty"`
	QRCodeURL   string   `json:"qr_code_url,omitempty"`
	// CSRFTokens maps each form action on the page to its token
	CSRFTokens map[string]string `json:"csrf_tokens"`
	Flash      *pkghttp.Flash    `json:"flash,omitempty"`
}

// ForgotPageResponse is the model of the forgot page before the link is sent
type ForgotPageResponse struct {
	CSRFToken string         `json:"csrf_token"`
	Flash     *pkghttp.Flash `json:"flash,omitempty"`
}

// ForgotButtonResponse tells the 2FA prompt to show the forgot button
type ForgotButtonResponse struct {
	Enabled bool `json:"enabled"`
}

// CSRFTokenResponse carries a freshly issued action scoped token
type CSRFTokenResponse struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

// ListUsersQuery is the paging of the admin overview
type ListUsersQuery struct {
	Limit  int `validate:"gte=0,lte=100"`
	Offset int `validate:"gte=0"`
}

// DisableForm is posted by the disable buttons
type DisableForm struct {
	Reset bool
}

// ClearTrustedForm is posted by the clear trusted devices button
type ClearTrustedForm struct {
	AllUsers bool
}
