package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/totpguard/internal/models"
)

// TOTPAuditLogger writes 2FA audit events as structured log records
type TOTPAuditLogger struct {
	logger *slog.Logger
}

// NewTOTPAuditLogger creates a new slog backed audit sink
func NewTOTPAuditLogger(logger *slog.Logger) *TOTPAuditLogger {
	return &TOTPAuditLogger{
		logger: logger,
	}
}

// Log records one 2FA event. Admin events are logged at warn level so they stand
// out in the stream.
func (al *TOTPAuditLogger) Log(ctx context.Context, text string, kind models.TOTPEvent, userID int64) error {
	attrs := []slog.Attr{
		slog.String("audit_type", "totp"),
		slog.String("event_type", kind.String()),
		slog.Int("event_code", int(kind)),
		slog.Int64("user_id", userID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	level := slog.LevelInfo
	if kind.ByAdmin() {
		level = slog.LevelWarn
	}

	al.logger.LogAttrs(ctx, level, text, attrs...)
	return nil
}

// LogRecoveryRequest records that a forgot-2FA email was requested. It is
// operational logging, not an audit event.
func (al *TOTPAuditLogger) LogRecoveryRequest(ctx context.Context, userID int64, email, clientAddress string, accepted bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "totp_recovery"),
		slog.Int64("user_id", userID),
		slog.String("ip_address", clientAddress),
		slog.Bool("accepted", accepted),
	}
	if email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(email)))
	}

	if accepted {
		al.logger.LogAttrs(ctx, slog.LevelInfo, "recovery link requested", attrs...)
	} else {
		al.logger.LogAttrs(ctx, slog.LevelWarn, "recovery link request rejected", attrs...)
	}
}
