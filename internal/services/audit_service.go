package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/totpguard/internal/config"
	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/BradenHooton/totpguard/pkg/logger"
)

// AuditSink receives 2FA audit events. Implementations may fail; the AuditLogger
// decorator decides what a failure means.
type AuditSink interface {
	Log(ctx context.Context, text string, kind models.TOTPEvent, userID int64) error
}

// AuditLogRepository persists audit rows
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
}

// NoopAuditSink discards every event
type NoopAuditSink struct{}

func (NoopAuditSink) Log(ctx context.Context, text string, kind models.TOTPEvent, userID int64) error {
	return nil
}

// DatabaseAuditSink handles audit logging with dual-write pattern (slog + database)
type DatabaseAuditSink struct {
	repo   AuditLogRepository
	logger *slog.Logger
}

// NewDatabaseAuditSink creates a new DatabaseAuditSink
func NewDatabaseAuditSink(repo AuditLogRepository, logger *slog.Logger) *DatabaseAuditSink {
	return &DatabaseAuditSink{
		repo:   repo,
		logger: logger,
	}
}

// Log writes the event to the log stream, then persists it
func (s *DatabaseAuditSink) Log(ctx context.Context, text string, kind models.TOTPEvent, userID int64) error {
	s.logger.InfoContext(ctx, "audit event",
		slog.String("event_type", kind.String()),
		slog.Int64("user_id", userID),
		slog.String("message", text),
	)

	_, err := s.repo.Create(ctx, &models.AuditLog{
		EventType: kind,
		UserID:    userID,
		Message:   text,
		Metadata:  metadataFromContext(ctx),
	})
	if err != nil {
		return fmt.Errorf("failed to persist audit log: %w", err)
	}
	return nil
}

// NewAuditSink picks the sink for a TOTP_LOGGING_CLASS value
func NewAuditSink(class string, repo AuditLogRepository, log *slog.Logger) (AuditSink, error) {
	switch class {
	case "", config.LoggingClassNoop:
		return NoopAuditSink{}, nil
	case config.LoggingClassSlog:
		return logger.NewTOTPAuditLogger(log), nil
	case config.LoggingClassDatabase:
		if repo == nil {
			return nil, fmt.Errorf("%w: database audit sink needs a repository", models.ErrConfiguration)
		}
		return NewDatabaseAuditSink(repo, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown audit logging class %q", models.ErrConfiguration, class)
	}
}

type auditMetadataKey struct{}

// WithAuditMetadata attaches extra context persisted by sinks that support it
func WithAuditMetadata(ctx context.Context, metadata models.AuditMetadata) context.Context {
	return context.WithValue(ctx, auditMetadataKey{}, metadata)
}

func metadataFromContext(ctx context.Context) models.AuditMetadata {
	if m, ok := ctx.Value(auditMetadataKey{}).(models.AuditMetadata); ok {
		return m
	}
	return models.AuditMetadata{}
}

// AuditLogger decorates a sink with fault isolation. A sink failure never aborts the
// operation that produced the event: it is written to the error logger and reported
// as false. In development LogStrict additionally returns the failure.
type AuditLogger struct {
	sink        AuditSink
	errorLogger *slog.Logger
	development bool
	onLogged    func(kind models.TOTPEvent, ok bool)
}

// NewAuditLogger creates the decorator. A nil sink behaves like NoopAuditSink.
func NewAuditLogger(sink AuditSink, errorLogger *slog.Logger, development bool) *AuditLogger {
	if sink == nil {
		sink = NoopAuditSink{}
	}
	return &AuditLogger{
		sink:        sink,
		errorLogger: errorLogger,
		development: development,
	}
}

// OnLogged registers a callback run after every event, e.g. for metrics
func (a *AuditLogger) OnLogged(fn func(kind models.TOTPEvent, ok bool)) {
	a.onLogged = fn
}

// logToSink turns a panicking sink into an ordinary failure
func (a *AuditLogger) logToSink(ctx context.Context, text string, kind models.TOTPEvent, userID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panicked: %v", r)
		}
	}()
	return a.sink.Log(ctx, text, kind, userID)
}

// Log forwards the event and reports whether the sink accepted it
func (a *AuditLogger) Log(ctx context.Context, text string, kind models.TOTPEvent, userID int64) bool {
	ok, _ := a.LogStrict(ctx, text, kind, userID)
	return ok
}

// LogStrict is Log with the failure surfaced in development
func (a *AuditLogger) LogStrict(ctx context.Context, text string, kind models.TOTPEvent, userID int64) (bool, error) {
	err := a.logToSink(ctx, text, kind, userID)
	if a.onLogged != nil {
		a.onLogged(kind, err == nil)
	}
	if err == nil {
		return true, nil
	}

	a.errorLogger.ErrorContext(ctx, "audit sink failure",
		slog.String("event_type", kind.String()),
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)

	if a.development {
		return false, fmt.Errorf("%w: %v", models.ErrAuditSinkFailure, err)
	}
	return false, nil
}
